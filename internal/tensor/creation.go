package tensor

import "fmt"

// FromSlice creates a dense RawTensor from a flat data slice.
// The slice length must match the shape's element count; data is copied.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	var dummy T
	dtype := inferDataType(dummy)

	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}

	raw, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case Float32:
		copy(raw.AsFloat32(), any(data).([]float32))
	case Float64:
		copy(raw.AsFloat64(), any(data).([]float64))
	case Int32:
		copy(raw.AsInt32(), any(data).([]int32))
	case Int64:
		copy(raw.AsInt64(), any(data).([]int64))
	}
	return raw, nil
}

// Zeros creates a dense zero-filled RawTensor.
func Zeros(shape Shape, dtype DataType) (*RawTensor, error) {
	return NewRaw(shape, dtype)
}

// Full creates a dense RawTensor filled with the given value.
func Full[T DType](shape Shape, value T) (*RawTensor, error) {
	data := make([]T, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return FromSlice(data, shape)
}
