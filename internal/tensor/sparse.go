package tensor

import (
	"fmt"
	"sort"
)

// NewSparseCOO creates a sparse RawTensor from flat element positions and
// their values. Indices must be in-bounds for the shape; duplicates are
// allowed and sum on densification. Values are copied.
//
// Only floating-point sparse tensors are supported: sparse layouts exist
// here to carry gradient contributions, which are always floats.
func NewSparseCOO[T DType](shape Shape, indices []int64, values []T) (*RawTensor, error) {
	var dummy T
	dtype := inferDataType(dummy)
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("sparse tensors require a float dtype, got %s", dtype)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(indices) != len(values) {
		return nil, fmt.Errorf("index count %d does not match value count %d", len(indices), len(values))
	}
	n := int64(shape.NumElements())
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("sparse index %d out of range for shape %v", idx, shape)
		}
	}

	buf := newTensorBuffer(len(values) * dtype.Size())
	r := &RawTensor{
		buffer:  buf,
		shape:   shape.Clone(),
		stride:  shape.ComputeStrides(),
		dtype:   dtype,
		layout:  SparseCOO,
		indices: append([]int64(nil), indices...),
	}
	switch dtype {
	case Float32:
		copy(r.AsFloat32(), any(values).([]float32))
	case Float64:
		copy(r.AsFloat64(), any(values).([]float64))
	}
	return r, nil
}

// ToDense materializes a dense copy of the tensor. Dense inputs are
// deep-copied so the result is always exclusively owned.
func (r *RawTensor) ToDense() (*RawTensor, error) {
	if r.layout == Dense {
		return r.DeepClone(), nil
	}
	dense, err := NewRaw(r.shape, r.dtype)
	if err != nil {
		return nil, err
	}
	if err := scatterAdd(dense, r); err != nil {
		return nil, err
	}
	return dense, nil
}

// Coalesced returns the stored (index, value) pairs sorted by index with
// duplicates summed. Used by tests and diagnostics; accumulation itself
// scatters without coalescing.
func Coalesced(r *RawTensor) ([]int64, []float64, error) {
	if r.layout != SparseCOO {
		return nil, nil, fmt.Errorf("coalesce: tensor is %s, not sparse", r.layout)
	}
	sums := make(map[int64]float64, len(r.indices))
	switch r.dtype {
	case Float32:
		vals := r.AsFloat32()
		for i, idx := range r.indices {
			sums[idx] += float64(vals[i])
		}
	case Float64:
		vals := r.AsFloat64()
		for i, idx := range r.indices {
			sums[idx] += vals[i]
		}
	}
	keys := make([]int64, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = sums[k]
	}
	return keys, out, nil
}

// scatterAdd folds the stored values of a sparse tensor into a dense
// destination of the same shape. The destination dtype must already be
// wide enough to hold the source values.
func scatterAdd(dst, src *RawTensor) error {
	if dst.layout != Dense || src.layout != SparseCOO {
		return fmt.Errorf("scatter-add: need dense destination and sparse source, got %s / %s",
			dst.layout, src.layout)
	}
	if !dst.shape.Equal(src.shape) {
		return fmt.Errorf("scatter-add: shape mismatch %v vs %v", dst.shape, src.shape)
	}
	if Promote(dst.dtype, src.dtype) != dst.dtype {
		return fmt.Errorf("scatter-add: cannot fold %s values into %s destination", src.dtype, dst.dtype)
	}

	switch dst.dtype {
	case Float32:
		out := dst.AsFloat32()
		vals := src.AsFloat32()
		for i, idx := range src.indices {
			out[idx] += vals[i]
		}
	case Float64:
		out := dst.AsFloat64()
		switch src.dtype {
		case Float32:
			vals := src.AsFloat32()
			for i, idx := range src.indices {
				out[idx] += float64(vals[i])
			}
		case Float64:
			vals := src.AsFloat64()
			for i, idx := range src.indices {
				out[idx] += vals[i]
			}
		}
	default:
		return fmt.Errorf("scatter-add: unsupported destination dtype %s", dst.dtype)
	}
	return nil
}
