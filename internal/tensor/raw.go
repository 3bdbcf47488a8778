package tensor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Layout describes how a tensor's elements are stored.
type Layout int

// Supported storage layouts.
const (
	// Dense is contiguous row-major storage.
	Dense Layout = iota
	// SparseCOO stores only nonzero elements as (flat index, value) pairs.
	SparseCOO
)

// String returns a human-readable layout name.
func (l Layout) String() string {
	switch l {
	case Dense:
		return "dense"
	case SparseCOO:
		return "sparse_coo"
	default:
		return "unknown"
	}
}

// tensorBuffer is a reference-counted shared buffer. It enables cheap
// cloning, and lets holders prove exclusivity before mutating in place.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

// newTensorBuffer creates a new reference-counted buffer with refCount = 1.
func newTensorBuffer(size int) *tensorBuffer {
	buf := &tensorBuffer{
		data: make([]byte, size),
	}
	buf.refCount.Store(1)
	return buf
}

// addRef increments the reference count (for Clone operations).
func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

// release decrements the reference count and deallocates if it reaches 0.
func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

// refs returns the current number of live references to the buffer.
func (tb *tensorBuffer) refs() int {
	return int(tb.refCount.Load())
}

// RawTensor is the low-level tensor representation: a reference-counted
// byte buffer tagged with shape, dtype, and layout. A nil *RawTensor is
// the undefined value; an absent gradient is represented by nil.
type RawTensor struct {
	buffer  *tensorBuffer
	shape   Shape
	stride  []int
	dtype   DataType
	layout  Layout
	indices []int64 // flat element positions, SparseCOO only
}

// NewRaw creates a dense RawTensor with the given shape and type.
// Memory is allocated zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		buffer: newTensorBuffer(shape.NumElements() * dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		layout: Dense,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Layout returns the tensor's storage layout.
func (r *RawTensor) Layout() Layout {
	return r.layout
}

// NumElements returns the logical number of elements (the shape's volume,
// regardless of layout).
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// NumStored returns the number of physically stored elements. For dense
// tensors this equals NumElements; for sparse tensors it is the number of
// nonzero entries.
func (r *RawTensor) NumStored() int {
	if r.layout == SparseCOO {
		return len(r.indices)
	}
	return r.NumElements()
}

// Indices returns the flat element positions of stored values.
// Only meaningful for SparseCOO tensors.
func (r *RawTensor) Indices() []int64 {
	return r.indices
}

// Data returns the raw byte slice of stored values.
func (r *RawTensor) Data() []byte {
	return r.buffer.data
}

// AsFloat32 interprets the stored values as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	if len(r.buffer.data) == 0 {
		return nil
	}
	//nolint:gosec // zero-copy reinterpretation, bounds checked by NumStored()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.buffer.data[0])), r.NumStored())
}

// AsFloat64 interprets the stored values as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	if len(r.buffer.data) == 0 {
		return nil
	}
	//nolint:gosec // zero-copy reinterpretation, bounds checked by NumStored()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.buffer.data[0])), r.NumStored())
}

// AsInt32 interprets the stored values as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	if len(r.buffer.data) == 0 {
		return nil
	}
	//nolint:gosec // zero-copy reinterpretation, bounds checked by NumStored()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.buffer.data[0])), r.NumStored())
}

// AsInt64 interprets the stored values as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	if len(r.buffer.data) == 0 {
		return nil
	}
	//nolint:gosec // zero-copy reinterpretation, bounds checked by NumStored()
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.buffer.data[0])), r.NumStored())
}

// Clone creates a shallow copy sharing the underlying buffer, bumping the
// reference count. Mutating either copy in place is only safe once the
// holder has re-established exclusivity (IsUnique).
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer:  r.buffer,
		shape:   r.shape.Clone(),
		stride:  append([]int(nil), r.stride...),
		dtype:   r.dtype,
		layout:  r.layout,
		indices: r.indices,
	}
}

// DeepClone creates an independent copy with its own freshly allocated
// buffer (refCount = 1).
func (r *RawTensor) DeepClone() *RawTensor {
	buf := newTensorBuffer(len(r.buffer.data))
	copy(buf.data, r.buffer.data)
	return &RawTensor{
		buffer:  buf,
		shape:   r.shape.Clone(),
		stride:  append([]int(nil), r.stride...),
		dtype:   r.dtype,
		layout:  r.layout,
		indices: append([]int64(nil), r.indices...),
	}
}

// Release decrements the reference count and deallocates at zero.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// Refs returns the number of live references to the underlying buffer.
// The accumulation policy compares this against the caller-supplied
// expected count to decide whether in-place mutation is safe.
func (r *RawTensor) Refs() int {
	return r.buffer.refs()
}

// IsUnique reports whether this tensor is the only reference to its
// buffer, enabling in-place mutation.
func (r *RawTensor) IsUnique() bool {
	return r.buffer.refs() == 1
}

// SharesBufferWith reports whether two tensors are views of the same
// underlying storage. Used by tests to verify adoption vs. copy decisions.
func (r *RawTensor) SharesBufferWith(other *RawTensor) bool {
	return other != nil && r.buffer == other.buffer
}

// ForceNonUnique temporarily increases the reference count to prevent
// in-place mutation elsewhere. Returns a cleanup function that MUST be
// called to restore the count (use defer).
func (r *RawTensor) ForceNonUnique() func() {
	r.buffer.addRef()
	return func() {
		r.buffer.release()
	}
}
