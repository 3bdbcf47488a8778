package tensor

import (
	"fmt"

	"github.com/grail-ml/grail/internal/parallel"
)

// Add computes a + b into a freshly allocated tensor. Shapes follow
// broadcasting rules, dtypes promote to the wider type, and sparse
// operands combine via scatter-add instead of a generic dense kernel.
// The result is always dense and exclusively owned by the caller.
func Add(a, b *RawTensor) (*RawTensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("add: nil operand")
	}

	if a.layout == SparseCOO || b.layout == SparseCOO {
		return addSparse(a, b)
	}

	outType := Promote(a.dtype, b.dtype)
	outShape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}

	ac, err := castOrSelf(a, outType)
	if err != nil {
		return nil, err
	}
	bc, err := castOrSelf(b, outType)
	if err != nil {
		return nil, err
	}

	result, err := NewRaw(outShape, outType)
	if err != nil {
		return nil, err
	}

	switch outType {
	case Float32:
		addDense(ac.AsFloat32(), bc.AsFloat32(), result.AsFloat32(), ac.shape, bc.shape, outShape)
	case Float64:
		addDense(ac.AsFloat64(), bc.AsFloat64(), result.AsFloat64(), ac.shape, bc.shape, outShape)
	case Int32:
		addDense(ac.AsInt32(), bc.AsInt32(), result.AsInt32(), ac.shape, bc.shape, outShape)
	case Int64:
		addDense(ac.AsInt64(), bc.AsInt64(), result.AsInt64(), ac.shape, bc.shape, outShape)
	}
	return result, nil
}

// AddInto accumulates src into dst in place: dst += src. The destination
// must be dense and at least as wide as the source dtype, and the source
// shape must broadcast to the destination shape. Callers are responsible
// for holding the only mutable reference to dst.
func AddInto(dst, src *RawTensor) error {
	if dst == nil || src == nil {
		return fmt.Errorf("add-into: nil operand")
	}
	if dst.layout != Dense {
		return fmt.Errorf("add-into: destination layout is %s, need dense", dst.layout)
	}
	if Promote(dst.dtype, src.dtype) != dst.dtype {
		return fmt.Errorf("add-into: cannot accumulate %s into %s without widening", src.dtype, dst.dtype)
	}

	srcCast, err := castOrSelf(src, dst.dtype)
	if err != nil {
		return err
	}

	if srcCast.layout == SparseCOO {
		return scatterAdd(dst, srcCast)
	}

	if !srcCast.shape.BroadcastsTo(dst.shape) {
		return fmt.Errorf("add-into: source shape %v does not broadcast to destination %v",
			src.shape, dst.shape)
	}

	switch dst.dtype {
	case Float32:
		addIntoDense(dst.AsFloat32(), srcCast.AsFloat32(), dst.shape, srcCast.shape)
	case Float64:
		addIntoDense(dst.AsFloat64(), srcCast.AsFloat64(), dst.shape, srcCast.shape)
	case Int32:
		addIntoDense(dst.AsInt32(), srcCast.AsInt32(), dst.shape, srcCast.shape)
	case Int64:
		addIntoDense(dst.AsInt64(), srcCast.AsInt64(), dst.shape, srcCast.shape)
	}
	return nil
}

// addSparse handles the layout-aware combinations. Sparse operands must
// match the result shape exactly; gradients never broadcast a sparse side.
func addSparse(a, b *RawTensor) (*RawTensor, error) {
	if !a.shape.Equal(b.shape) {
		return nil, fmt.Errorf("add: sparse operands require equal shapes, got %v vs %v", a.shape, b.shape)
	}
	outType := Promote(a.dtype, b.dtype)

	// Start from the dense side (densified and widened), then scatter the
	// sparse side in. Two sparse operands scatter into fresh zeros.
	var result *RawTensor
	var err error
	switch {
	case a.layout == Dense:
		result, err = widenedDenseCopy(a, outType)
	case b.layout == Dense:
		result, err = widenedDenseCopy(b, outType)
	default:
		result, err = NewRaw(a.shape, outType)
	}
	if err != nil {
		return nil, err
	}

	for _, t := range []*RawTensor{a, b} {
		if t.layout != SparseCOO {
			continue
		}
		tc, err := castOrSelf(t, outType)
		if err != nil {
			return nil, err
		}
		if err := scatterAdd(result, tc); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// widenedDenseCopy returns an exclusively owned dense copy of x at dtype.
func widenedDenseCopy(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x.dtype == dtype {
		return x.DeepClone(), nil
	}
	return Cast(x, dtype)
}

// Cast converts a tensor to another dtype, allocating a new buffer.
// Sparse layout and indices are preserved.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("cast: nil tensor")
	}

	out := &RawTensor{
		buffer:  newTensorBuffer(x.NumStored() * dtype.Size()),
		shape:   x.shape.Clone(),
		stride:  append([]int(nil), x.stride...),
		dtype:   dtype,
		layout:  x.layout,
		indices: append([]int64(nil), x.indices...),
	}

	switch x.dtype {
	case Float32:
		castValues(x.AsFloat32(), out)
	case Float64:
		castValues(x.AsFloat64(), out)
	case Int32:
		castValues(x.AsInt32(), out)
	case Int64:
		castValues(x.AsInt64(), out)
	}
	return out, nil
}

// Expand materializes x broadcast to the target shape as a new dense
// tensor. Returns x unchanged when the shape already matches.
func Expand(x *RawTensor, target Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("expand: nil tensor")
	}
	if x.shape.Equal(target) {
		return x, nil
	}
	if x.layout != Dense {
		return nil, fmt.Errorf("expand: only dense tensors can be broadcast, got %s", x.layout)
	}
	if !x.shape.BroadcastsTo(target) {
		return nil, fmt.Errorf("expand: shape %v does not broadcast to %v", x.shape, target)
	}

	result, err := NewRaw(target, x.dtype)
	if err != nil {
		return nil, err
	}
	switch x.dtype {
	case Float32:
		addIntoDense(result.AsFloat32(), x.AsFloat32(), target, x.shape)
	case Float64:
		addIntoDense(result.AsFloat64(), x.AsFloat64(), target, x.shape)
	case Int32:
		addIntoDense(result.AsInt32(), x.AsInt32(), target, x.shape)
	case Int64:
		addIntoDense(result.AsInt64(), x.AsInt64(), target, x.shape)
	}
	return result, nil
}

// castOrSelf returns x itself when it already has the requested dtype.
func castOrSelf(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x.dtype == dtype {
		return x, nil
	}
	return Cast(x, dtype)
}

// castValues converts a typed source slice into the destination tensor's
// typed view.
func castValues[T DType](src []T, dst *RawTensor) {
	switch dst.dtype {
	case Float32:
		out := dst.AsFloat32()
		for i, v := range src {
			out[i] = float32(v)
		}
	case Float64:
		out := dst.AsFloat64()
		for i, v := range src {
			out[i] = float64(v)
		}
	case Int32:
		out := dst.AsInt32()
		for i, v := range src {
			out[i] = int32(v)
		}
	case Int64:
		out := dst.AsInt64()
		for i, v := range src {
			out[i] = int64(v)
		}
	}
}

// addDense computes out[i] = a[i'] + b[i'] with broadcast-aware indexing.
// The fast path (no broadcasting) runs a flat loop through the parallel
// chunker; the broadcast path recomputes source offsets per element.
func addDense[T DType](a, b, out []T, aShape, bShape, outShape Shape) {
	cfg := parallel.DefaultConfig()
	if aShape.Equal(outShape) && bShape.Equal(outShape) {
		parallel.For(len(out), func(i int) {
			out[i] = a[i] + b[i]
		}, cfg)
		return
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)
	parallel.For(len(out), func(i int) {
		ai, bi := 0, 0
		rem := i
		for d := 0; d < len(outShape); d++ {
			idx := rem / outStrides[d]
			rem %= outStrides[d]
			ai += idx * aStrides[d]
			bi += idx * bStrides[d]
		}
		out[i] = a[ai] + b[bi]
	}, cfg)
}

// addIntoDense accumulates src into dst in place, broadcasting src.
func addIntoDense[T DType](dst, src []T, dstShape, srcShape Shape) {
	cfg := parallel.DefaultConfig()
	if srcShape.Equal(dstShape) {
		parallel.For(len(dst), func(i int) {
			dst[i] += src[i]
		}, cfg)
		return
	}

	dstStrides := dstShape.ComputeStrides()
	srcStrides := broadcastStrides(srcShape, dstShape)
	parallel.For(len(dst), func(i int) {
		si := 0
		rem := i
		for d := 0; d < len(dstShape); d++ {
			idx := rem / dstStrides[d]
			rem %= dstStrides[d]
			si += idx * srcStrides[d]
		}
		dst[i] += src[si]
	}, cfg)
}

// broadcastStrides returns per-output-dimension strides into a source
// shape, right-aligned, with stride 0 for broadcast (size-1 or missing)
// dimensions.
func broadcastStrides(src, out Shape) []int {
	srcStrides := src.ComputeStrides()
	strides := make([]int, len(out))
	for i := 0; i < len(out); i++ {
		srcIdx := len(src) - len(out) + i
		if srcIdx < 0 || src[srcIdx] == 1 {
			strides[i] = 0
		} else {
			strides[i] = srcStrides[srcIdx]
		}
	}
	return strides
}
