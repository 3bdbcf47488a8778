// Copyright 2026 Grail ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for Grail's tensor substrate.
//
// The package exposes the reference-counted buffer type the gradient
// accumulation engine operates on:
//   - RawTensor: refcounted numeric buffer with shape, dtype, and layout
//   - Shape, DataType, Layout: core type definitions
//   - Add, AddInto, Cast, Expand: the arithmetic the accumulator needs
//
// Example:
//
//	g, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2})
//	c, _ := tensor.FromSlice([]float32{3, 4}, tensor.Shape{2})
//	sum, _ := tensor.Add(g, c)
package tensor

import (
	"github.com/grail-ml/grail/internal/tensor"
)

// DType is a constraint for tensor element types.
// Supported types: float32, float64, int32, int64.
type DType = tensor.DType

// DataType represents runtime type information for tensors.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
	Int32   = tensor.Int32
	Int64   = tensor.Int64
)

// Promote returns the dtype the result of combining a and b must carry.
func Promote(a, b DataType) DataType {
	return tensor.Promote(a, b)
}

// Layout describes how a tensor's elements are stored.
type Layout = tensor.Layout

// Supported storage layouts.
const (
	Dense     = tensor.Dense
	SparseCOO = tensor.SparseCOO
)

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// BroadcastShapes applies NumPy-style broadcasting rules to two shapes.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}

// RawTensor is the reference-counted buffer type. A nil *RawTensor is the
// undefined value.
type RawTensor = tensor.RawTensor

// NewRaw creates a dense zero-initialized tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice creates a dense tensor from a flat data slice.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a dense zero-filled tensor.
func Zeros(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.Zeros(shape, dtype)
}

// Full creates a dense tensor filled with value.
func Full[T DType](shape Shape, value T) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// NewSparseCOO creates a sparse tensor from flat indices and values.
func NewSparseCOO[T DType](shape Shape, indices []int64, values []T) (*RawTensor, error) {
	return tensor.NewSparseCOO(shape, indices, values)
}

// Add computes a + b into a fresh tensor with broadcasting, dtype
// promotion, and layout-aware sparse handling.
func Add(a, b *RawTensor) (*RawTensor, error) {
	return tensor.Add(a, b)
}

// AddInto accumulates src into dst in place.
func AddInto(dst, src *RawTensor) error {
	return tensor.AddInto(dst, src)
}

// Cast converts a tensor to another dtype.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	return tensor.Cast(x, dtype)
}

// Expand materializes x broadcast to the target shape.
func Expand(x *RawTensor, target Shape) (*RawTensor, error) {
	return tensor.Expand(x, target)
}
