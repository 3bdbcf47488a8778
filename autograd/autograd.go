// Copyright 2026 Grail ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autograd provides leaf-gradient accumulation for reverse-mode
// automatic differentiation.
//
// An AccumulateNode is the terminal node backpropagation reaches at a
// trainable input with no predecessors. It folds each incoming gradient
// contribution into the leaf's persistent gradient slot, choosing between
// adopting the contribution's buffer, adding in place, or allocating a
// fresh sum based on an expected-reference-count hint.
//
// Example:
//
//	data, _ := tensor.FromSlice([]float32{0, 0}, tensor.Shape{2})
//	leaf := autograd.NewLeaf(data, true)
//
//	contrib, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2})
//	_, err := leaf.Accumulator().Apply([]*tensor.RawTensor{contrib})
//	// leaf.Grad() == [1, 2]
package autograd

import (
	"github.com/grail-ml/grail/internal/autograd"
	"github.com/grail-ml/grail/internal/tensor"
)

// Variable is a value tracked by the autograd graph.
type Variable = autograd.Variable

// NewLeaf creates a leaf variable with an attached accumulation node.
func NewLeaf(data *tensor.RawTensor, requiresGrad bool) *Variable {
	return autograd.NewLeaf(data, requiresGrad)
}

// Node is one step of the backward graph.
type Node = autograd.Node

// AccumulateNode folds gradient contributions into a leaf's slot.
type AccumulateNode = autograd.AccumulateNode

// PostAccHook observes a leaf after a successful accumulation.
type PostAccHook = autograd.PostAccHook

// Action is the accumulation decision for one incoming contribution.
type Action = autograd.Action

// Possible accumulation actions.
const (
	ActionAdopt           = autograd.ActionAdopt
	ActionAddIntoIncoming = autograd.ActionAddIntoIncoming
	ActionAddIntoExisting = autograd.ActionAddIntoExisting
	ActionAllocateSum     = autograd.ActionAllocateSum
)

// RefsAliasingDisabled forbids buffer reuse in the accumulation policy.
const RefsAliasingDisabled = autograd.RefsAliasingDisabled

// Decide picks the accumulation action for an incoming contribution.
func Decide(existing, incoming *tensor.RawTensor, expectedRefs int) Action {
	return autograd.Decide(existing, incoming, expectedRefs)
}

// Accumulate folds incoming into existing and hands the result to update.
func Accumulate(existing, incoming *tensor.RawTensor, expectedRefs int, update func(*tensor.RawTensor)) error {
	return autograd.Accumulate(existing, incoming, expectedRefs, update)
}

// CaptureContext collects the replay inputs of a compiled trace.
type CaptureContext = autograd.CaptureContext

// NewCaptureContext creates an empty capture context.
func NewCaptureContext() *CaptureContext {
	return autograd.NewCaptureContext()
}

// CaptureInput is one tensor a compiled trace receives at replay time.
type CaptureInput = autograd.CaptureInput

// SavedVariables is the placeholder indirection used by trace replay.
type SavedVariables = autograd.SavedVariables

// NewSavedVariables creates an empty saved-variable set.
func NewSavedVariables() *SavedVariables {
	return autograd.NewSavedVariables()
}

// Engine executes ready backward nodes across worker goroutines.
type Engine = autograd.Engine

// NewEngine creates an engine with the given worker count.
func NewEngine(workers int) *Engine {
	return autograd.NewEngine(workers)
}

// Task pairs a ready node with its incoming contribution.
type Task = autograd.Task

// Failure taxonomy; see the internal package for semantics.
var (
	ErrInvalidArity       = autograd.ErrInvalidArity
	ErrGraphIntegrity     = autograd.ErrGraphIntegrity
	ErrUnsupportedFeature = autograd.ErrUnsupportedFeature
)
