package autograd

import (
	"fmt"
	"sync"

	"github.com/grail-ml/grail/internal/tensor"
)

// AccumulateNode is the terminal node reached when backpropagation
// arrives at a leaf variable. It folds incoming gradient contributions
// into the variable's persistent gradient slot, serializing concurrent
// workers with a per-node lock. Created once per leaf and long-lived.
type AccumulateNode struct {
	variable  *Variable
	mu        sync.Mutex
	postHook  PostAccHook
	inputMeta []tensor.Shape
}

// newAccumulateNode attaches an accumulation node to a leaf variable,
// recording the variable's shape as input metadata for slot 0.
func newAccumulateNode(v *Variable) *AccumulateNode {
	meta := tensor.Shape(nil)
	if v.data != nil {
		meta = v.data.Shape().Clone()
	}
	return &AccumulateNode{
		variable:  v,
		inputMeta: []tensor.Shape{meta},
	}
}

// Variable returns the leaf this node accumulates into.
func (n *AccumulateNode) Variable() *Variable {
	return n.variable
}

// InputMetadata returns the shape recorded for input slot i.
func (n *AccumulateNode) InputMetadata(i int) tensor.Shape {
	return n.inputMeta[i]
}

// Apply folds the single incoming contribution into the leaf's gradient
// slot. It is terminal: the returned gradient list is always empty.
//
// A nil contribution is a legitimate no-op (zero gradient flowing in), as
// is a leaf that does not require gradients. A leaf that has acquired a
// grad_fn is a graph-construction bug and fails the backward pass.
//
// Hooks are not covered by the node lock; registrants must make them
// thread-safe themselves.
func (n *AccumulateNode) Apply(grads []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(grads) != 1 {
		return nil, fmt.Errorf("accumulate: got %d contributions, want 1: %w", len(grads), ErrInvalidArity)
	}
	incoming := grads[0]
	if incoming == nil {
		return nil, nil
	}
	if n.variable.gradFn != nil {
		return nil, fmt.Errorf("accumulate: %w", ErrGraphIntegrity)
	}
	if !n.variable.requiresGrad {
		return nil, nil
	}

	n.mu.Lock()
	hook := n.postHook

	// One reference for the accumulation step itself, plus one for the
	// temporary reference the scheduler holds while a post hook is
	// pending. Stealing the contribution is only safe below this bound.
	expectedRefs := 1
	if hook != nil {
		expectedRefs++
	}

	err := Accumulate(n.variable.grad, incoming, expectedRefs, func(g *tensor.RawTensor) {
		n.variable.grad = g
	})
	n.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("accumulate: %w", err)
	}

	if hook != nil {
		hook(n.variable)
	}
	return nil, nil
}
