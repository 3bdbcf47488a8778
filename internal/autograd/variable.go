package autograd

import "github.com/grail-ml/grail/internal/tensor"

// Variable is a value tracked by the autograd graph. A leaf variable has
// no producing node (grad_fn is nil) and owns a persistent gradient slot
// that contributions are folded into, one backward pass at a time. The
// slot is guarded by the variable's accumulation node, which serializes
// concurrent workers targeting the same leaf.
type Variable struct {
	data         *tensor.RawTensor
	requiresGrad bool
	gradFn       Node
	grad         *tensor.RawTensor // guarded by node.mu while node != nil
	node         *AccumulateNode
}

// NewLeaf creates a leaf variable and attaches its accumulation node.
// The node is long-lived for the variable's lifetime; the gradient slot
// starts undefined and becomes defined on first accumulation.
func NewLeaf(data *tensor.RawTensor, requiresGrad bool) *Variable {
	v := &Variable{
		data:         data,
		requiresGrad: requiresGrad,
	}
	v.node = newAccumulateNode(v)
	return v
}

// Data returns the variable's value tensor.
func (v *Variable) Data() *tensor.RawTensor {
	return v.data
}

// RequiresGrad reports whether gradients are computed for this variable.
func (v *Variable) RequiresGrad() bool {
	return v.requiresGrad
}

// GradFn returns the node that produced this variable, or nil for leaves.
func (v *Variable) GradFn() Node {
	return v.gradFn
}

// SetGradFn moves the variable into the graph interior. Once set, the
// variable may no longer receive direct accumulation.
func (v *Variable) SetGradFn(fn Node) {
	v.gradFn = fn
}

// Accumulator returns the accumulation node guarding this variable's
// gradient slot.
func (v *Variable) Accumulator() *AccumulateNode {
	return v.node
}

// Grad returns the accumulated gradient, or nil if none has been
// accumulated yet.
func (v *Variable) Grad() *tensor.RawTensor {
	if v.node == nil {
		return v.grad
	}
	v.node.mu.Lock()
	defer v.node.mu.Unlock()
	return v.grad
}

// SetGrad replaces the gradient slot, taking ownership of g. Passing nil
// clears the slot.
func (v *Variable) SetGrad(g *tensor.RawTensor) {
	if v.node == nil {
		v.grad = g
		return
	}
	v.node.mu.Lock()
	defer v.node.mu.Unlock()
	v.grad = g
}

// ZeroGrad clears the gradient slot. Typically called by the optimizer
// between training iterations.
func (v *Variable) ZeroGrad() {
	v.SetGrad(nil)
}
