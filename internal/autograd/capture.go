package autograd

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/grail-ml/grail/internal/tensor"
)

// CaptureInput is one tensor a compiled trace must receive at replay
// time, together with the shape its placeholder is constrained to.
type CaptureInput struct {
	ID       uuid.UUID
	Source   *tensor.RawTensor // live tensor at capture time, may be nil
	Required tensor.Shape
}

// CaptureContext collects the replay inputs of the nodes in a trace.
// It is the instruction stream a compiled execution pipeline consumes
// instead of running nodes eagerly.
type CaptureContext struct {
	inputs []CaptureInput
}

// NewCaptureContext creates an empty capture context.
func NewCaptureContext() *CaptureContext {
	return &CaptureContext{}
}

// Collect registers a tensor as a replay input with a required shape and
// returns the instruction id assigned to it.
func (c *CaptureContext) Collect(t *tensor.RawTensor, required tensor.Shape) uuid.UUID {
	id := uuid.New()
	c.inputs = append(c.inputs, CaptureInput{ID: id, Source: t, Required: required})
	return id
}

// Inputs returns the collected replay inputs in capture order.
func (c *CaptureContext) Inputs() []CaptureInput {
	return c.inputs
}

// SavedVariables is the indirection between a compiled trace and the live
// graph: it substitutes placeholder tensors for the ones captured at
// trace time, and routes gradient assignment through the pipeline instead
// of mutating the slot directly.
type SavedVariables struct {
	swaps  map[*tensor.RawTensor]*tensor.RawTensor
	assign func(v *Variable, g *tensor.RawTensor)
}

// NewSavedVariables creates an empty saved-variable set. Without swaps or
// an assignment override it degenerates to direct execution, which is what
// the replay-equivalence tests rely on.
func NewSavedVariables() *SavedVariables {
	return &SavedVariables{swaps: make(map[*tensor.RawTensor]*tensor.RawTensor)}
}

// Swap substitutes replacement for orig whenever orig is unpacked.
func (s *SavedVariables) Swap(orig, replacement *tensor.RawTensor) {
	s.swaps[orig] = replacement
}

// Unpack resolves a captured tensor to its replay-time value.
func (s *SavedVariables) Unpack(t *tensor.RawTensor) *tensor.RawTensor {
	if t == nil {
		return nil
	}
	if repl, ok := s.swaps[t]; ok {
		return repl
	}
	return t
}

// OnAssignGrad overrides how replayed gradients reach the variable.
func (s *SavedVariables) OnAssignGrad(fn func(v *Variable, g *tensor.RawTensor)) {
	s.assign = fn
}

// assignGrad writes a replayed gradient back through the configured
// indirection, defaulting to a direct slot write.
func (s *SavedVariables) assignGrad(v *Variable, g *tensor.RawTensor) {
	if s.assign != nil {
		s.assign(v, g)
		return
	}
	v.SetGrad(g)
}

// Record registers this node's replay inputs in the capture context: the
// leaf value and its current gradient, both constrained to the shape
// recorded at node construction. Replay can then validate or broadcast
// placeholder shapes even though no concrete buffers exist at capture
// time. Leaves that are undefined or do not require gradients contribute
// nothing to the trace.
func (n *AccumulateNode) Record(ctx *CaptureContext) {
	v := n.variable
	if v == nil || v.data == nil || !v.requiresGrad {
		return
	}
	required := n.InputMetadata(0)
	ctx.Collect(v.data, required)
	ctx.Collect(v.Grad(), required)
}

// Replay executes the captured accumulation against saved copies of the
// leaf and its gradient. It mirrors Apply's guards but always accumulates
// with aliasing disabled, since placeholder lifetimes cannot be proven,
// and assigns the result through the saved-variable indirection.
//
// Post-accumulation hooks are not replayable; a registered hook fails
// loudly rather than being dropped.
func (n *AccumulateNode) Replay(grads []*tensor.RawTensor, saved *SavedVariables) ([]*tensor.RawTensor, error) {
	v := n.variable
	if v == nil || v.data == nil || !v.requiresGrad {
		return nil, nil
	}
	if len(grads) != 1 {
		return nil, fmt.Errorf("replay: got %d contributions, want 1: %w", len(grads), ErrInvalidArity)
	}
	if v.gradFn != nil {
		return nil, fmt.Errorf("replay: %w", ErrGraphIntegrity)
	}
	if grads[0] == nil {
		return nil, nil
	}
	if n.PostAccHookRegistered() {
		return nil, fmt.Errorf("replay: post-accumulation hooks: %w", ErrUnsupportedFeature)
	}

	gradCopy := saved.Unpack(v.Grad())
	contrib := saved.Unpack(grads[0])
	contrib, err := reconcileShape(contrib, n.InputMetadata(0))
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	err = Accumulate(gradCopy, contrib, RefsAliasingDisabled, func(g *tensor.RawTensor) {
		saved.assignGrad(v, g)
	})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return nil, nil
}

// reconcileShape adjusts a replayed contribution to the required shape
// recorded at capture, broadcasting where the placeholder was symbolic.
func reconcileShape(contrib *tensor.RawTensor, required tensor.Shape) (*tensor.RawTensor, error) {
	if required == nil || contrib.Shape().Equal(required) {
		return contrib, nil
	}
	return tensor.Expand(contrib, required)
}
