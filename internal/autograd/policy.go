package autograd

import "github.com/grail-ml/grail/internal/tensor"

// Action is the accumulation decision for one incoming contribution.
type Action int

// Possible accumulation actions, cheapest first.
const (
	// ActionAdopt takes ownership of the incoming buffer as the new
	// gradient without any arithmetic.
	ActionAdopt Action = iota
	// ActionAddIntoIncoming mutates the incoming buffer in place,
	// adding the existing gradient into it.
	ActionAddIntoIncoming
	// ActionAddIntoExisting mutates the existing gradient in place.
	ActionAddIntoExisting
	// ActionAllocateSum computes existing + incoming into a fresh buffer.
	ActionAllocateSum
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionAdopt:
		return "adopt"
	case ActionAddIntoIncoming:
		return "add_into_incoming"
	case ActionAddIntoExisting:
		return "add_into_existing"
	case ActionAllocateSum:
		return "allocate_sum"
	default:
		return "unknown"
	}
}

// RefsAliasingDisabled is the expectedRefs sentinel that forbids buffer
// reuse entirely. The deferred replay path passes it because placeholder
// lifetimes cannot be proven at capture time.
const RefsAliasingDisabled = 0

// Decide picks the accumulation action for folding incoming into an
// existing gradient (nil means undefined).
//
// expectedRefs is a caller-supplied bound on how many live references to
// the incoming buffer exist besides the accumulation step's own. It is a
// hint gating safe in-place mutation, never ground truth about concurrent
// readers elsewhere; callers that under-count break the aliasing contract.
func Decide(existing, incoming *tensor.RawTensor, expectedRefs int) Action {
	if expectedRefs == RefsAliasingDisabled {
		return ActionAllocateSum
	}
	if existing == nil {
		return ActionAdopt
	}
	if canAccumulateInto(incoming, existing) && incoming.Refs() <= expectedRefs {
		return ActionAddIntoIncoming
	}
	if canAccumulateInto(existing, incoming) && existing.IsUnique() {
		return ActionAddIntoExisting
	}
	return ActionAllocateSum
}

// canAccumulateInto reports whether src can be folded into dst in place
// without changing dst's shape, dtype, or layout. Promotion to a wider
// dtype or a broadcast that would grow dst forces an out-of-place sum.
func canAccumulateInto(dst, src *tensor.RawTensor) bool {
	if dst.Layout() != tensor.Dense {
		return false
	}
	if tensor.Promote(dst.DType(), src.DType()) != dst.DType() {
		return false
	}
	if src.Layout() == tensor.SparseCOO {
		return src.Shape().Equal(dst.Shape())
	}
	return src.Shape().BroadcastsTo(dst.Shape())
}

// Accumulate folds incoming into existing per Decide and hands the
// resulting gradient to update. A nil incoming is a no-op: update is not
// called and the slot stays untouched. Ownership of incoming transfers to
// this call.
func Accumulate(existing, incoming *tensor.RawTensor, expectedRefs int, update func(*tensor.RawTensor)) error {
	if incoming == nil {
		return nil
	}

	switch Decide(existing, incoming, expectedRefs) {
	case ActionAdopt:
		update(incoming)

	case ActionAddIntoIncoming:
		if err := tensor.AddInto(incoming, existing); err != nil {
			return err
		}
		update(incoming)

	case ActionAddIntoExisting:
		if err := tensor.AddInto(existing, incoming); err != nil {
			return err
		}
		update(existing)

	case ActionAllocateSum:
		if existing == nil {
			// Aliasing disabled with an undefined slot: adoption is not
			// allowed, so materialize an exclusively owned copy.
			update(incoming.DeepClone())
			return nil
		}
		sum, err := tensor.Add(existing, incoming)
		if err != nil {
			return err
		}
		update(sum)
	}
	return nil
}
