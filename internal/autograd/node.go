package autograd

import "github.com/grail-ml/grail/internal/tensor"

// Node is one step of the backward graph. The engine delivers gradient
// contributions to a node once all contributions along an incoming edge
// have been produced, and fans the returned gradients out to the node's
// predecessors. Terminal nodes return an empty list.
type Node interface {
	// Apply consumes the incoming gradient contributions and returns the
	// gradients to propagate further. Ownership of the contributions
	// transfers to the node; callers must not read them afterward.
	Apply(grads []*tensor.RawTensor) ([]*tensor.RawTensor, error)

	// InputMetadata returns the shape recorded for input slot i at node
	// construction. The deferred path uses it to constrain replayed
	// placeholder shapes.
	InputMetadata(i int) tensor.Shape
}
