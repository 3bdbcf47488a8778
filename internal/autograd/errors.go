package autograd

import "errors"

// Failure taxonomy for gradient accumulation. All of these indicate
// integration bugs in the caller or scheduler, not runtime data
// conditions; they propagate synchronously and abort the backward pass.
var (
	// ErrInvalidArity is returned when a node receives the wrong number
	// of gradient contributions.
	ErrInvalidArity = errors.New("wrong number of gradient contributions")

	// ErrGraphIntegrity is returned when accumulation targets a variable
	// that has been moved into the graph interior (acquired a grad_fn).
	ErrGraphIntegrity = errors.New("leaf variable has been moved into the graph interior")

	// ErrUnsupportedFeature is returned when the deferred replay path hits
	// functionality it does not support, such as post-accumulation hooks.
	ErrUnsupportedFeature = errors.New("not supported in deferred replay")
)
