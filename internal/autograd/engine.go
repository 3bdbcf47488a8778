package autograd

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/grail-ml/grail/internal/tensor"
)

// Task pairs a ready node with the single gradient contribution flowing
// along its incoming edge. The scheduler produces one task per
// (node, backward pass) once all contributions on that edge are ready.
type Task struct {
	Node         Node
	Contribution *tensor.RawTensor
}

// Engine executes ready backward nodes across a bounded pool of worker
// goroutines. Nodes targeting the same leaf serialize on the leaf's
// accumulation lock; the engine guarantees no ordering between distinct
// leaves. The first node failure cancels the remaining work.
type Engine struct {
	workers int
}

// NewEngine creates an engine with the given worker count, defaulting to
// the number of CPUs.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{workers: workers}
}

// Run delivers each task's contribution to its node. Accumulation itself
// is a non-cancellable critical section; cancellation is only observed
// between tasks.
func (e *Engine) Run(ctx context.Context, tasks []Task) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			_, err := task.Node.Apply([]*tensor.RawTensor{task.Contribution})
			return err
		})
	}
	return g.Wait()
}
