package autograd_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grail-ml/grail/internal/autograd"
	"github.com/grail-ml/grail/internal/tensor"
)

func newLeaf(t *testing.T, data []float32, shape tensor.Shape) *autograd.Variable {
	t.Helper()
	return autograd.NewLeaf(f32(t, data, shape), true)
}

func apply(t *testing.T, v *autograd.Variable, contrib *tensor.RawTensor) error {
	t.Helper()
	out, err := v.Accumulator().Apply([]*tensor.RawTensor{contrib})
	assert.Empty(t, out, "accumulation is terminal, no fan-out")
	return err
}

// End-to-end scenario: undefined slot adopts the first contribution, the
// second folds in.
func TestApply_AccumulatesAcrossPasses(t *testing.T) {
	leaf := newLeaf(t, []float32{0, 0}, tensor.Shape{2})

	c1 := f32(t, []float32{1, 2}, tensor.Shape{2})
	require.NoError(t, apply(t, leaf, c1))
	require.NotNil(t, leaf.Grad())
	assert.Equal(t, []float32{1, 2}, leaf.Grad().AsFloat32())

	c2 := f32(t, []float32{3, 4}, tensor.Shape{2})
	require.NoError(t, apply(t, leaf, c2))
	assert.Equal(t, []float32{4, 6}, leaf.Grad().AsFloat32())
}

func TestApply_FirstContributionIsAdopted(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	contrib := f32(t, []float32{7}, tensor.Shape{1})

	require.NoError(t, apply(t, leaf, contrib))
	assert.True(t, leaf.Grad().SharesBufferWith(contrib),
		"exclusively owned contribution must be adopted, not copied")
}

func TestApply_InvalidArity(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})

	_, err := leaf.Accumulator().Apply(nil)
	assert.ErrorIs(t, err, autograd.ErrInvalidArity)

	c1 := f32(t, []float32{1}, tensor.Shape{1})
	c2 := f32(t, []float32{2}, tensor.Shape{1})
	_, err = leaf.Accumulator().Apply([]*tensor.RawTensor{c1, c2})
	assert.ErrorIs(t, err, autograd.ErrInvalidArity)
	assert.Nil(t, leaf.Grad(), "failed apply must not mutate the slot")
}

func TestApply_NilContributionIsNoOp(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	existing := f32(t, []float32{5}, tensor.Shape{1})
	leaf.SetGrad(existing)

	require.NoError(t, apply(t, leaf, nil))
	assert.Same(t, existing, leaf.Grad(), "slot must be untouched, same buffer identity")
}

func TestApply_GraphIntegrityViolation(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	interior := newLeaf(t, []float32{0}, tensor.Shape{1})
	leaf.SetGradFn(interior.Accumulator())

	err := apply(t, leaf, f32(t, []float32{1}, tensor.Shape{1}))
	assert.ErrorIs(t, err, autograd.ErrGraphIntegrity)
	assert.Nil(t, leaf.Grad())
}

func TestApply_NoRequiresGradDropsContribution(t *testing.T) {
	leaf := autograd.NewLeaf(f32(t, []float32{0}, tensor.Shape{1}), false)

	require.NoError(t, apply(t, leaf, f32(t, []float32{1}, tensor.Shape{1})))
	assert.Nil(t, leaf.Grad(), "slot must stay undefined")
}

func TestApply_ZeroGradClearsSlot(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	require.NoError(t, apply(t, leaf, f32(t, []float32{1}, tensor.Shape{1})))
	require.NotNil(t, leaf.Grad())

	leaf.ZeroGrad()
	assert.Nil(t, leaf.Grad())

	// The slot becomes defined again on the next accumulation.
	require.NoError(t, apply(t, leaf, f32(t, []float32{2}, tensor.Shape{1})))
	assert.Equal(t, []float32{2}, leaf.Grad().AsFloat32())
}

func TestApply_PostHookObservesAccumulatedGrad(t *testing.T) {
	leaf := newLeaf(t, []float32{0, 0}, tensor.Shape{2})

	var hookGrad []float32
	leaf.Accumulator().SetPostAccHook(func(v *autograd.Variable) {
		hookGrad = append([]float32(nil), v.Grad().AsFloat32()...)
	})

	require.NoError(t, apply(t, leaf, f32(t, []float32{1, 2}, tensor.Shape{2})))
	assert.Equal(t, []float32{1, 2}, hookGrad, "hook must run after accumulation")
}

func TestApply_HookAccountsForSchedulerReference(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	leaf.Accumulator().SetPostAccHook(func(*autograd.Variable) {})

	require.NoError(t, apply(t, leaf, f32(t, []float32{1}, tensor.Shape{1})))

	// Second pass: the contribution carries the scheduler's temporary
	// hook reference; expectedRefs = 2 still permits the in-place steal.
	contrib := f32(t, []float32{2}, tensor.Shape{1})
	release := contrib.ForceNonUnique() // scheduler's pending-hook reference
	require.NoError(t, apply(t, leaf, contrib))
	release()

	assert.True(t, leaf.Grad().SharesBufferWith(contrib))
	assert.Equal(t, []float32{3}, leaf.Grad().AsFloat32())
}

// Serialized accumulation from many goroutines must equal the sum of all
// contributions regardless of arrival order.
func TestApply_ConcurrentAccumulation(t *testing.T) {
	const workers = 32
	leaf := newLeaf(t, []float32{0, 0}, tensor.Shape{2})

	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contrib, err := tensor.FromSlice([]float32{float32(i), float32(2 * i)}, tensor.Shape{2})
			assert.NoError(t, err)
			_, err = leaf.Accumulator().Apply([]*tensor.RawTensor{contrib})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// sum(1..32) = 528
	require.NotNil(t, leaf.Grad())
	assert.Equal(t, []float32{528, 1056}, leaf.Grad().AsFloat32())
}

func TestApply_ConcurrentPassesOnSharedLeaf(t *testing.T) {
	const passes = 8
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})

	var wg sync.WaitGroup
	for p := 0; p < passes; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				contrib, err := tensor.FromSlice([]float32{1}, tensor.Shape{1})
				assert.NoError(t, err)
				_, err = leaf.Accumulator().Apply([]*tensor.RawTensor{contrib})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []float32{passes * 16}, leaf.Grad().AsFloat32())
}
