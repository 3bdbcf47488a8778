package autograd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grail-ml/grail/internal/autograd"
	"github.com/grail-ml/grail/internal/tensor"
)

func TestRecord_CollectsLeafAndGradWithRequiredShape(t *testing.T) {
	leaf := newLeaf(t, []float32{0, 0, 0}, tensor.Shape{3})
	require.NoError(t, apply(t, leaf, f32(t, []float32{1, 2, 3}, tensor.Shape{3})))

	ctx := autograd.NewCaptureContext()
	leaf.Accumulator().Record(ctx)

	inputs := ctx.Inputs()
	require.Len(t, inputs, 2, "leaf value and its gradient")
	assert.Same(t, leaf.Data(), inputs[0].Source)
	assert.Same(t, leaf.Grad(), inputs[1].Source)
	for _, in := range inputs {
		assert.True(t, in.Required.Equal(tensor.Shape{3}))
		assert.NotEqual(t, [16]byte{}, [16]byte(in.ID))
	}
}

func TestRecord_SkipsNonGradLeaves(t *testing.T) {
	noGrad := autograd.NewLeaf(f32(t, []float32{0}, tensor.Shape{1}), false)
	undef := autograd.NewLeaf(nil, true)

	ctx := autograd.NewCaptureContext()
	noGrad.Accumulator().Record(ctx)
	undef.Accumulator().Record(ctx)
	assert.Empty(t, ctx.Inputs())
}

func replayOne(t *testing.T, v *autograd.Variable, contrib *tensor.RawTensor) error {
	t.Helper()
	out, err := v.Accumulator().Replay([]*tensor.RawTensor{contrib}, autograd.NewSavedVariables())
	assert.Empty(t, out)
	return err
}

// Replay and Apply must produce numerically identical gradients for
// representative shapes, modulo replay's allocate-always policy.
func TestReplay_MatchesEagerApply(t *testing.T) {
	cases := []struct {
		name    string
		shape   tensor.Shape
		initial []float32
		contrib []float32
	}{
		{"scalar", tensor.Shape{}, []float32{2}, []float32{3}},
		{"vector", tensor.Shape{4}, []float32{1, 2, 3, 4}, []float32{10, 20, 30, 40}},
		{"matrix", tensor.Shape{2, 3}, []float32{1, 1, 1, 2, 2, 2}, []float32{1, 2, 3, 4, 5, 6}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eager := newLeaf(t, make([]float32, len(tc.initial)), tc.shape)
			eager.SetGrad(f32(t, tc.initial, tc.shape))
			require.NoError(t, apply(t, eager, f32(t, tc.contrib, tc.shape)))

			deferred := newLeaf(t, make([]float32, len(tc.initial)), tc.shape)
			deferred.SetGrad(f32(t, tc.initial, tc.shape))
			require.NoError(t, replayOne(t, deferred, f32(t, tc.contrib, tc.shape)))

			assert.Equal(t, eager.Grad().AsFloat32(), deferred.Grad().AsFloat32())
		})
	}
}

func TestReplay_BroadcastsContributionToRequiredShape(t *testing.T) {
	leaf := newLeaf(t, []float32{0, 0, 0, 0}, tensor.Shape{2, 2})
	leaf.SetGrad(f32(t, []float32{1, 1, 1, 1}, tensor.Shape{2, 2}))

	// Symbolic contribution arrives with a collapsed broadcast dimension.
	contrib := f32(t, []float32{5, 6}, tensor.Shape{1, 2})
	require.NoError(t, replayOne(t, leaf, contrib))
	assert.Equal(t, []float32{6, 7, 6, 7}, leaf.Grad().AsFloat32())
}

func TestReplay_NeverAliasesContribution(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})

	contrib := f32(t, []float32{9}, tensor.Shape{1})
	require.NoError(t, replayOne(t, leaf, contrib))

	require.NotNil(t, leaf.Grad())
	assert.False(t, leaf.Grad().SharesBufferWith(contrib),
		"replay must not steal placeholder buffers")
	assert.Equal(t, []float32{9}, leaf.Grad().AsFloat32())
}

func TestReplay_GuardsMirrorEagerPath(t *testing.T) {
	// Undefined leaf and non-requires-grad leaf: silent no-ops.
	undef := autograd.NewLeaf(nil, true)
	require.NoError(t, replayOne(t, undef, f32(t, []float32{1}, tensor.Shape{1})))

	noGrad := autograd.NewLeaf(f32(t, []float32{0}, tensor.Shape{1}), false)
	require.NoError(t, replayOne(t, noGrad, f32(t, []float32{1}, tensor.Shape{1})))
	assert.Nil(t, noGrad.Grad())

	// Nil contribution: silent no-op.
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	require.NoError(t, replayOne(t, leaf, nil))
	assert.Nil(t, leaf.Grad())

	// Arity and graph-integrity violations fail.
	_, err := leaf.Accumulator().Replay(nil, autograd.NewSavedVariables())
	assert.ErrorIs(t, err, autograd.ErrInvalidArity)

	interior := newLeaf(t, []float32{0}, tensor.Shape{1})
	leaf.SetGradFn(interior.Accumulator())
	err = replayOne(t, leaf, f32(t, []float32{1}, tensor.Shape{1}))
	assert.ErrorIs(t, err, autograd.ErrGraphIntegrity)
}

func TestReplay_RegisteredHookFailsLoudly(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	leaf.Accumulator().SetPostAccHook(func(*autograd.Variable) {})

	err := replayOne(t, leaf, f32(t, []float32{1}, tensor.Shape{1}))
	assert.ErrorIs(t, err, autograd.ErrUnsupportedFeature)
	assert.Nil(t, leaf.Grad(), "failed replay must not mutate the slot")
}

func TestReplay_SwapSubstitutesPlaceholders(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})
	leaf.SetGrad(f32(t, []float32{1}, tensor.Shape{1}))

	// The pipeline replays against a saved copy of the gradient, not the
	// live slot.
	savedGrad := f32(t, []float32{100}, tensor.Shape{1})
	saved := autograd.NewSavedVariables()
	saved.Swap(leaf.Grad(), savedGrad)

	contrib := f32(t, []float32{1}, tensor.Shape{1})
	_, err := leaf.Accumulator().Replay([]*tensor.RawTensor{contrib}, saved)
	require.NoError(t, err)
	assert.Equal(t, []float32{101}, leaf.Grad().AsFloat32())
}

func TestReplay_AssignGradIndirection(t *testing.T) {
	leaf := newLeaf(t, []float32{0}, tensor.Shape{1})

	var assigned *tensor.RawTensor
	saved := autograd.NewSavedVariables()
	saved.OnAssignGrad(func(v *autograd.Variable, g *tensor.RawTensor) {
		assigned = g // deferred assignment, live slot untouched
	})

	contrib := f32(t, []float32{4}, tensor.Shape{1})
	_, err := leaf.Accumulator().Replay([]*tensor.RawTensor{contrib}, saved)
	require.NoError(t, err)

	assert.Nil(t, leaf.Grad(), "indirection must bypass the live slot")
	require.NotNil(t, assigned)
	assert.Equal(t, []float32{4}, assigned.AsFloat32())
}
