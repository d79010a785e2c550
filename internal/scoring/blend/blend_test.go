package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopEquations/internal/registry"
)

func defaultBlender(t *testing.T) *Blender {
	t.Helper()
	b, err := New(DefaultWeights)
	require.NoError(t, err)
	return b
}

func TestBlendBounds(t *testing.T) {
	b := defaultBlender(t)
	assert.Equal(t, 60, b.Blend(0, 100))
	assert.Equal(t, 40, b.Blend(100, 0))
	assert.Equal(t, 100, b.Blend(100, 100))
	assert.Equal(t, 0, b.Blend(0, 0))
	assert.Equal(t, 60, b.Blend(-50, 500))
}

func TestBlendNeverExceedsAdvisoryWeightWhenHeuristicIsZero(t *testing.T) {
	b := defaultBlender(t)
	for l := 0; l <= 100; l++ {
		assert.LessOrEqual(t, b.Blend(0, l), 60)
	}
}

func TestBlendRounding(t *testing.T) {
	b := defaultBlender(t)
	// 0.4*61 + 0.6*70 = 66.4
	assert.Equal(t, 66, b.Blend(61, 70))
	// 0.4*92 + 0.6*46 = 64.4
	assert.Equal(t, 64, b.Blend(92, 46))
}

func TestWeightsValidation(t *testing.T) {
	_, err := New(Weights{Heuristic: 0.7, Advisory: 0.6})
	assert.Error(t, err)
	_, err = New(Weights{Heuristic: -0.1, Advisory: 1.1})
	assert.Error(t, err)
	b, err := New(Weights{Heuristic: 1, Advisory: 0})
	require.NoError(t, err)
	assert.Equal(t, 61, b.Blend(61, 100))
}

func TestDecide(t *testing.T) {
	b := defaultBlender(t)

	heuristicOnly := b.Decide(61, nil, "gpt-4o-mini", nil)
	assert.Equal(t, 61, heuristicOnly.Final)
	assert.Equal(t, MethodHeuristicOnly, heuristicOnly.Method)
	assert.Nil(t, heuristicOnly.Blended)

	blended := b.Decide(61, &registry.AdvisoryScores{Total: 70}, "gpt-4o-mini", nil)
	assert.Equal(t, 66, blended.Final)
	assert.Equal(t, "blended-v1 (gpt-4o-mini)", blended.Method)
	require.NotNil(t, blended.Blended)
	assert.Equal(t, 66, *blended.Blended)

	manual := 140
	overridden := b.Decide(61, &registry.AdvisoryScores{Total: 70}, "gpt-4o-mini", &manual)
	assert.Equal(t, 100, overridden.Final)
	assert.Equal(t, MethodManualOverride, overridden.Method)
	require.NotNil(t, overridden.Blended)
	require.NotNil(t, overridden.Manual)
	assert.Equal(t, 100, *overridden.Manual)
}
