package heuristic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopEquations/internal/registry"
)

func richSubmission() *registry.Submission {
	return &registry.Submission{
		Name:          "Continuity with damping",
		EquationLatex: `\frac{\partial \rho}{\partial t} + \nabla \cdot (\rho \mathbf{v}) = \int \exp(-\alpha x) \, dx`,
		Units:         "OK",
		Assumptions:   []string{"smooth flow", "isothermal", "no sources"},
		Evidence:      []string{"peer-reviewed in journal X", "dimensional analysis checks units"},
		Animation:     registry.Artifact{Status: "done", Path: "anim.mp4"},
		Image:         registry.PlannedArtifact(),
	}
}

func TestScoreBareEquationNeedsReview(t *testing.T) {
	res := New(V2).Score(&registry.Submission{Name: "Mass-energy", EquationLatex: "E=mc^2"})

	assert.Equal(t, 17, res.Tractability)
	assert.Equal(t, 16, res.Plausibility)
	assert.Equal(t, 8, res.Validation)
	assert.Equal(t, 4, res.Artifact)
	assert.Equal(t, 16, res.Novelty)
	assert.Equal(t, 61, res.Total)
	assert.Less(t, res.Total, 65)
	assert.Equal(t, "heuristic-v2", res.Version)
}

func TestScoreRichSubmission(t *testing.T) {
	res := New(V2).Score(richSubmission())

	assert.Equal(t, 19, res.Tractability)
	assert.Equal(t, 20, res.Plausibility)
	assert.Equal(t, 17, res.Validation)
	assert.Equal(t, 7, res.Artifact)
	assert.Equal(t, 29, res.Novelty)
	assert.Equal(t, 92, res.Total)
	assert.Contains(t, res.Fired, "external-evidence")
	assert.Equal(t, registry.SubScores{Tractability: 19, Plausibility: 20, Validation: 17, ArtifactCompleteness: 7}, res.SubScores())
}

func TestScoreIsDeterministic(t *testing.T) {
	scorer := New(V2)
	first := scorer.Score(richSubmission())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scorer.Score(richSubmission()))
	}
}

func TestScoreClampsEveryAxis(t *testing.T) {
	sub := &registry.Submission{
		EquationLatex: strings.Repeat(`\alpha\beta\gamma\delta\epsilon\zeta\eta\theta\iota\kappa `, 10),
		Units:         "ok",
		Assumptions:   make([]string, 12),
		Evidence:      []string{"arxiv", "doi", "journal", "experiment unit", "replicated"},
		Animation:     registry.Artifact{Status: "ready"},
		Image:         registry.Artifact{Status: "ready"},
	}
	res := New(V2).Score(sub)

	for axis, value := range map[Axis]int{
		AxisTractability: res.Tractability,
		AxisPlausibility: res.Plausibility,
		AxisValidation:   res.Validation,
		AxisArtifact:     res.Artifact,
		AxisNovelty:      res.Novelty,
	} {
		assert.GreaterOrEqual(t, value, 0, axis)
		assert.LessOrEqual(t, value, axis.Max(), axis)
	}
	assert.Equal(t, 20, res.Validation)
	assert.Equal(t, 10, res.Artifact)
	assert.LessOrEqual(t, res.Total, 100)
}

func TestScoreWithoutEqualsPenalized(t *testing.T) {
	res := New(V2).Score(&registry.Submission{EquationLatex: `\nabla \phi`})
	assert.Equal(t, 13, res.Tractability)
	assert.Equal(t, 16, res.Plausibility)
}

func TestLengthCountsCodePoints(t *testing.T) {
	f := Extract(&registry.Submission{EquationLatex: "ψ=ħω"})
	assert.Equal(t, 4, f.Length)
}

func TestNilSubmissionIsTotal(t *testing.T) {
	res := New(V2).Score(nil)
	assert.Equal(t, 13+14+8+4+16, res.Total)
}

func TestNormalized70(t *testing.T) {
	assert.Equal(t, 100, Normalized70(20, 20, 20, 10))
	assert.Equal(t, 63, Normalized70(16, 16, 8, 4))
	assert.Equal(t, 50, Normalized70(10, 10, 10, 5))
	assert.Equal(t, 0, Normalized70(0, 0, 0, 0))
}

func TestRuleSetRegistry(t *testing.T) {
	_, err := NewByName("does-not-exist")
	require.Error(t, err)

	Register(RuleSet{Name: "flat-test", Base: map[Axis]int{AxisNovelty: 50}})
	scorer, err := NewByName("flat-test")
	require.NoError(t, err)
	res := scorer.Score(richSubmission())
	assert.Equal(t, 30, res.Novelty)
	assert.Equal(t, 30, res.Total)
	assert.Contains(t, Names(), "heuristic-v2")
}

func TestClampSubScores(t *testing.T) {
	got := ClampSubScores(registry.SubScores{Tractability: 25, Plausibility: -3, Validation: 20, ArtifactCompleteness: 11})
	assert.Equal(t, registry.SubScores{Tractability: 20, Plausibility: 0, Validation: 20, ArtifactCompleteness: 10}, got)
}
