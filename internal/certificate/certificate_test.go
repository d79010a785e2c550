package certificate

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

const coreDoc = `{
  "entries": [
    {
      "id": "core-ward",
      "name": "Ward identity",
      "equationLatex": "\\partial_\\mu J^\\mu = 0",
      "tractability": 18,
      "plausibility": 19,
      "validation": 15,
      "artifactCompleteness": 6,
      "novelty": 12,
      "source": "textbook",
      "description": "conserved current π <j>",
      "units": "OK",
      "theory": "PASS",
      "animation": {"status": "done", "path": "anim/ward.mp4"}
    }
  ]
}
`

const famousDoc = `{
  "entries": [
    {
      "id": "famous-euler",
      "name": "Euler identity",
      "equationLatex": "e^{i\\pi} + 1 = 0",
      "tractability": 20,
      "plausibility": 20,
      "validation": 20,
      "artifactCompleteness": 5,
      "novelty": 3
    }
  ]
}
`

func seededRegistry(t *testing.T, now *time.Time) *store.Registry {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	records := store.NewRegistry(mem, func() time.Time { return *now })
	require.NoError(t, mem.Write(ctx, store.DocCore, []byte(coreDoc)))
	require.NoError(t, mem.Write(ctx, store.DocFamous, []byte(famousDoc)))
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{{
		ID:            "eq-entropy-gate",
		Name:          "Entropy gate",
		Submitter:     "alice",
		Source:        "github-issue",
		Score:         81,
		Scores:        registry.SubScores{Tractability: 18, Plausibility: 17, Validation: 14, ArtifactCompleteness: 4},
		Date:          "2026-02-20",
		EquationLatex: `S = k_B \ln W`,
		Animation:     registry.PlannedArtifact(),
		Image:         registry.Artifact{Status: "done", Path: "img/gate.png"},
		Tags:          registry.Tags{Novelty: &registry.NoveltyTag{Score: 22, Date: "2026-02-20"}},
	}, {
		ID:            "eq-legacy",
		Name:          "Legacy",
		EquationLatex: "a=b",
	}}}))
	return records
}

func TestCanonicalMatchesSortedCompactASCII(t *testing.T) {
	got, err := Canonical(map[string]any{"b": 1, "a": []any{"<x>", "\U0001D53C \x7f\u2028"}, "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["<x>","\ud835\udd3c \u007f\u2028"],"b":1,"c":{"y":null,"z":true}}`, string(got))
}

func TestCoreCertificateHashesAreStable(t *testing.T) {
	now := time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)
	exporter := NewExporter(seededRegistry(t, &now), WithLogger(logger.Discard()))

	doc, err := exporter.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, doc.Count)

	core := doc.Entries[0]
	assert.Equal(t, TierCore, core.Tier)
	assert.Equal(t, 83, core.Score)
	assert.Equal(t, "01d3535fea0fdd61de18a28e324eb670207fa68c9542f0a0e8a32c2398ae6761", core.EquationHash)
	assert.Equal(t, "8886c3e1388e7b40e4d06ff1476c0c402cee31b5ef676b1b5faab90a39540363", core.MetadataHash)
	assert.Equal(t, &ArtifactRefs{Animation: "anim/ward.mp4"}, core.ArtifactRefs)

	famous := doc.Entries[3]
	assert.Equal(t, TierFamous, famous.Tier)
	assert.Equal(t, 93, famous.Score)
	assert.Equal(t, "famous-adjusted", famous.Source)
	assert.Nil(t, famous.ArtifactRefs)
	require.NotNil(t, famous.CoreRefs)
	assert.Empty(t, *famous.CoreRefs)
	assert.Equal(t, "ff15482d08e5f0a42abb52641e1ab73b943bc023fe9d4c9874c3eb1cf6cb7eac", famous.MetadataHash)
}

func TestDerivedCertificates(t *testing.T) {
	now := time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)
	doc, err := NewExporter(seededRegistry(t, &now), WithLogger(logger.Discard())).Build(context.Background())
	require.NoError(t, err)

	derived := doc.Entries[1]
	assert.Equal(t, TierDerived, derived.Tier)
	assert.Equal(t, 81, derived.Score)
	assert.Equal(t, HashText("alice"), derived.SubmitterHash)
	assert.Equal(t, &ArtifactRefs{Image: "img/gate.png"}, derived.ArtifactRefs)
	require.NotNil(t, derived.Novelty.Score)
	assert.Equal(t, 22, *derived.Novelty.Score)

	legacy := doc.Entries[2]
	assert.Empty(t, legacy.SubmitterHash)
	assert.Nil(t, legacy.Novelty.Score)
	for _, c := range doc.Entries {
		assert.NoError(t, Verify(c), c.TokenID)
	}
}

func TestExportIsReproducible(t *testing.T) {
	now := time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)
	records := seededRegistry(t, &now)
	exporter := NewExporter(records, WithLogger(logger.Discard()), WithSourceFile("data/equations.json"))
	ctx := context.Background()

	first, err := exporter.Export(ctx)
	require.NoError(t, err)
	now = now.Add(time.Hour)
	second, err := exporter.Export(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Document{}, "GeneratedAt")); diff != "" {
		t.Fatalf("exports differ (-first +second):\n%s", diff)
	}

	loaded, err := Load(ctx, records)
	require.NoError(t, err)
	if diff := cmp.Diff(second, loaded); diff != "" {
		t.Fatalf("stored document differs (-exported +loaded):\n%s", diff)
	}
	for _, c := range loaded.Entries {
		require.NoError(t, Verify(c))
	}
	assert.Equal(t, Schema, loaded.Schema)
	assert.Equal(t, "data/equations.json", loaded.SourceFile)
	assert.Len(t, loaded.TokenIDs(), 4)
}

func TestVerifyDetectsTampering(t *testing.T) {
	cert := Certificate{TokenID: "eq-x", Name: "x", EquationLatex: "x=1", Score: 50, Tier: TierDerived, Version: Version}
	require.NoError(t, cert.Seal())
	require.NoError(t, Verify(cert))

	scoreBumped := cert
	scoreBumped.Score = 99
	assert.True(t, xerrors.IsCode(Verify(scoreBumped), xerrors.CodeConflict))

	textChanged := cert
	textChanged.EquationLatex = "x=2"
	assert.True(t, xerrors.IsCode(Verify(textChanged), xerrors.CodeConflict))
}

func TestEquationHashDependsOnlyOnText(t *testing.T) {
	a := Certificate{TokenID: "a", Name: "one", EquationLatex: "y=mx+b", Score: 1}
	b := Certificate{TokenID: "b", Name: "two", EquationLatex: "y=mx+b", Score: 2}
	require.NoError(t, a.Seal())
	require.NoError(t, b.Seal())
	assert.Equal(t, a.EquationHash, b.EquationHash)
	assert.NotEqual(t, a.MetadataHash, b.MetadataHash)
}
