package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopEquations/internal/certificate"
	"TopEquations/internal/registry"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newRecords() *store.Registry {
	clock := &tickingClock{t: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore()
	mem.SetClock(clock.Now)
	return store.NewRegistry(mem, clock.Now)
}

func issueTypes(r *Report) []string {
	types := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		types = append(types, issue.Type)
	}
	return types
}

func findIssue(r *Report, kind string) *Issue {
	for i := range r.Issues {
		if r.Issues[i].Type == kind {
			return &r.Issues[i]
		}
	}
	return nil
}

func TestEmptyStoreIsClean(t *testing.T) {
	report, err := New(newRecords(), WithLogger(logger.Discard())).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status)
	assert.Zero(t, report.IssueCount)
	assert.NotNil(t, report.Issues)
}

func TestCleanAfterExport(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{
		{ID: "eq-a", Name: "A", EquationLatex: "a", Submitter: "ada"},
	}}))
	require.NoError(t, records.SaveSubmissions(ctx, &registry.SubmissionSet{Entries: []*registry.Submission{
		{SubmissionID: "sub-a", Status: registry.StatusPromoted, Review: &registry.Review{EquationID: "eq-a"}},
	}}))
	_, err := certificate.NewExporter(records, certificate.WithLogger(logger.Discard())).Export(ctx)
	require.NoError(t, err)

	report, err := New(records, WithLogger(logger.Discard())).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusClean, report.Status, "%+v", report.Issues)
}

func TestDriftDetection(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	require.NoError(t, records.SaveDocument(ctx, store.DocCore, &registry.CanonicalSet{Entries: []registry.CanonicalEquation{
		{ID: "core-a", Name: "Core A", EquationLatex: "c"},
	}}))
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{
		{ID: "eq-a", Name: "A", EquationLatex: "a"},
	}}))
	_, err := certificate.NewExporter(records, certificate.WithLogger(logger.Discard())).Export(ctx)
	require.NoError(t, err)

	// ranked set changes after export
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{
		{ID: "eq-b", Name: "B", EquationLatex: "b", Submitter: "bo"},
		{ID: "eq-c", Name: "C", EquationLatex: "c"},
	}}))
	require.NoError(t, records.SaveSubmissions(ctx, &registry.SubmissionSet{Entries: []*registry.Submission{
		{SubmissionID: "sub-lost", Status: registry.StatusPromoted, Review: &registry.Review{EquationID: "eq-gone"}},
		{SubmissionID: "sub-stuck", Status: registry.StatusReady, Review: &registry.Review{EquationID: "eq-c"}},
		{SubmissionID: "sub-new", Status: registry.StatusPending},
		{SubmissionID: "sub-review", Status: registry.StatusNeedsReview},
	}}))

	site := filepath.Join(t.TempDir(), "leaderboard.html")
	require.NoError(t, os.WriteFile(site, []byte("<html></html>"), 0o600))
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(site, old, old))

	report, err := New(records, WithSiteArtifact(site), WithLogger(logger.Discard())).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDrift, report.Status)
	assert.Equal(t, []string{
		IssueMissingCertificates,
		IssueOrphanCertificates,
		IssuePromotedButMissing,
		IssueStatusMismatch,
		IssueStaleSite,
		IssueStaleCertificates,
		IssuePendingSubmissions,
		IssueMissingSubmitterHash,
	}, issueTypes(report))
	assert.Equal(t, len(report.Issues), report.IssueCount)

	assert.Equal(t, []string{"eq-b", "eq-c"}, findIssue(report, IssueMissingCertificates).IDs)
	assert.Equal(t, []string{"eq-a"}, findIssue(report, IssueOrphanCertificates).IDs)
	assert.Equal(t, []string{"eq-gone"}, findIssue(report, IssuePromotedButMissing).IDs)
	assert.Equal(t, []string{"sub-stuck"}, findIssue(report, IssueStatusMismatch).IDs)
	assert.Equal(t, []string{"sub-new", "sub-review"}, findIssue(report, IssuePendingSubmissions).IDs)
	assert.Equal(t, []string{"eq-a"}, findIssue(report, IssueMissingSubmitterHash).IDs)

	assert.True(t, report.Failed(SeverityError))
	assert.True(t, report.Failed(SeverityWarn))
}

func TestPromotedWithoutEquationID(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	require.NoError(t, records.SaveSubmissions(ctx, &registry.SubmissionSet{Entries: []*registry.Submission{
		{SubmissionID: "sub-b", Status: registry.StatusPromoted, Review: &registry.Review{EquationID: "  "}},
		{SubmissionID: "sub-a", Status: registry.StatusPromoted},
	}}))

	report, err := New(records, WithLogger(logger.Discard())).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDrift, report.Status)
	issue := findIssue(report, IssueMissingEquationID)
	require.NotNil(t, issue)
	assert.Equal(t, SeverityError, issue.Severity)
	assert.Equal(t, []string{"sub-a", "sub-b"}, issue.IDs)
	assert.Nil(t, findIssue(report, IssuePromotedButMissing))
}

func TestGateOnlyCountsSevereIssues(t *testing.T) {
	report := &Report{Issues: []Issue{{Type: IssuePendingSubmissions, Severity: SeverityInfo}}}
	assert.False(t, report.Failed(SeverityWarn))
	assert.True(t, report.Failed(SeverityInfo))

	report.Issues = append(report.Issues, Issue{Type: IssueStaleSite, Severity: SeverityWarn})
	assert.False(t, report.Failed(SeverityError))
	assert.True(t, report.Failed(SeverityWarn))
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity(" ERROR ")
	require.NoError(t, err)
	assert.Equal(t, SeverityError, s)

	s, err = ParseSeverity("")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarn, s)

	_, err = ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestMissingSiteArtifactIsIgnored(t *testing.T) {
	ctx := context.Background()
	records := newRecords()
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{}}))
	report, err := New(records, WithSiteArtifact(filepath.Join(t.TempDir(), "missing.html")), WithLogger(logger.Discard())).Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, findIssue(report, IssueStaleSite))
}
