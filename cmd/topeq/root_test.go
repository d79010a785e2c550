package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t      *testing.T
	dir    string
	config string
}

func newHarness(t *testing.T, ledgerURL string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := map[string]any{
		"storage": map[string]any{"data_dir": "data", "lock": map[string]any{"driver": "none"}},
		"ledger":  map[string]any{"node_url": ledgerURL, "wallet_file": "wallet.json"},
		"log":     map[string]any{"level": "error"},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "topeq.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return &harness{t: t, dir: dir, config: path}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(v any, args ...string) {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	if v != nil {
		require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
	}
}

func fakeLedger(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var submitted atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add_transaction", func(w http.ResponseWriter, r *http.Request) {
		submitted.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("queued"))
	})
	mux.HandleFunc("GET /mine_block", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mined"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submitted
}

func TestCurationLifecycle(t *testing.T) {
	ledger, submitted := fakeLedger(t)
	h := newHarness(t, ledger.URL)

	var sub struct {
		SubmissionID string `json:"submissionId"`
		Status       string `json:"status"`
		Source       string `json:"source"`
	}
	h.mustRun(&sub, "submit", "--name", "Entropy Gate", "--equation", `S = k \ln W`,
		"--description", "Boltzmann entropy", "--submitter", "ada", "--assumption", "ergodic")
	require.True(t, strings.HasSuffix(sub.SubmissionID, "-entropy-gate"), sub.SubmissionID)
	assert.Equal(t, "pending", sub.Status)
	assert.Equal(t, "manual submission", sub.Source)

	var scored struct {
		Results []struct {
			Status string `json:"status"`
			Method string `json:"method"`
		} `json:"results"`
	}
	h.mustRun(&scored, "score", "--submission-id", sub.SubmissionID)
	require.Len(t, scored.Results, 1)
	assert.Equal(t, "heuristic-only", scored.Results[0].Method)

	var promoted struct {
		EquationID string `json:"equation_id"`
		Score      int    `json:"score"`
	}
	h.mustRun(&promoted, "promote", "--submission-id", sub.SubmissionID,
		"--tractability", "18", "--plausibility", "18", "--validation", "16", "--artifact-completeness", "6", "--novelty", "20")
	assert.Equal(t, "eq-entropy-gate", promoted.EquationID)
	assert.Equal(t, 78, promoted.Score)

	_, err := h.run("promote", "--submission-id", sub.SubmissionID, "--from-review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALREADY_PROMOTED")

	var exported struct {
		Count int    `json:"count"`
		File  string `json:"file"`
	}
	h.mustRun(&exported, "export")
	assert.Equal(t, 1, exported.Count)
	assert.FileExists(t, exported.File)

	h.mustRun(nil, "wallet", "generate")
	assert.FileExists(t, filepath.Join(h.dir, "wallet.json"))
	_, err = h.run("wallet", "generate")
	require.Error(t, err, "existing wallet must not be replaced")

	var receipt struct {
		Count int `json:"count"`
		OK    int `json:"ok"`
		Mine  *struct {
			Status int `json:"status"`
		} `json:"mine_result"`
	}
	h.mustRun(&receipt, "publish", "--mine")
	assert.Equal(t, 1, receipt.Count)
	assert.Equal(t, 1, receipt.OK)
	require.NotNil(t, receipt.Mine)
	assert.Equal(t, http.StatusOK, receipt.Mine.Status)
	assert.EqualValues(t, 1, submitted.Load())

	var issued struct {
		Type       string `json:"type"`
		EquationID string `json:"equation_id"`
		Signature  string `json:"signature"`
	}
	h.mustRun(&issued, "receipt", "--submission-id", sub.SubmissionID)
	assert.Equal(t, "submitter_receipt", issued.Type)
	assert.Equal(t, "eq-entropy-gate", issued.EquationID)
	assert.NotEmpty(t, issued.Signature)

	var cron struct {
		Skipped bool `json:"skipped"`
	}
	h.mustRun(&cron, "cron")
	assert.True(t, cron.Skipped)

	var report struct {
		Status string `json:"status"`
	}
	h.mustRun(&report, "reconcile")
	assert.Equal(t, "CLEAN", report.Status)
}

func TestReconcileGateExitCode(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	h.mustRun(nil, "submit", "--name", "Pending", "--equation", "x = 1", "--description", "waiting")

	out, err := h.run("reconcile")
	require.NoError(t, err, out)

	_, err = h.run("reconcile", "--gate", "info")
	var exit exitCode
	require.True(t, errors.As(err, &exit), "expected exit code, got %v", err)
	assert.Equal(t, exitCode(1), exit)

	_, err = h.run("reconcile", "--gate", "loud")
	require.Error(t, err)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	_, err := h.run("submit", "--name", "No equation", "--description", "d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_ARGUMENT")

	path := filepath.Join(h.dir, "issue.md")
	require.NoError(t, os.WriteFile(path, []byte("```json\n{\"name\":\"From file\",\"equation\":\"y=2\",\"description\":\"fenced\"}\n```"), 0o600))
	var sub struct {
		Name string `json:"name"`
	}
	h.mustRun(&sub, "submit", "--file", path)
	assert.Equal(t, "From file", sub.Name)
}

func TestImportSkipsInvalidEntries(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	path := filepath.Join(h.dir, "batch.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name":"Alpha","equation":"a=1","description":"first"},
		{"name":"Broken"},
		{"name":"Beta","equation":"b=2","description":"second"}
	]`), 0o600))

	var report struct {
		Imported []string `json:"imported"`
		Skipped  []struct {
			Index int `json:"index"`
		} `json:"skipped"`
	}
	h.mustRun(&report, "import", path)
	assert.Len(t, report.Imported, 2)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 1, report.Skipped[0].Index)
}

func TestEnqueueRequiresSharedQueue(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	path := filepath.Join(h.dir, "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"submission_id":"sub-x"}`), 0o600))

	_, err := h.run("enqueue", "score", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")

	_, err = h.run("enqueue", "delete", path)
	require.Error(t, err)
}
