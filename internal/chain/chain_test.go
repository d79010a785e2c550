package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *tickingClock {
	return &tickingClock{t: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fakeNode struct {
	mu       sync.Mutex
	received []SignedTransaction
	mined    int
	badSig   int
}

func (n *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/add_transaction", func(w http.ResponseWriter, r *http.Request) {
		var tx SignedTransaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ok, _ := VerifySignature(tx.Transaction.Sender, tx.Transaction, tx.Signature)
		n.mu.Lock()
		n.received = append(n.received, tx)
		if !ok {
			n.badSig++
		}
		n.mu.Unlock()
		if tx.Transaction.EquationID == "eq-rejected" {
			http.Error(w, "rejected", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	})
	mux.HandleFunc("/mine_block", func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.mined++
		n.mu.Unlock()
		_, _ = w.Write([]byte(`{"index":1}`))
	})
	return mux
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	w, err := GenerateWallet()
	require.NoError(t, err)
	s, err := NewSigner(w)
	require.NoError(t, err)
	return s
}

func seedRecords(t *testing.T, records *store.Registry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, records.SaveSubmissions(ctx, &registry.SubmissionSet{Entries: []*registry.Submission{
		{
			SubmissionID: "sub-2026-02-20-entropy-gate",
			Status:       registry.StatusPromoted,
			Name:         "Entropy Gate",
			Submitter:    "ada",
			Review:       &registry.Review{EquationID: "eq-entropy-gate", Score: 80},
		},
		{SubmissionID: "sub-2026-02-20-draft", Status: registry.StatusPending, Name: "Draft"},
	}}))
	require.NoError(t, records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{
		{ID: "eq-entropy-gate", Name: "Entropy Gate", EquationLatex: `S = k \ln W`, Score: 80, Submitter: "ada"},
		{ID: "eq-rejected", Name: "Rejected", EquationLatex: "x = y", Score: 40},
	}}))
}

type fixture struct {
	records   *store.Registry
	exporter  *certificate.Exporter
	publisher *Publisher
	node      *fakeNode
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newClock()
	mem := store.NewMemoryStore()
	mem.SetClock(clock.Now)
	records := store.NewRegistry(mem, clock.Now)
	seedRecords(t, records)

	node := &fakeNode{}
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)

	ledger, err := NewHTTPLedger(srv.URL+"/", 0)
	require.NoError(t, err)
	publisher, err := NewPublisher(records, ledger, newSigner(t),
		WithFiles("", "wallet.json"),
		WithPublisherLogger(logger.Discard()),
		WithPublisherAudit(logger.Discard()))
	require.NoError(t, err)
	return &fixture{
		records:   records,
		exporter:  certificate.NewExporter(records, certificate.WithLogger(logger.Discard())),
		publisher: publisher,
		node:      node,
	}
}

func TestSignAndVerify(t *testing.T) {
	s := newSigner(t)
	payload := map[string]any{"b": 1, "a": "π"}
	sig, err := s.Sign(payload)
	require.NoError(t, err)
	assert.Len(t, sig, 130)

	ok, err := VerifySignature(s.PublicKey(), map[string]any{"a": "π", "b": 1}, sig)
	require.NoError(t, err)
	assert.True(t, ok, "key order must not matter")

	ok, err = VerifySignature("04"+s.PublicKey(), payload, sig)
	require.NoError(t, err)
	assert.True(t, ok, "prefixed public key accepted")

	ok, err = VerifySignature(s.PublicKey(), map[string]any{"a": "π", "b": 2}, sig)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifySignature(s.PublicKey(), payload, "zz")
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument))
}

func TestWalletFile(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)
	path := t.TempDir() + "/keys/wallet.json"
	require.NoError(t, w.Save(path))

	loaded, err := LoadWallet(path)
	require.NoError(t, err)
	assert.Equal(t, w, loaded)

	other, err := GenerateWallet()
	require.NoError(t, err)
	_, err = NewSigner(&Wallet{PublicKey: other.PublicKey, PrivateKey: w.PrivateKey})
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument), "mismatched key pair")

	s, err := NewSigner(&Wallet{PrivateKey: "0x" + w.PrivateKey})
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey, s.PublicKey())

	_, err = LoadWallet("")
	assert.Error(t, err)
}

func TestHTTPLedgerRecordsStatus(t *testing.T) {
	node := &fakeNode{}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()
	s := newSigner(t)

	ledger, err := NewHTTPLedger(srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, ledger.Endpoint())

	cert := certificate.Certificate{TokenID: "eq-rejected", EquationHash: "e", MetadataHash: "m", Score: 3, Version: 1}
	signed, err := SignTransaction(s, NewTransaction(s.PublicKey(), cert, time.Unix(0, 0)))
	require.NoError(t, err)
	resp, err := ledger.Submit(context.Background(), signed)
	require.NoError(t, err, "non-2xx is not a transport error")
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "rejected", resp.Body)
	assert.False(t, resp.OK())

	tx := node.received[0].Transaction
	assert.Equal(t, Receiver, tx.Receiver)
	assert.Equal(t, TransactionType, tx.Type)
	assert.Equal(t, "1970-01-01T00:00:00Z", tx.TS)
	assert.Zero(t, node.badSig)

	resp, err = ledger.Mine(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.OK())

	srv.Close()
	_, err = ledger.Mine(context.Background())
	assert.True(t, xerrors.IsCode(err, xerrors.CodeLedgerFailure))

	_, err = NewHTTPLedger("  ", 0)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument))
}

func TestPublishRecordsEveryResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.publisher.Publish(ctx, PublishOptions{})
	require.True(t, xerrors.IsCode(err, xerrors.CodeNotFound), "publishing requires an export")

	_, err = f.exporter.Export(ctx)
	require.NoError(t, err)
	receipt, err := f.publisher.Publish(ctx, PublishOptions{Mine: true})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.RunID)
	assert.Equal(t, 2, receipt.Count)
	assert.Equal(t, 1, receipt.OK)
	assert.Equal(t, "wallet.json", receipt.WalletFile)
	assert.Equal(t, "certificates/equation_certificates.json", receipt.CertFile)
	require.Len(t, receipt.Results, 2)
	assert.Equal(t, Result{EquationID: "eq-entropy-gate", Status: 201, Response: `{"message":"queued"}`}, receipt.Results[0])
	assert.Equal(t, 500, receipt.Results[1].Status)
	require.NotNil(t, receipt.MineResult)
	assert.Equal(t, 200, receipt.MineResult.Status)
	assert.Equal(t, 1, f.node.mined)
	assert.Zero(t, f.node.badSig)

	stored, err := LoadReceipt(ctx, f.records)
	require.NoError(t, err)
	assert.Equal(t, receipt, stored)

	doc, err := certificate.Load(ctx, f.records)
	require.NoError(t, err)
	assert.Equal(t, doc.Entries[0].MetadataHash, f.node.received[0].Transaction.MetadataHash)
}

func TestPublishLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.exporter.Export(ctx)
	require.NoError(t, err)

	receipt, err := f.publisher.Publish(ctx, PublishOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Count)
	assert.Nil(t, receipt.MineResult)
	assert.Zero(t, f.node.mined)
}

func TestIssueReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.exporter.Export(ctx)
	require.NoError(t, err)

	issuer := NewIssuer(f.records, f.publisher.Signer())
	r, err := issuer.Issue(ctx, "sub-2026-02-20-entropy-gate")
	require.NoError(t, err)
	assert.Equal(t, ReceiptType, r.Type)
	assert.Equal(t, "eq-entropy-gate", r.EquationID)
	assert.Equal(t, certificate.HashText("ada"), r.SubmitterHash)
	assert.Equal(t, certificate.HashText(`S = k \ln W`), r.EquationHash)
	assert.NotEmpty(t, r.MetadataHash)
	assert.Equal(t, 80, r.Score)
	assert.Equal(t, "promoted", r.Status)
	assert.Equal(t, VerifyNote, r.VerifyNote)

	ok, err := VerifyReceipt(*r)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := LoadSubmitterReceipt(ctx, f.records, r.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, r, stored)

	tampered := *r
	tampered.Score = 100
	ok, err = VerifyReceipt(tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	draft, err := issuer.Issue(ctx, "sub-2026-02-20-draft")
	require.NoError(t, err)
	assert.Equal(t, certificate.HashText("unknown"), draft.SubmitterHash)
	assert.Empty(t, draft.EquationHash)

	_, err = issuer.Issue(ctx, "sub-missing")
	assert.True(t, xerrors.IsCode(err, xerrors.CodeNotFound))
}

func TestCronRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cron := NewCron(f.records, f.exporter, f.publisher, WithCronLogger(logger.Discard()))

	result, err := cron.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Skipped, "nothing exported yet")

	_, err = f.exporter.Export(ctx)
	require.NoError(t, err)
	result, err = cron.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.False(t, result.Skipped)
	assert.Equal(t, []string{"sub-2026-02-20-entropy-gate"}, result.Issued)
	assert.Equal(t, 1, result.Receipt.OK)
	assert.Equal(t, 1, f.node.mined)

	exists, err := f.records.Exists(ctx, store.SubmitterReceipt("sub-2026-02-20-entropy-gate"))
	require.NoError(t, err)
	assert.True(t, exists)

	result, err = cron.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.Skipped, "receipt is newer than certificates")

	result, err = cron.Run(ctx, RunOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Empty(t, result.Issued, "existing receipts are kept")
	assert.Equal(t, 2, f.node.mined)
}

func TestCronWatchPublishesOnRankedChange(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	records := store.NewRegistry(fs, nil)
	node := &fakeNode{}
	srv := httptest.NewServer(node.handler())
	defer srv.Close()
	ledger, err := NewHTTPLedger(srv.URL, time.Second)
	require.NoError(t, err)
	publisher, err := NewPublisher(records, ledger, newSigner(t),
		WithPublisherLogger(logger.Discard()), WithPublisherAudit(logger.Discard()))
	require.NoError(t, err)
	cron := NewCron(records, certificate.NewExporter(records, certificate.WithLogger(logger.Discard())), publisher,
		WithCronLogger(logger.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cron.Watch(ctx, WatchTargets{
			Certificates: fs.Path(store.DocCertificates),
			Equations:    fs.Path(store.DocEquations),
		}, 50*time.Millisecond)
	}()
	// give the watcher time to register before the first write
	time.Sleep(100 * time.Millisecond)
	seedRecords(t, records)

	require.Eventually(t, func() bool {
		ok, err := records.Exists(context.Background(), store.SubmitterReceipt("sub-2026-02-20-entropy-gate"))
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	receipt, err := LoadReceipt(context.Background(), records)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.NodeURL, "http://"))
}
