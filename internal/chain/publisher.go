package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// Result records the ledger outcome for one certificate.
type Result struct {
	EquationID string `json:"equation_id"`
	Status     int    `json:"status"`
	Response   string `json:"response"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the ledger accepted the transaction.
func (r Result) OK() bool { return Response{Status: r.Status}.OK() }

// PublishReceipt is the persisted outcome of one publish run.
type PublishReceipt struct {
	RunID       string   `json:"run_id"`
	PublishedAt string   `json:"published_at"`
	NodeURL     string   `json:"node_url"`
	CertFile    string   `json:"cert_file"`
	WalletFile  string   `json:"wallet_file"`
	Count       int      `json:"count"`
	OK          int      `json:"ok"`
	Results     []Result `json:"results"`
	MineResult  *Result  `json:"mine_result,omitempty"`
}

// PublishOptions selects what a run submits.
type PublishOptions struct {
	// Limit caps the number of certificates submitted; zero means all.
	Limit int `json:"limit,omitempty"`
	// Mine requests a block after all submissions.
	Mine bool `json:"mine,omitempty"`
}

// Publisher signs exported certificates and submits them to a ledger.
type Publisher struct {
	records    *store.Registry
	ledger     Ledger
	signer     *Signer
	limiter    *rate.Limiter
	certFile   string
	walletFile string
	logger     *slog.Logger
	audit      *slog.Logger
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithRateLimit spaces ledger submissions to at most perSecond requests per
// second. Zero disables limiting.
func WithRateLimit(perSecond float64) PublisherOption {
	return func(p *Publisher) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithFiles sets the certificate and wallet labels written into receipts.
func WithFiles(certFile, walletFile string) PublisherOption {
	return func(p *Publisher) {
		if certFile != "" {
			p.certFile = certFile
		}
		p.walletFile = walletFile
	}
}

// WithPublisherLogger overrides the operational logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublisherAudit overrides the audit logger.
func WithPublisherAudit(l *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.audit = l
		}
	}
}

// NewPublisher wires a publisher.
func NewPublisher(records *store.Registry, ledger Ledger, signer *Signer, opts ...PublisherOption) (*Publisher, error) {
	if records == nil || ledger == nil || signer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "发布器缺少存储、账本或签名器")
	}
	p := &Publisher{
		records:  records,
		ledger:   ledger,
		signer:   signer,
		certFile: string(store.DocCertificates) + ".json",
		logger:   logger.Named("chain"),
		audit:    logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Signer returns the signing identity.
func (p *Publisher) Signer() *Signer { return p.signer }

// Publish submits every exported certificate (up to Limit) and stores the
// receipt. Individual ledger failures are recorded in the receipt and do not
// abort the run.
func (p *Publisher) Publish(ctx context.Context, opts PublishOptions) (*PublishReceipt, error) {
	doc, err := certificate.Load(ctx, p.records)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return nil, xerrors.New(xerrors.CodeNotFound, "证书文档不存在，请先导出")
		}
		return nil, err
	}
	entries := doc.Entries
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}

	receipt := &PublishReceipt{
		RunID:      uuid.NewString(),
		NodeURL:    p.ledger.Endpoint(),
		CertFile:   p.certFile,
		WalletFile: p.walletFile,
		Count:      len(entries),
		Results:    make([]Result, 0, len(entries)),
	}
	for _, cert := range entries {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "等待发布配额时被取消")
			}
		}
		result, err := p.submit(ctx, cert)
		if err != nil {
			return nil, err
		}
		metrics.ObserveLedgerSubmission(result.OK())
		if result.OK() {
			receipt.OK++
		} else {
			p.logger.Warn("证书上链失败",
				slog.String("equation_id", result.EquationID),
				slog.Int("status", result.Status),
				slog.String("error", result.Error))
		}
		receipt.Results = append(receipt.Results, result)
	}

	if opts.Mine {
		mined := Result{}
		resp, err := p.ledger.Mine(ctx)
		if err != nil {
			mined.Error = err.Error()
		}
		mined.Status, mined.Response = resp.Status, resp.Body
		receipt.MineResult = &mined
	}

	receipt.PublishedAt = p.records.Now().UTC().Format(time.RFC3339)
	if err := p.records.SaveDocument(ctx, store.DocPublishReceipt, receipt); err != nil {
		return nil, err
	}
	p.audit.Info("certificates published",
		slog.String("run_id", receipt.RunID),
		slog.String("node_url", receipt.NodeURL),
		slog.Int("count", receipt.Count),
		slog.Int("ok", receipt.OK))
	return receipt, nil
}

// LoadReceipt returns the most recent publish receipt.
func LoadReceipt(ctx context.Context, records *store.Registry) (*PublishReceipt, error) {
	var receipt PublishReceipt
	if _, err := records.LoadDocument(ctx, store.DocPublishReceipt, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (p *Publisher) submit(ctx context.Context, cert certificate.Certificate) (Result, error) {
	result := Result{EquationID: cert.TokenID}
	tx := NewTransaction(p.signer.PublicKey(), cert, p.records.Now())
	signed, err := SignTransaction(p.signer, tx)
	if err != nil {
		return result, err
	}
	resp, err := p.ledger.Submit(ctx, signed)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "发布被取消")
		}
		result.Error = err.Error()
	}
	result.Status, result.Response = resp.Status, resp.Body
	return result, nil
}
