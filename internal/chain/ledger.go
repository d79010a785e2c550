package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	xerrors "TopEquations/internal/errors"
)

// DefaultTimeout bounds a single ledger request.
const DefaultTimeout = 8 * time.Second

const maxResponseBytes = 64 << 10

// Response is what a ledger returned for one request. Status is the HTTP
// status (or 200 for a transaction accepted by an EVM node); Body is the raw
// response text.
type Response struct {
	Status int    `json:"status"`
	Body   string `json:"response"`
}

// OK reports whether the ledger accepted the request.
func (r Response) OK() bool { return r.Status == http.StatusOK || r.Status == http.StatusCreated }

// Ledger submits signed certificate transactions.
type Ledger interface {
	// Submit sends one transaction. Non-success statuses are returned in
	// Response with a nil error; err is reserved for transport failures.
	Submit(ctx context.Context, tx SignedTransaction) (Response, error)
	// Mine asks the ledger to seal pending transactions into a block.
	Mine(ctx context.Context) (Response, error)
	// Endpoint identifies the ledger in receipts.
	Endpoint() string
}

// HTTPLedger talks to a simple JSON ledger node exposing /add_transaction and
// /mine_block.
type HTTPLedger struct {
	nodeURL string
	client  *http.Client
}

// HTTPOption customizes an HTTPLedger.
type HTTPOption func(*HTTPLedger)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(l *HTTPLedger) {
		if c != nil {
			l.client = c
		}
	}
}

// NewHTTPLedger creates a ledger client. A non-positive timeout falls back to
// DefaultTimeout.
func NewHTTPLedger(nodeURL string, timeout time.Duration, opts ...HTTPOption) (*HTTPLedger, error) {
	nodeURL = strings.TrimRight(strings.TrimSpace(nodeURL), "/")
	if nodeURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置账本节点地址")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := &HTTPLedger{nodeURL: nodeURL, client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Endpoint returns the node URL.
func (l *HTTPLedger) Endpoint() string { return l.nodeURL }

// Submit posts {transaction, signature} to /add_transaction.
func (l *HTTPLedger) Submit(ctx context.Context, tx SignedTransaction) (Response, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeUnknown, err, "序列化交易失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.nodeURL+"/add_transaction", bytes.NewReader(body))
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造账本请求失败")
	}
	req.Header.Set("Content-Type", "application/json")
	return l.do(req)
}

// Mine calls /mine_block.
func (l *HTTPLedger) Mine(ctx context.Context) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.nodeURL+"/mine_block", nil)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造账本请求失败")
	}
	return l.do(req)
}

func (l *HTTPLedger) do(req *http.Request) (Response, error) {
	resp, err := l.client.Do(req)
	if err != nil {
		code := xerrors.CodeLedgerFailure
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			code = xerrors.CodeTimeout
		}
		return Response{}, xerrors.Wrap(code, err, "账本请求失败", xerrors.WithMetadata("url", req.URL.String()))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{Status: resp.StatusCode}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "读取账本响应失败")
	}
	return Response{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}, nil
}

var _ Ledger = (*HTTPLedger)(nil)
