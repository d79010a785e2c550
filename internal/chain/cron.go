package chain

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// DefaultDebounce coalesces bursts of file events into one run.
const DefaultDebounce = 2 * time.Second

// CronResult summarizes one cron pass.
type CronResult struct {
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason,omitempty"`
	Receipt *PublishReceipt `json:"receipt,omitempty"`
	Issued  []string        `json:"issued_receipts"`
}

// RunOptions controls a cron pass.
type RunOptions struct {
	// Force ignores the certificate/receipt timestamp comparison.
	Force bool
}

// Cron re-exports and republishes certificates when they changed since the
// last publish, then issues receipts for promoted submissions.
type Cron struct {
	records   *store.Registry
	exporter  *certificate.Exporter
	publisher *Publisher
	issuer    *Issuer
	locker    store.Locker
	logger    *slog.Logger
}

// CronOption customizes a Cron.
type CronOption func(*Cron)

// WithCronLocker serializes cron passes with other writers.
func WithCronLocker(l store.Locker) CronOption {
	return func(c *Cron) {
		if l != nil {
			c.locker = l
		}
	}
}

// WithCronLogger overrides the logger.
func WithCronLogger(l *slog.Logger) CronOption {
	return func(c *Cron) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCron wires a cron runner. Receipts are signed with the publisher's key.
func NewCron(records *store.Registry, exporter *certificate.Exporter, publisher *Publisher, opts ...CronOption) *Cron {
	c := &Cron{
		records:   records,
		exporter:  exporter,
		publisher: publisher,
		issuer:    NewIssuer(records, publisher.Signer()),
		locker:    store.NopLocker{},
		logger:    logger.Named("chain.cron"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run performs one pass.
func (c *Cron) Run(ctx context.Context, opts RunOptions) (*CronResult, error) {
	unlock, err := c.locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			c.logger.Warn("释放写锁失败", slog.Any("error", err))
		}
	}()

	if !opts.Force {
		certStamp, ok, err := c.records.Stamp(ctx, store.DocCertificates)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &CronResult{Skipped: true, Reason: "尚未导出证书", Issued: []string{}}, nil
		}
		receiptStamp, ok, err := c.records.Stamp(ctx, store.DocPublishReceipt)
		if err != nil {
			return nil, err
		}
		if ok && !certStamp.After(receiptStamp) {
			return &CronResult{Skipped: true, Reason: "证书自上次发布后未变化", Issued: []string{}}, nil
		}
	}

	if _, err := c.exporter.Export(ctx); err != nil {
		return nil, err
	}
	receipt, err := c.publisher.Publish(ctx, PublishOptions{Mine: true})
	if err != nil {
		return nil, err
	}
	issued, err := c.issueMissing(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("定时发布完成",
		slog.String("run_id", receipt.RunID),
		slog.Int("ok", receipt.OK),
		slog.Int("count", receipt.Count),
		slog.Int("receipts", len(issued)))
	return &CronResult{Receipt: receipt, Issued: issued}, nil
}

func (c *Cron) issueMissing(ctx context.Context) ([]string, error) {
	subs, err := c.records.LoadSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	issued := []string{}
	for _, entry := range subs.Entries {
		if registry.ParseStatus(string(entry.Status)) != registry.StatusPromoted {
			continue
		}
		exists, err := c.records.Exists(ctx, store.SubmitterReceipt(entry.SubmissionID))
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if _, err := c.issuer.Issue(ctx, entry.SubmissionID); err != nil {
			return nil, err
		}
		issued = append(issued, entry.SubmissionID)
	}
	return issued, nil
}

// WatchTargets are the files whose changes trigger a pass.
type WatchTargets struct {
	Certificates string
	Equations    string
}

// Watch runs a pass whenever the certificate or ranked-record file changes,
// until ctx is cancelled. A change to the ranked records forces a pass since
// the certificates are stale by definition.
func (c *Cron) Watch(ctx context.Context, targets WatchTargets, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "创建文件监听失败")
	}
	defer watcher.Close()

	watched := map[string]struct{}{}
	for _, path := range []string{targets.Certificates, targets.Equations} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建监听目录失败")
		}
		if err := watcher.Add(dir); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "监听目录失败", xerrors.WithMetadata("dir", dir))
		}
		watched[dir] = struct{}{}
	}
	if len(watched) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "没有需要监听的文件")
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
		force bool
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(ev.Name)
			switch {
			case targets.Equations != "" && name == filepath.Clean(targets.Equations):
				force = true
			case targets.Certificates != "" && name == filepath.Clean(targets.Certificates):
			default:
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("文件监听出错", slog.Any("error", err))
		case <-fire:
			fire = nil
			result, err := c.Run(ctx, RunOptions{Force: force})
			force = false
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("定时发布失败", xerrors.LogAttr(err))
				continue
			}
			if result.Skipped {
				c.logger.Debug("跳过发布", slog.String("reason", result.Reason))
			}
		}
	}
}
