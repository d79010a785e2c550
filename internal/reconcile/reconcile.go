// Package reconcile 对比排名记录、证书、投稿与站点产物，报告不一致之处。
// 只读，不修改任何文档。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/registry"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// Severity 表示问题级别。
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity 解析门禁级别，未知值返回 INVALID_ARGUMENT。
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityError, SeverityWarn, SeverityInfo:
		return s, nil
	case "":
		return SeverityWarn, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "未知的门禁级别: "+raw)
	}
}

// 问题类型。
const (
	IssueMissingCertificates  = "missing_certificates"
	IssueOrphanCertificates   = "orphan_certificates"
	IssuePromotedButMissing   = "promoted_but_missing"
	IssueStaleSite            = "stale_site"
	IssueStaleCertificates    = "stale_certificates"
	IssuePendingSubmissions   = "pending_submissions"
	IssueMissingSubmitterHash = "missing_submitter_hash"
	IssueStatusMismatch       = "status_mismatch"
	IssueMissingEquationID    = "missing_equation_id"
)

// Issue 是一条不一致记录。
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	IDs      []string `json:"ids,omitempty"`
}

// 报告状态。
const (
	StatusClean = "CLEAN"
	StatusDrift = "DRIFT"
)

// Report 是一次对账的结果。
type Report struct {
	Status     string  `json:"status"`
	IssueCount int     `json:"issue_count"`
	Issues     []Issue `json:"issues"`
}

// Failed 判断是否存在不低于 gate 级别的问题。
func (r *Report) Failed(gate Severity) bool {
	for _, issue := range r.Issues {
		if issue.Severity.rank() >= gate.rank() {
			return true
		}
	}
	return false
}

// Reconciler 执行对账。
type Reconciler struct {
	records      *store.Registry
	siteArtifact string
	logger       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Reconciler)

// WithSiteArtifact 指定用于新鲜度检查的站点产物路径。
func WithSiteArtifact(path string) Option {
	return func(r *Reconciler) {
		r.siteArtifact = strings.TrimSpace(path)
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 创建对账器。
func New(records *store.Registry, opts ...Option) *Reconciler {
	r := &Reconciler{records: records, logger: logger.Named("reconcile")}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type snapshot struct {
	equations    *registry.EquationSet
	core         *registry.CanonicalSet
	famous       *registry.CanonicalSet
	certs        *certificate.Document
	submissions  *registry.SubmissionSet
	equationsAt  time.Time
	hasEquations bool
	certsAt      time.Time
	hasCerts     bool
	siteAt       time.Time
	hasSite      bool
}

// Run 读取全部文档并生成报告。
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	report := diff(snap)
	bySeverity := map[string]int{}
	for _, issue := range report.Issues {
		bySeverity[string(issue.Severity)]++
	}
	metrics.SetReconcileIssues(bySeverity)
	r.logger.Info("对账完成", slog.String("status", report.Status), slog.Int("issues", report.IssueCount))
	return report, nil
}

func (r *Reconciler) load(ctx context.Context) (*snapshot, error) {
	var (
		snap snapshot
		err  error
	)
	if snap.equations, err = r.records.LoadEquations(ctx); err != nil {
		return nil, err
	}
	if snap.core, err = r.records.LoadCanonical(ctx, store.DocCore); err != nil {
		return nil, err
	}
	if snap.famous, err = r.records.LoadCanonical(ctx, store.DocFamous); err != nil {
		return nil, err
	}
	if snap.submissions, err = r.records.LoadSubmissions(ctx); err != nil {
		return nil, err
	}
	snap.certs, err = certificate.Load(ctx, r.records)
	if err != nil {
		if !xerrors.IsCode(err, xerrors.CodeNotFound) {
			return nil, err
		}
		snap.certs = &certificate.Document{}
	}
	if snap.equationsAt, snap.hasEquations, err = r.records.Stamp(ctx, store.DocEquations); err != nil {
		return nil, err
	}
	if snap.certsAt, snap.hasCerts, err = r.records.Stamp(ctx, store.DocCertificates); err != nil {
		return nil, err
	}
	if r.siteArtifact != "" {
		info, err := os.Stat(r.siteArtifact)
		switch {
		case err == nil:
			snap.siteAt, snap.hasSite = info.ModTime(), true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取站点产物失败", xerrors.WithMetadata("path", r.siteArtifact))
		}
	}
	return &snap, nil
}

// diff 是纯函数：相同输入总是得到相同报告。
func diff(s *snapshot) *Report {
	var issues []Issue

	ranked := s.equations.IDs()
	all := map[string]struct{}{}
	for id := range ranked {
		all[id] = struct{}{}
	}
	for _, c := range s.core.Entries {
		all[c.ID] = struct{}{}
	}
	for _, c := range s.famous.Entries {
		all[c.ID] = struct{}{}
	}
	certIDs := s.certs.TokenIDs()

	if missing := difference(all, certIDs); len(missing) > 0 {
		issues = append(issues, Issue{
			Type:     IssueMissingCertificates,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("%d 条记录没有证书", len(missing)),
			IDs:      missing,
		})
	}
	if orphans := difference(certIDs, all); len(orphans) > 0 {
		issues = append(issues, Issue{
			Type:     IssueOrphanCertificates,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d 张证书没有对应记录", len(orphans)),
			IDs:      orphans,
		})
	}

	promoted := map[string]struct{}{}
	var mismatched, unlinked, pending []string
	for _, entry := range s.submissions.Entries {
		status := registry.ParseStatus(string(entry.Status))
		eqID := entry.EquationID()
		switch {
		case status == registry.StatusPromoted && eqID != "":
			promoted[eqID] = struct{}{}
		case status == registry.StatusPromoted:
			unlinked = append(unlinked, entry.SubmissionID)
		case status != registry.StatusPromoted && eqID != "":
			if _, ok := ranked[eqID]; ok {
				mismatched = append(mismatched, entry.SubmissionID)
			}
		}
		if status == registry.StatusPending || status == registry.StatusNeedsReview {
			pending = append(pending, entry.SubmissionID)
		}
	}
	if missing := difference(promoted, ranked); len(missing) > 0 {
		issues = append(issues, Issue{
			Type:     IssuePromotedButMissing,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d 个已晋级投稿在排名记录中缺失", len(missing)),
			IDs:      missing,
		})
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		issues = append(issues, Issue{
			Type:     IssueStatusMismatch,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d 个投稿引用了排名记录但状态不是 promoted", len(mismatched)),
			IDs:      mismatched,
		})
	}
	if len(unlinked) > 0 {
		sort.Strings(unlinked)
		issues = append(issues, Issue{
			Type:     IssueMissingEquationID,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d 个已晋级投稿没有记录 equationId", len(unlinked)),
			IDs:      unlinked,
		})
	}

	if s.hasEquations && s.hasSite && s.equationsAt.After(s.siteAt) {
		issues = append(issues, Issue{
			Type:     IssueStaleSite,
			Severity: SeverityWarn,
			Message:  "站点产物早于排名记录",
		})
	}
	if s.hasEquations && s.hasCerts && s.equationsAt.After(s.certsAt) {
		issues = append(issues, Issue{
			Type:     IssueStaleCertificates,
			Severity: SeverityWarn,
			Message:  "证书文档早于排名记录",
		})
	}

	if len(pending) > 0 {
		issues = append(issues, Issue{
			Type:     IssuePendingSubmissions,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%d 个投稿等待评审", len(pending)),
			IDs:      pending,
		})
	}

	var noHash []string
	for _, c := range s.certs.Entries {
		if c.Tier == certificate.TierDerived && c.SubmitterHash == "" {
			noHash = append(noHash, c.TokenID)
		}
	}
	if len(noHash) > 0 {
		sort.Strings(noHash)
		issues = append(issues, Issue{
			Type:     IssueMissingSubmitterHash,
			Severity: SeverityWarn,
			Message:  fmt.Sprintf("%d 张派生证书缺少 submitter_hash", len(noHash)),
			IDs:      noHash,
		})
	}

	report := &Report{Status: StatusClean, IssueCount: len(issues), Issues: issues}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	if report.Failed(SeverityWarn) {
		report.Status = StatusDrift
	}
	return report
}

func difference(a, b map[string]struct{}) []string {
	var out []string
	for id := range a {
		if id == "" {
			continue
		}
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
