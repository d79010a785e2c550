// Package curation 实现投稿的状态流转：投稿、评分、晋级以及供接口层使用的查询。
package curation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
	"TopEquations/internal/scoring/blend"
	"TopEquations/internal/scoring/heuristic"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// DefaultThreshold 是进入 ready 状态的默认分数线。
const DefaultThreshold = 65

// Config 是收录服务的显式配置。
type Config struct {
	Threshold   int
	RepoURLBase string
}

// AdvisoryScorer 是大模型评审的最小能力集。失败时返回 nil 与错误。
type AdvisoryScorer interface {
	Model() string
	Score(ctx context.Context, sub *registry.Submission) (*registry.AdvisoryScores, error)
}

// Service 串联记录存储、评分器与混合器。所有写操作都在 Locker 保护下完成整文档的读改写。
type Service struct {
	cfg      Config
	records  *store.Registry
	locker   store.Locker
	scorer   heuristic.Scorer
	advisory AdvisoryScorer
	blender  *blend.Blender
	logger   *slog.Logger
	audit    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithLocker 指定写入互斥方式。
func WithLocker(l store.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithScorer 替换启发式评分策略。
func WithScorer(sc heuristic.Scorer) Option {
	return func(s *Service) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithAdvisory 启用大模型评审。
func WithAdvisory(a AdvisoryScorer) Option {
	return func(s *Service) {
		s.advisory = a
	}
}

// WithBlender 指定混合权重。
func WithBlender(b *blend.Blender) Option {
	return func(s *Service) {
		if b != nil {
			s.blender = b
		}
	}
}

// WithLogger 指定运行日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger 指定审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造收录服务。
func NewService(records *store.Registry, cfg Config, opts ...Option) (*Service, error) {
	if records == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "记录存储未初始化")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 100 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "晋级阈值必须位于 [0,100]: %d", cfg.Threshold)
	}
	cfg.RepoURLBase = strings.TrimRight(cfg.RepoURLBase, "/")
	defaultBlender, err := blend.New(blend.DefaultWeights)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:     cfg,
		records: records,
		locker:  store.NopLocker{},
		scorer:  heuristic.New(heuristic.V2),
		blender: defaultBlender,
		logger:  logger.Named("curation"),
		audit:   logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Threshold 返回当前分数线。
func (s *Service) Threshold() int { return s.cfg.Threshold }

// AdvisoryEnabled 判断是否配置了大模型评审。
func (s *Service) AdvisoryEnabled() bool { return s.advisory != nil }

// Records 返回底层记录门面。
func (s *Service) Records() *store.Registry { return s.records }

func (s *Service) now() time.Time { return s.records.Now() }

func (s *Service) today() string { return registry.Date(s.now()) }

func (s *Service) withLock(ctx context.Context, fn func() error) error {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("释放写锁失败", slog.Any("error", err))
		}
	}()
	return fn()
}

func (s *Service) repoURL(equationID string) string {
	if s.cfg.RepoURLBase == "" {
		return ""
	}
	return s.cfg.RepoURLBase + "/" + equationID
}

func notFound(id string) error {
	return xerrors.New(xerrors.CodeNotFound, "投稿不存在: "+id, xerrors.WithSubmission(id))
}
