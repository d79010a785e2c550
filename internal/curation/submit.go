package curation

import (
	"context"
	"log/slog"
	"time"

	"TopEquations/internal/intake"
	"TopEquations/internal/registry"
)

// Submit 保存一条已通过校验的投稿，状态为 pending。
func (s *Service) Submit(ctx context.Context, in intake.Submission) (*registry.Submission, error) {
	var created *registry.Submission
	err := s.withLock(ctx, func() error {
		subs, err := s.records.LoadSubmissions(ctx)
		if err != nil {
			return err
		}
		created = s.appendSubmission(subs, in)
		return s.records.SaveSubmissions(ctx, subs)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Info("收到投稿",
		slog.String("submission_id", created.SubmissionID),
		slog.String("name", created.Name),
		slog.String("source", created.Source),
		slog.String("submitter", created.Submitter))
	return created.Clone(), nil
}

func (s *Service) appendSubmission(subs *registry.SubmissionSet, in intake.Submission) *registry.Submission {
	now := s.now()
	entry := &registry.Submission{
		SubmissionID:  registry.NewSubmissionID(in.Name, now, subs.IDs()),
		SubmittedAt:   now.UTC().Format(time.RFC3339),
		Status:        registry.StatusPending,
		Name:          in.Name,
		EquationLatex: in.Equation,
		Description:   in.Description,
		Source:        in.Source,
		Submitter:     in.Submitter,
		Units:         in.Units,
		Theory:        in.Theory,
		Assumptions:   nonNil(in.Assumptions),
		Evidence:      nonNil(in.Evidence),
		Animation:     registry.PlannedArtifact(),
		Image:         registry.PlannedArtifact(),
	}
	subs.Entries = append(subs.Entries, entry)
	return entry
}

// ImportOptions 控制批量导入后的自动评分与晋级。
type ImportOptions struct {
	Score   bool `json:"score"`
	UseLLM  bool `json:"use_llm"`
	Promote bool `json:"promote"`
}

// Skipped 记录被跳过的批量条目。
type Skipped struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// ImportReport 汇总一次批量导入。
type ImportReport struct {
	Imported []string          `json:"imported"`
	Skipped  []Skipped         `json:"skipped,omitempty"`
	Scored   []ScoreOutcome    `json:"scored,omitempty"`
	Promoted []*PromoteOutcome `json:"promoted,omitempty"`
}

// Import 批量写入投稿。errs 与 entries 一一对应，非空的条目被跳过。
// 开启 Score 时逐条评分；开启 Promote 时只晋级评分后达到 ready 的投稿。
func (s *Service) Import(ctx context.Context, entries []intake.Submission, errs []error, opts ImportOptions) (*ImportReport, error) {
	if opts.Promote {
		opts.Score = true
	}
	report := &ImportReport{Imported: []string{}}
	err := s.withLock(ctx, func() error {
		subs, err := s.records.LoadSubmissions(ctx)
		if err != nil {
			return err
		}
		for i, in := range entries {
			if i < len(errs) && errs[i] != nil {
				report.Skipped = append(report.Skipped, Skipped{Index: i, Name: in.Name, Reason: errs[i].Error()})
				continue
			}
			created := s.appendSubmission(subs, in)
			report.Imported = append(report.Imported, created.SubmissionID)
		}
		if len(report.Imported) == 0 {
			return nil
		}
		return s.records.SaveSubmissions(ctx, subs)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Info("批量导入完成", slog.Int("imported", len(report.Imported)), slog.Int("skipped", len(report.Skipped)))

	if !opts.Score {
		return report, nil
	}
	for _, id := range report.Imported {
		scored, err := s.Score(ctx, ScoreRequest{SubmissionID: id, UseLLM: opts.UseLLM})
		if err != nil {
			return report, err
		}
		report.Scored = append(report.Scored, scored.Results...)
	}
	if !opts.Promote {
		return report, nil
	}
	for _, outcome := range report.Scored {
		if outcome.Status != registry.StatusReady {
			continue
		}
		promoted, err := s.Promote(ctx, PromoteRequest{SubmissionID: outcome.SubmissionID, FromReview: true})
		if err != nil {
			return report, err
		}
		report.Promoted = append(report.Promoted, promoted)
	}
	return report, nil
}

func nonNil(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	return out
}
