package curation

import (
	"context"
	"log/slog"
	"strings"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/registry"
	"TopEquations/internal/scoring/blend"
	"TopEquations/internal/scoring/heuristic"
)

// ScoreRequest 选择评分目标。SubmissionID 为空且未设置 AllPending 时评分最近一条 pending 投稿。
type ScoreRequest struct {
	SubmissionID    string `json:"submission_id,omitempty"`
	AllPending      bool   `json:"all_pending,omitempty"`
	IncludePromoted bool   `json:"include_promoted,omitempty"`
	SyncEquations   bool   `json:"sync_equations,omitempty"`
	UseLLM          bool   `json:"use_llm,omitempty"`
	ManualScore     *int   `json:"manual_score,omitempty"`
	Threshold       *int   `json:"threshold,omitempty"`
}

// ScoreOutcome 是单条投稿的评分结果。
type ScoreOutcome struct {
	SubmissionID   string                   `json:"submission_id"`
	Status         registry.Status          `json:"status"`
	Score          int                      `json:"score"`
	HeuristicScore int                      `json:"heuristic_score"`
	Method         string                   `json:"method"`
	Blended        *int                     `json:"blended_score,omitempty"`
	Advisory       *registry.AdvisoryScores `json:"llm_scores,omitempty"`
	AdvisoryError  string                   `json:"llm_error,omitempty"`
	EquationID     string                   `json:"equation_id,omitempty"`
	Synced         bool                     `json:"synced,omitempty"`
}

// ScoreReport 汇总一次评分运行。
type ScoreReport struct {
	Results []ScoreOutcome `json:"results"`
	Synced  int            `json:"synced"`
}

// Score 运行启发式评分，按需叠加大模型评审并混合，写回 review 与状态。
// 已晋级投稿只在 IncludePromoted 时重新评分，状态保持 promoted；
// 同时设置 SyncEquations 时把新分数同步到对应排名记录，任何一条无法定位则整体失败且不写入。
func (s *Service) Score(ctx context.Context, req ScoreRequest) (*ScoreReport, error) {
	if req.UseLLM && s.advisory == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置大模型评审，无法使用 --llm")
	}
	threshold := s.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
		if threshold < 0 || threshold > 100 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "阈值必须位于 [0,100]: %d", threshold)
		}
	}

	report := &ScoreReport{Results: []ScoreOutcome{}}
	err := s.withLock(ctx, func() error {
		subs, err := s.records.LoadSubmissions(ctx)
		if err != nil {
			return err
		}
		targets := pickTargets(subs, strings.TrimSpace(req.SubmissionID), req.AllPending, req.IncludePromoted)
		if len(targets) == 0 {
			if req.SubmissionID != "" {
				return notFound(req.SubmissionID)
			}
			return xerrors.New(xerrors.CodeNotFound, "没有匹配的待评分投稿")
		}

		var eqs *registry.EquationSet
		for _, entry := range targets {
			promoted := registry.ParseStatus(string(entry.Status)) == registry.StatusPromoted
			if promoted && !req.IncludePromoted {
				continue
			}
			outcome := s.scoreEntry(ctx, entry, req, threshold)
			if promoted && req.SyncEquations {
				if eqs == nil {
					if eqs, err = s.records.LoadEquations(ctx); err != nil {
						return err
					}
				}
				id, err := s.syncEquation(entry, eqs)
				if err != nil {
					return err
				}
				outcome.EquationID = id
				outcome.Synced = true
				report.Synced++
			}
			report.Results = append(report.Results, outcome)
		}

		if eqs != nil && report.Synced > 0 {
			if err := s.records.SaveEquations(ctx, eqs); err != nil {
				return err
			}
		}
		return s.records.SaveSubmissions(ctx, subs)
	})
	if err != nil {
		return nil, err
	}
	for _, outcome := range report.Results {
		metrics.ObserveScore(outcome.Method)
		s.logger.Info("投稿评分完成",
			slog.String("submission_id", outcome.SubmissionID),
			slog.Int("score", outcome.Score),
			slog.Int("heuristic_score", outcome.HeuristicScore),
			slog.String("method", outcome.Method),
			slog.String("status", string(outcome.Status)))
		if outcome.Method == blend.MethodManualOverride {
			s.audit.Info("人工覆盖评分", slog.String("submission_id", outcome.SubmissionID), slog.Int("score", outcome.Score))
		}
	}
	return report, nil
}

// scoreEntry 在内存中更新单条投稿的 review 与状态。
func (s *Service) scoreEntry(ctx context.Context, entry *registry.Submission, req ScoreRequest, threshold int) ScoreOutcome {
	h := s.scorer.Score(entry)

	var (
		advisory *registry.AdvisoryScores
		model    string
		advErr   string
	)
	if req.UseLLM {
		model = s.advisory.Model()
		scores, err := s.advisory.Score(ctx, entry)
		if err != nil || scores == nil {
			metrics.ObserveAdvisoryFailure()
			if err != nil {
				advErr = err.Error()
			}
			s.logger.Warn("大模型评审失败，回退为纯启发式评分", slog.String("submission_id", entry.SubmissionID), slog.String("error", advErr))
		} else {
			advisory = scores
		}
	}
	decision := s.blender.Decide(h.Total, advisory, model, req.ManualScore)

	review := &registry.Review{
		Date:             s.today(),
		EquationID:       entry.EquationID(),
		Score:            decision.Final,
		HeuristicScore:   h.Total,
		HeuristicVersion: h.Version,
		Scores:           h.SubScores(),
		Novelty:          h.Novelty,
		Method:           decision.Method,
		ManualScore:      decision.Manual,
	}
	if advisory != nil {
		review.LLMScores = advisory
		review.LLMModel = model
		review.BlendedScore = decision.Blended
	}
	entry.Review = review

	if registry.ParseStatus(string(entry.Status)) != registry.StatusPromoted {
		if decision.Final >= threshold {
			entry.Status = registry.StatusReady
		} else {
			entry.Status = registry.StatusNeedsReview
		}
	}
	return ScoreOutcome{
		SubmissionID:   entry.SubmissionID,
		Status:         entry.Status,
		Score:          decision.Final,
		HeuristicScore: h.Total,
		Method:         decision.Method,
		Blended:        review.BlendedScore,
		Advisory:       advisory,
		AdvisoryError:  advErr,
		EquationID:     review.EquationID,
	}
}

// syncEquation 把 review 写回排名记录。优先按 review.equationId 定位；
// 缺失时仅在恰好一条记录同名时按名称回退。
func (s *Service) syncEquation(entry *registry.Submission, eqs *registry.EquationSet) (string, error) {
	rec, err := resolveRecord(entry, eqs)
	if err != nil {
		return "", err
	}
	review := entry.Review
	rec.Score = review.Score
	rec.Scores = review.Scores
	rec.Tags.Novelty = &registry.NoveltyTag{Score: heuristic.Clamp(review.Novelty, 0, heuristic.AxisNovelty.Max()), Date: s.today()}
	if review.LLMScores != nil {
		llm := *review.LLMScores
		rec.Tags.LLM = &llm
	}
	review.EquationID = rec.ID
	return rec.ID, nil
}

func resolveRecord(entry *registry.Submission, eqs *registry.EquationSet) (*registry.Equation, error) {
	if id := entry.EquationID(); id != "" {
		if rec := eqs.Find(id); rec != nil {
			return rec, nil
		}
		return nil, xerrors.New(xerrors.CodeUnresolvedRecord, "review.equationId 指向的排名记录不存在",
			xerrors.WithSubmission(entry.SubmissionID),
			xerrors.WithEquation(id))
	}
	matches := eqs.FindByName(entry.Name)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, xerrors.New(xerrors.CodeUnresolvedRecord, "找不到同名的排名记录",
			xerrors.WithSubmission(entry.SubmissionID))
	default:
		return nil, xerrors.Newf(xerrors.CodeUnresolvedRecord, "存在 %d 条同名排名记录，无法确定同步目标", len(matches))
	}
}

func pickTargets(subs *registry.SubmissionSet, id string, allPending, includePromoted bool) []*registry.Submission {
	if id != "" {
		if entry := subs.Find(id); entry != nil {
			return []*registry.Submission{entry}
		}
		return nil
	}
	if allPending {
		if includePromoted {
			return subs.Entries
		}
		var out []*registry.Submission
		for _, entry := range subs.Entries {
			if registry.ParseStatus(string(entry.Status)) == registry.StatusPending {
				out = append(out, entry)
			}
		}
		return out
	}
	for i := len(subs.Entries) - 1; i >= 0; i-- {
		entry := subs.Entries[i]
		status := registry.ParseStatus(string(entry.Status))
		if status == registry.StatusPending || includePromoted {
			return []*registry.Submission{entry}
		}
	}
	return nil
}
