package curation

import (
	"context"
	"log/slog"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/registry"
	"TopEquations/internal/scoring/blend"
	"TopEquations/internal/scoring/heuristic"
	"TopEquations/internal/store"
)

// ManualScores 是策展人手工给出的五个维度。
type ManualScores struct {
	Tractability         int `json:"tractability"`
	Plausibility         int `json:"plausibility"`
	Validation           int `json:"validation"`
	ArtifactCompleteness int `json:"artifactCompleteness"`
	Novelty              int `json:"novelty"`
}

// PromoteRequest 描述一次晋级。FromReview 与 Manual 二选一，FromReview 优先。
type PromoteRequest struct {
	SubmissionID string        `json:"submission_id"`
	FromReview   bool          `json:"from_review,omitempty"`
	Manual       *ManualScores `json:"manual,omitempty"`
	ManualScore  *int          `json:"manual_score,omitempty"`
	EquationID   string        `json:"equation_id,omitempty"`
}

// PromoteOutcome 是晋级结果。
type PromoteOutcome struct {
	SubmissionID string             `json:"submission_id"`
	EquationID   string             `json:"equation_id"`
	Score        int                `json:"score"`
	Record       *registry.Equation `json:"record"`
}

// Promote 把投稿物化为排名记录，并把记录 ID 写回 review.equationId。
// 已晋级的投稿返回 ALREADY_PROMOTED 且不做任何写入。
func (s *Service) Promote(ctx context.Context, req PromoteRequest) (*PromoteOutcome, error) {
	if req.SubmissionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 submission_id")
	}
	if !req.FromReview && req.Manual == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "手工晋级需要提供全部五个维度评分，或使用 from_review")
	}

	var outcome *PromoteOutcome
	err := s.withLock(ctx, func() error {
		subs, err := s.records.LoadSubmissions(ctx)
		if err != nil {
			return err
		}
		entry := subs.Find(req.SubmissionID)
		if entry == nil {
			return notFound(req.SubmissionID)
		}
		if registry.ParseStatus(string(entry.Status)) == registry.StatusPromoted {
			return xerrors.New(xerrors.CodeAlreadyPromoted, "投稿已晋级: "+req.SubmissionID,
				xerrors.WithSubmission(req.SubmissionID),
				xerrors.WithEquation(entry.EquationID()))
		}
		if req.FromReview && entry.Review == nil {
			return xerrors.New(xerrors.CodeInvalidArgument, "投稿尚未评分，无法使用 from_review",
				xerrors.WithSubmission(req.SubmissionID))
		}

		eqs, err := s.records.LoadEquations(ctx)
		if err != nil {
			return err
		}
		scores, novelty, total, method := s.promotionScores(entry, req)
		id := registry.NewEquationID(entry.Name, entry.SubmissionID, req.EquationID, eqs.IDs())
		today := s.today()

		record := &registry.Equation{
			ID:            id,
			Name:          entry.Name,
			FirstSeen:     today,
			Source:        orDefault(entry.Source, "manual submission"),
			Submitter:     orDefault(entry.Submitter, "unknown"),
			RepoURL:       s.repoURL(id),
			Score:         total,
			Scores:        scores,
			Units:         orDefault(entry.Units, "TBD"),
			Theory:        orDefault(entry.Theory, "PASS-WITH-ASSUMPTIONS"),
			Animation:     entry.Animation,
			Image:         entry.Image,
			Description:   entry.Description,
			Assumptions:   nonNil(entry.Assumptions),
			Date:          today,
			EquationLatex: entry.EquationLatex,
			Tags:          registry.Tags{Novelty: &registry.NoveltyTag{Score: novelty, Date: today}},
		}
		if entry.Review != nil && entry.Review.LLMScores != nil {
			llm := *entry.Review.LLMScores
			record.Tags.LLM = &llm
		}

		review := entry.Review
		if !req.FromReview || review == nil {
			review = &registry.Review{Date: today, Scores: scores, Novelty: novelty}
		}
		review.EquationID = id
		review.Score = total
		if method != "" {
			review.Method = method
		}
		if req.ManualScore != nil {
			m := heuristic.Clamp(*req.ManualScore, 0, 100)
			review.ManualScore = &m
		}
		entry.Review = review
		entry.Status = registry.StatusPromoted

		previous, err := s.records.Raw(ctx, store.DocEquations)
		if err != nil {
			return err
		}
		eqs.Entries = append(eqs.Entries, record)
		if err := s.records.SaveEquations(ctx, eqs); err != nil {
			return err
		}
		if err := s.records.SaveSubmissions(ctx, subs); err != nil {
			s.rollbackEquations(ctx, previous)
			return err
		}
		outcome = &PromoteOutcome{SubmissionID: entry.SubmissionID, EquationID: id, Score: total, Record: record}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObservePromotion()
	s.audit.Info("投稿晋级",
		slog.String("submission_id", outcome.SubmissionID),
		slog.String("equation_id", outcome.EquationID),
		slog.Int("score", outcome.Score),
		slog.Bool("from_review", req.FromReview),
		slog.Bool("manual_score", req.ManualScore != nil))
	return outcome, nil
}

// promotionScores 计算晋级快照。总分优先级：人工总分 > review 混合分 > review 总分 > 维度之和。
func (s *Service) promotionScores(entry *registry.Submission, req PromoteRequest) (registry.SubScores, int, int, string) {
	var (
		scores  registry.SubScores
		novelty int
		method  string
	)
	if req.FromReview && entry.Review != nil {
		scores = heuristic.ClampSubScores(entry.Review.Scores)
		novelty = heuristic.Clamp(entry.Review.Novelty, 0, heuristic.AxisNovelty.Max())
	} else {
		m := req.Manual
		scores = heuristic.ClampSubScores(registry.SubScores{
			Tractability:         m.Tractability,
			Plausibility:         m.Plausibility,
			Validation:           m.Validation,
			ArtifactCompleteness: m.ArtifactCompleteness,
		})
		novelty = heuristic.Clamp(m.Novelty, 0, heuristic.AxisNovelty.Max())
		method = blend.MethodManualOverride
	}

	total := scores.Sum() + novelty
	switch {
	case req.ManualScore != nil:
		total = heuristic.Clamp(*req.ManualScore, 0, 100)
		method = blend.MethodManualOverride
	case req.FromReview && entry.Review.BlendedScore != nil:
		total = *entry.Review.BlendedScore
	case req.FromReview && entry.Review.Score > 0:
		total = entry.Review.Score
	}
	return scores, novelty, total, method
}

func (s *Service) rollbackEquations(ctx context.Context, previous []byte) {
	var err error
	if previous == nil {
		err = s.records.SaveEquations(ctx, &registry.EquationSet{Entries: []*registry.Equation{}})
	} else {
		err = s.records.Store().Write(ctx, store.DocEquations, previous)
	}
	if err != nil {
		s.logger.Error("回滚排名记录失败", xerrors.LogAttr(err))
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
