package curation

import (
	"context"
	"encoding/json"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/intake"
	"TopEquations/internal/queue"
)

// ImportJob 是批量导入作业的载荷。
type ImportJob struct {
	Entries []intake.Submission `json:"entries"`
	Options ImportOptions       `json:"options"`
}

// RegisterHandlers 把写操作注册到单写者队列。载荷在处理前重新校验。
func (s *Service) RegisterHandlers(w *queue.Worker) {
	w.Register(queue.KindSubmit, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var in intake.Submission
		if err := decodePayload(payload, &in); err != nil {
			return nil, err
		}
		in, err := intake.Normalize(in, intake.IssueDefaults)
		if err != nil {
			return nil, err
		}
		return s.Submit(ctx, in)
	})
	w.Register(queue.KindImport, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var job ImportJob
		if err := decodePayload(payload, &job); err != nil {
			return nil, err
		}
		errs := make([]error, len(job.Entries))
		for i := range job.Entries {
			normalized, err := intake.Normalize(job.Entries[i], intake.BatchDefaults)
			if err != nil {
				errs[i] = err
				continue
			}
			job.Entries[i] = normalized
		}
		return s.Import(ctx, job.Entries, errs, job.Options)
	})
	w.Register(queue.KindScore, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req ScoreRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.Score(ctx, req)
	})
	w.Register(queue.KindPromote, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req PromoteRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.Promote(ctx, req)
	})
}

func decodePayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "作业载荷无法解析")
	}
	return nil
}
