// Package advisory 通过大模型给出仅供参考的五维评分。结果只参与加权混合，
// 永远不能单独决定晋级。
package advisory

import (
	"context"
	"log/slog"

	"TopEquations/internal/llm"
	"TopEquations/internal/registry"
	"TopEquations/pkg/logger"
)

// Scorer 调用模型并严格解析结果。
type Scorer struct {
	client      llm.Client
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// Option 定义可选配置。
type Option func(*Scorer)

// WithSampling 设置采样温度与最大输出长度。
func WithSampling(temperature float32, maxTokens int) Option {
	return func(s *Scorer) {
		s.temperature = temperature
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 创建评审器。
func New(client llm.Client, opts ...Option) *Scorer {
	s := &Scorer{
		client:      client,
		temperature: 0.2,
		maxTokens:   200,
		logger:      logger.Named("advisory"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Model 返回模型 ID，用于记录评分来源。
func (s *Scorer) Model() string {
	return s.client.Model()
}

// Score 返回模型评分。任何网络、状态码或解析错误都返回 nil 与错误，调用方应回退到纯启发式评分。
func (s *Scorer) Score(ctx context.Context, sub *registry.Submission) (*registry.AdvisoryScores, error) {
	prompt := BuildPrompt(sub)
	resp, err := s.client.Complete(ctx, llmRequest(prompt, s.temperature, s.maxTokens))
	if err != nil {
		s.logger.Warn("模型评分失败", slog.String("submission_id", submissionID(sub)), slog.Any("error", err))
		return nil, err
	}
	scores, err := ParseScores(resp.Content)
	if err != nil {
		s.logger.Warn("模型输出无法解析", slog.String("submission_id", submissionID(sub)), slog.Any("error", err))
		return nil, err
	}
	s.logger.Debug("模型评分完成",
		slog.String("submission_id", submissionID(sub)),
		slog.String("model", resp.Model),
		slog.Int("llm_total", scores.Total))
	return scores, nil
}

func llmRequest(p Prompt, temperature float32, maxTokens int) llm.Request {
	return llm.Request{System: p.System, User: p.User, Temperature: temperature, MaxTokens: maxTokens}
}

func submissionID(sub *registry.Submission) string {
	if sub == nil {
		return ""
	}
	return sub.SubmissionID
}
