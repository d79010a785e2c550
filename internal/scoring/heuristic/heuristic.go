// Package heuristic 实现确定性的启发式评分，作为收录门槛的唯一必要条件。
package heuristic

import (
	"math"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
)

// Result 是一次启发式评分的结果。Total 为五个维度截断后的原始和（0..100）。
type Result struct {
	Tractability int      `json:"tractability"`
	Plausibility int      `json:"plausibility"`
	Validation   int      `json:"validation"`
	Artifact     int      `json:"artifactCompleteness"`
	Novelty      int      `json:"novelty"`
	Total        int      `json:"score"`
	Version      string   `json:"version"`
	Fired        []string `json:"fired,omitempty"`
}

// SubScores 返回四个可加和的维度。
func (r Result) SubScores() registry.SubScores {
	return registry.SubScores{
		Tractability:         r.Tractability,
		Plausibility:         r.Plausibility,
		Validation:           r.Validation,
		ArtifactCompleteness: r.Artifact,
	}
}

// Scorer 是可替换的评分策略。
type Scorer interface {
	Version() string
	Score(s *registry.Submission) Result
}

// RuleScorer 依据规则集评分。纯函数，相同输入总得到相同结果。
type RuleScorer struct {
	set RuleSet
}

// New 使用给定规则集创建评分器。
func New(set RuleSet) *RuleScorer {
	return &RuleScorer{set: set}
}

// NewByName 按名称创建评分器。
func NewByName(name string) (*RuleScorer, error) {
	set, ok := Lookup(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的启发式规则集", xerrors.WithMetadata("rule_set", name))
	}
	return New(set), nil
}

// Version 返回规则集名称。
func (s *RuleScorer) Version() string { return s.set.Name }

// Score 对投稿评分。
func (s *RuleScorer) Score(sub *registry.Submission) Result {
	f := Extract(sub)
	raw := make(map[Axis]int, len(Axes))
	for axis, base := range s.set.Base {
		raw[axis] = base
	}
	var fired []string
	for _, rule := range s.set.Rules {
		if delta := rule.Adjust(f); delta != 0 {
			raw[rule.Axis] += delta
			fired = append(fired, rule.Name)
		}
	}

	res := Result{
		Tractability: Clamp(raw[AxisTractability], 0, AxisTractability.Max()),
		Plausibility: Clamp(raw[AxisPlausibility], 0, AxisPlausibility.Max()),
		Validation:   Clamp(raw[AxisValidation], 0, AxisValidation.Max()),
		Artifact:     Clamp(raw[AxisArtifact], 0, AxisArtifact.Max()),
		Novelty:      Clamp(raw[AxisNovelty], 0, AxisNovelty.Max()),
		Version:      s.set.Name,
		Fired:        fired,
	}
	res.Total = res.Tractability + res.Plausibility + res.Validation + res.Artifact + res.Novelty
	return res
}

// Clamp 将 v 限制在 [lo, hi]。
func Clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// ClampSubScores 按各维度上限截断子评分。
func ClampSubScores(s registry.SubScores) registry.SubScores {
	return registry.SubScores{
		Tractability:         Clamp(s.Tractability, 0, AxisTractability.Max()),
		Plausibility:         Clamp(s.Plausibility, 0, AxisPlausibility.Max()),
		Validation:           Clamp(s.Validation, 0, AxisValidation.Max()),
		ArtifactCompleteness: Clamp(s.ArtifactCompleteness, 0, AxisArtifact.Max()),
	}
}

// Normalized70 把四个维度之和（满分 70）换算为百分制，仅用于手工维护的核心与经典公式。
func Normalized70(t, p, v, a int) int {
	return int(math.RoundToEven(float64(t+p+v+a) / 70.0 * 100.0))
}

var _ Scorer = (*RuleScorer)(nil)
