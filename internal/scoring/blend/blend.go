// Package blend 把启发式总分与大模型总分按固定权重合成最终分数。
package blend

import (
	"fmt"
	"math"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
)

// 评分方法标签，写入 review.method。
const (
	MethodHeuristicOnly  = "heuristic-only"
	MethodManualOverride = "manual-override"
	methodBlendedPrefix  = "blended-v1"
)

// BlendedMethod 返回带模型名的混合方法标签。
func BlendedMethod(model string) string {
	return fmt.Sprintf("%s (%s)", methodBlendedPrefix, model)
}

// Weights 是启发式与大模型分数的权重，两者之和必须为 1。
type Weights struct {
	Heuristic float64
	Advisory  float64
}

// DefaultWeights 是仓库约定的 0.4 / 0.6。
var DefaultWeights = Weights{Heuristic: 0.4, Advisory: 0.6}

// Validate 检查权重取值。
func (w Weights) Validate() error {
	if w.Heuristic < 0 || w.Heuristic > 1 || w.Advisory < 0 || w.Advisory > 1 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "混合权重必须位于 [0,1]: %v/%v", w.Heuristic, w.Advisory)
	}
	if math.Abs(w.Heuristic+w.Advisory-1) > 1e-9 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "混合权重之和必须为 1: %v", w.Heuristic+w.Advisory)
	}
	return nil
}

// Blender 负责混合与最终分数决策。
type Blender struct {
	weights Weights
}

// New 创建混合器，权重非法时返回错误。
func New(w Weights) (*Blender, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Blender{weights: w}, nil
}

// Weights 返回当前权重。
func (b *Blender) Weights() Weights { return b.weights }

// Blend 返回 round(Wh*h + Wl*l)。两个输入先截断到 0..100，结果因此也在 0..100。
func (b *Blender) Blend(heuristic, advisory int) int {
	h := float64(clamp100(heuristic))
	l := float64(clamp100(advisory))
	return int(math.RoundToEven(b.weights.Heuristic*h + b.weights.Advisory*l))
}

// Decision 是一次评分的最终结果。Blended 仅在使用了大模型评分时非空。
type Decision struct {
	Final   int
	Method  string
	Blended *int
	Manual  *int
}

// Decide 依次考虑人工覆盖、大模型混合与纯启发式。人工分数总是胜出，并单独记录。
func (b *Blender) Decide(heuristic int, advisory *registry.AdvisoryScores, model string, manual *int) Decision {
	d := Decision{Final: clamp100(heuristic), Method: MethodHeuristicOnly}
	if advisory != nil {
		blended := b.Blend(heuristic, advisory.Total)
		d.Final = blended
		d.Blended = &blended
		d.Method = BlendedMethod(model)
	}
	if manual != nil {
		m := clamp100(*manual)
		d.Final = m
		d.Manual = &m
		d.Method = MethodManualOverride
	}
	return d
}

func clamp100(v int) int {
	return max(0, min(100, v))
}
