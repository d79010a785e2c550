package advisory

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
)

const (
	axisMax          = 20
	maxJustification = 300
)

// ParseScores 严格解析模型输出：去掉代码围栏，只读取五个已知键并截断到 0..20。
// 任何无法解析为 JSON 对象的输出都视为失败。数值按 json.Number 读取，超出 float64 范围的值同样被截断。
func ParseScores(raw string) (*registry.AdvisoryScores, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(stripFence(raw))))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAdvisoryFailure, err, "模型输出不是合法的 JSON 对象")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, xerrors.New(xerrors.CodeAdvisoryFailure, "模型输出在 JSON 对象之后存在多余内容")
	}
	if data == nil {
		return nil, xerrors.New(xerrors.CodeAdvisoryFailure, "模型输出不是合法的 JSON 对象")
	}

	scores := &registry.AdvisoryScores{
		PhysicalValidity: axis(data["physical_validity"]),
		Novelty:          axis(data["novelty"]),
		Clarity:          axis(data["clarity"]),
		EvidenceQuality:  axis(data["evidence_quality"]),
		Significance:     axis(data["significance"]),
	}
	scores.Total = scores.PhysicalValidity + scores.Novelty + scores.Clarity + scores.EvidenceQuality + scores.Significance
	if text, ok := data["justification"].(string); ok {
		scores.Justification = truncate(strings.TrimSpace(text), maxJustification)
	}
	return scores, nil
}

func axis(v any) int {
	num, ok := v.(json.Number)
	if !ok {
		return 0
	}
	// 溢出时 ParseFloat 返回 ±Inf 与 ErrRange，±Inf 仍可截断。
	n, err := strconv.ParseFloat(num.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) || math.IsNaN(n) {
		return 0
	}
	return int(math.Max(0, math.Min(axisMax, math.RoundToEven(n))))
}

func stripFence(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	lines := strings.Split(clean, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
