package heuristic

import (
	"sort"
	"sync"
)

// Axis 是评分维度。
type Axis string

const (
	AxisTractability Axis = "tractability"
	AxisPlausibility Axis = "plausibility"
	AxisValidation   Axis = "validation"
	AxisArtifact     Axis = "artifactCompleteness"
	AxisNovelty      Axis = "novelty"
)

// Axes 按固定顺序列出全部维度。
var Axes = []Axis{AxisTractability, AxisPlausibility, AxisValidation, AxisArtifact, AxisNovelty}

// Max 返回维度上限。
func (a Axis) Max() int {
	switch a {
	case AxisArtifact:
		return 10
	case AxisNovelty:
		return 30
	default:
		return 20
	}
}

// Rule 对单个维度做加减分，返回 0 表示未触发。
type Rule struct {
	Name   string
	Axis   Axis
	Adjust func(Features) int
}

// RuleSet 是带名称的规则集合，名称写入评审记录作为版本号。
type RuleSet struct {
	Name  string
	Base  map[Axis]int
	Rules []Rule
}

func when(cond bool, delta int) int {
	if cond {
		return delta
	}
	return 0
}

// V2 是当前默认规则集。
var V2 = RuleSet{
	Name: "heuristic-v2",
	Base: map[Axis]int{
		AxisTractability: 16,
		AxisPlausibility: 16,
		AxisValidation:   8,
		AxisArtifact:     4,
		AxisNovelty:      16,
	},
	Rules: []Rule{
		{Name: "long-equation", Axis: AxisTractability, Adjust: func(f Features) int {
			switch {
			case f.Length > 300:
				return -3
			case f.Length > 180:
				return -1
			}
			return 0
		}},
		{Name: "structured-operator", Axis: AxisTractability, Adjust: func(f Features) int {
			return when(f.ContainsAny(`\int`, `\sum`), 1)
		}},
		{Name: "has-equals", Axis: AxisTractability, Adjust: func(f Features) int {
			return when(f.HasEquals, 1)
		}},
		{Name: "command-variety", Axis: AxisTractability, Adjust: func(f Features) int {
			return when(f.UniqueCommands >= 4, 1)
		}},
		{Name: "differential-form", Axis: AxisPlausibility, Adjust: func(f Features) int {
			return when(f.ContainsAny(`\frac`, `\partial`, `\nabla`), 2)
		}},
		{Name: "transcendental", Axis: AxisPlausibility, Adjust: func(f Features) int {
			return when(f.ContainsAny("sin", "cos", "exp", "log"), 1)
		}},
		{Name: "non-trivial", Axis: AxisPlausibility, Adjust: func(f Features) int {
			return when(f.Length > 40, 1)
		}},
		{Name: "assumptions", Axis: AxisValidation, Adjust: func(f Features) int {
			return min(4, f.Assumptions)
		}},
		{Name: "dimensional-check", Axis: AxisValidation, Adjust: func(f Features) int {
			return when(f.UnitsOK && f.HasDimensional, 2)
		}},
		{Name: "evidence", Axis: AxisValidation, Adjust: func(f Features) int {
			if f.Evidence == 0 {
				return 0
			}
			if f.HasExternal {
				return min(6, 2*f.Evidence)
			}
			return min(4, f.Evidence)
		}},
		{Name: "animation", Axis: AxisArtifact, Adjust: func(f Features) int {
			return when(f.AnimationProduced, 3)
		}},
		{Name: "image", Axis: AxisArtifact, Adjust: func(f Features) int {
			return when(f.ImageProduced, 3)
		}},
		{Name: "no-equals-tractability", Axis: AxisTractability, Adjust: func(f Features) int {
			return when(!f.HasEquals, -3)
		}},
		{Name: "no-equals-plausibility", Axis: AxisPlausibility, Adjust: func(f Features) int {
			return when(!f.HasEquals, -2)
		}},
		{Name: "command-richness", Axis: AxisNovelty, Adjust: func(f Features) int {
			switch {
			case f.UniqueCommands >= 8:
				return 6
			case f.UniqueCommands >= 6:
				return 4
			case f.UniqueCommands >= 4:
				return 2
			}
			return 0
		}},
		{Name: "stated-assumptions", Axis: AxisNovelty, Adjust: func(f Features) int {
			return min(3, f.Assumptions)
		}},
		{Name: "external-evidence", Axis: AxisNovelty, Adjust: func(f Features) int {
			return when(f.HasExternal, 2)
		}},
		{Name: "structural-richness", Axis: AxisNovelty, Adjust: func(f Features) int {
			return when(f.Length > 80 && f.UniqueCommands >= 5, 2)
		}},
	},
}

var (
	ruleSetsMu sync.RWMutex
	ruleSets   = map[string]RuleSet{V2.Name: V2}
)

// Register 登记新的规则集，同名覆盖。
func Register(set RuleSet) {
	ruleSetsMu.Lock()
	defer ruleSetsMu.Unlock()
	ruleSets[set.Name] = set
}

// Lookup 按名称查找规则集。
func Lookup(name string) (RuleSet, bool) {
	ruleSetsMu.RLock()
	defer ruleSetsMu.RUnlock()
	set, ok := ruleSets[name]
	return set, ok
}

// Names 返回已登记的规则集名称。
func Names() []string {
	ruleSetsMu.RLock()
	defer ruleSetsMu.RUnlock()
	names := make([]string, 0, len(ruleSets))
	for name := range ruleSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
