package heuristic

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"TopEquations/internal/registry"
)

var latexCommand = regexp.MustCompile(`\\[a-zA-Z]+`)

var externalKeywords = []string{"peer", "journal", "arxiv", "doi", "experiment", "replicat"}

// Features 是规则判断所需的投稿特征，由 Extract 一次性计算。
type Features struct {
	Equation          string
	Lower             string
	Length            int
	UniqueCommands    int
	HasEquals         bool
	Assumptions       int
	Evidence          int
	HasExternal       bool
	HasDimensional    bool
	UnitsOK           bool
	AnimationProduced bool
	ImageProduced     bool
}

// Extract 从投稿中提取特征。长度按 Unicode 码点计数。
func Extract(s *registry.Submission) Features {
	if s == nil {
		return Features{}
	}
	eq := s.EquationLatex
	f := Features{
		Equation:          eq,
		Lower:             strings.ToLower(eq),
		Length:            utf8.RuneCountInString(eq),
		HasEquals:         strings.Contains(eq, "="),
		Assumptions:       len(s.Assumptions),
		Evidence:          len(s.Evidence),
		UnitsOK:           strings.EqualFold(strings.TrimSpace(s.Units), "OK"),
		AnimationProduced: s.Animation.Produced(),
		ImageProduced:     s.Image.Produced(),
	}

	unique := make(map[string]struct{})
	for _, cmd := range latexCommand.FindAllString(eq, -1) {
		unique[cmd] = struct{}{}
	}
	f.UniqueCommands = len(unique)

	for _, item := range s.Evidence {
		lower := strings.ToLower(item)
		if strings.Contains(lower, "dimension") || strings.Contains(lower, "unit") {
			f.HasDimensional = true
		}
		for _, kw := range externalKeywords {
			if strings.Contains(lower, kw) {
				f.HasExternal = true
				break
			}
		}
	}
	return f
}

// ContainsAny 判断小写公式中是否出现任一片段。
func (f Features) ContainsAny(tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(f.Lower, tok) {
			return true
		}
	}
	return false
}
