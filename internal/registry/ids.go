package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	submissionSlugLen = 48
	equationSlugLen   = 56
	dateLayout        = "2006-01-02"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug 将名称转换为小写短横线形式，截断到 max 个字符，空值回退为 fallback。
func Slug(s string, max int, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(nonSlug.ReplaceAllString(s, "-"), "-")
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	if s == "" {
		return fallback
	}
	return s
}

// Date 以 YYYY-MM-DD 格式化日期。
func Date(t time.Time) string {
	return t.Format(dateLayout)
}

// NewSubmissionID 生成 sub-<日期>-<slug>，冲突时追加 -2、-3。
func NewSubmissionID(name string, now time.Time, existing map[string]struct{}) string {
	base := fmt.Sprintf("sub-%s-%s", Date(now), Slug(name, submissionSlugLen, "equation"))
	if _, taken := existing[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}

// NewEquationID 生成 eq-<slug>。与已有记录冲突时追加投稿 ID slug 的最后 8 个字符，
// 仍冲突则继续追加数字后缀。override 非空时以其为基础。
func NewEquationID(name, submissionID, override string, existing map[string]struct{}) string {
	base := strings.TrimSpace(override)
	if base == "" {
		base = "eq-" + Slug(name, equationSlugLen, "submission")
	}
	if _, taken := existing[base]; !taken {
		return base
	}
	suffix := Slug(submissionID, 0, "submission")
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	candidate := base + "-" + suffix
	if _, taken := existing[candidate]; !taken {
		return candidate
	}
	for n := 2; ; n++ {
		next := fmt.Sprintf("%s-%d", candidate, n)
		if _, taken := existing[next]; !taken {
			return next
		}
	}
}
