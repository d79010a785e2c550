package registry

import (
	"slices"
	"strings"
)

// Status 表示投稿在收录流程中的状态。
type Status string

const (
	StatusPending     Status = "pending"
	StatusNeedsReview Status = "needs-review"
	StatusReady       Status = "ready"
	StatusPromoted    Status = "promoted"
)

// ParseStatus 忽略大小写解析状态，空值视为 pending。
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusNeedsReview:
		return StatusNeedsReview
	case StatusReady:
		return StatusReady
	case StatusPromoted:
		return StatusPromoted
	default:
		return StatusPending
	}
}

// Artifact 描述动画或图片等外部产物的引用。
type Artifact struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// PlannedArtifact 是新投稿的默认产物状态。
func PlannedArtifact() Artifact {
	return Artifact{Status: "planned", Path: ""}
}

// Produced 判断产物是否已经生成。
func (a Artifact) Produced() bool {
	status := strings.ToLower(strings.TrimSpace(a.Status))
	return status != "" && status != "planned"
}

// SubScores 是四个可加和的评分维度，novelty 单独记录。
type SubScores struct {
	Tractability         int `json:"tractability"`
	Plausibility         int `json:"plausibility"`
	Validation           int `json:"validation"`
	ArtifactCompleteness int `json:"artifactCompleteness"`
}

// Sum 返回四个维度之和。
func (s SubScores) Sum() int {
	return s.Tractability + s.Plausibility + s.Validation + s.ArtifactCompleteness
}

// AdvisoryScores 是大模型评审给出的五维评分，每项 0..20。
type AdvisoryScores struct {
	PhysicalValidity int    `json:"physical_validity"`
	Novelty          int    `json:"novelty"`
	Clarity          int    `json:"clarity"`
	EvidenceQuality  int    `json:"evidence_quality"`
	Significance     int    `json:"significance"`
	Total            int    `json:"llm_total"`
	Justification    string `json:"justification,omitempty"`
}

// Review 记录最近一次评分结果以及晋级后的排名记录 ID。
type Review struct {
	Date             string          `json:"date"`
	EquationID       string          `json:"equationId"`
	Score            int             `json:"score"`
	HeuristicScore   int             `json:"heuristic_score"`
	HeuristicVersion string          `json:"heuristic_version,omitempty"`
	Scores           SubScores       `json:"scores"`
	Novelty          int             `json:"novelty"`
	Method           string          `json:"method,omitempty"`
	LLMScores        *AdvisoryScores `json:"llm_scores,omitempty"`
	LLMModel         string          `json:"llm_model,omitempty"`
	BlendedScore     *int            `json:"blended_score,omitempty"`
	ManualScore      *int            `json:"manual_score,omitempty"`
}

// Submission 是等待评审的候选公式。
type Submission struct {
	SubmissionID  string   `json:"submissionId"`
	SubmittedAt   string   `json:"submittedAt"`
	Status        Status   `json:"status"`
	Name          string   `json:"name"`
	EquationLatex string   `json:"equationLatex"`
	Description   string   `json:"description"`
	Source        string   `json:"source"`
	Submitter     string   `json:"submitter"`
	Units         string   `json:"units"`
	Theory        string   `json:"theory"`
	Assumptions   []string `json:"assumptions"`
	Evidence      []string `json:"evidence"`
	Animation     Artifact `json:"animation"`
	Image         Artifact `json:"image"`
	Review        *Review  `json:"review,omitempty"`
}

// EquationID 返回 review 中记录的排名记录 ID。
func (s *Submission) EquationID() string {
	if s == nil || s.Review == nil {
		return ""
	}
	return strings.TrimSpace(s.Review.EquationID)
}

// Clone 深拷贝投稿，避免调用方修改共享切片。
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Assumptions = slices.Clone(s.Assumptions)
	clone.Evidence = slices.Clone(s.Evidence)
	if s.Review != nil {
		review := *s.Review
		if s.Review.LLMScores != nil {
			llm := *s.Review.LLMScores
			review.LLMScores = &llm
		}
		if s.Review.BlendedScore != nil {
			v := *s.Review.BlendedScore
			review.BlendedScore = &v
		}
		if s.Review.ManualScore != nil {
			v := *s.Review.ManualScore
			review.ManualScore = &v
		}
		clone.Review = &review
	}
	return &clone
}

// NoveltyTag 记录新颖度评分及评定日期。
type NoveltyTag struct {
	Score int    `json:"score"`
	Date  string `json:"date"`
}

// Tags 是排名记录的附加标签。
type Tags struct {
	Novelty *NoveltyTag     `json:"novelty,omitempty"`
	LLM     *AdvisoryScores `json:"llm,omitempty"`
}

// Equation 是晋级后的排名记录。
type Equation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FirstSeen     string    `json:"firstSeen"`
	Source        string    `json:"source"`
	Submitter     string    `json:"submitter"`
	RepoURL       string    `json:"repoUrl"`
	Score         int       `json:"score"`
	Scores        SubScores `json:"scores"`
	Units         string    `json:"units"`
	Theory        string    `json:"theory"`
	Animation     Artifact  `json:"animation"`
	Image         Artifact  `json:"image"`
	Description   string    `json:"description"`
	Assumptions   []string  `json:"assumptions"`
	Date          string    `json:"date"`
	EquationLatex string    `json:"equationLatex"`
	Tags          Tags      `json:"tags"`
}

// CanonicalEquation 是手工维护的核心或经典公式条目，评分以扁平字段给出。
type CanonicalEquation struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	EquationLatex        string    `json:"equationLatex"`
	Tractability         int       `json:"tractability"`
	Plausibility         int       `json:"plausibility"`
	Validation           int       `json:"validation"`
	ArtifactCompleteness int       `json:"artifactCompleteness"`
	Novelty              int       `json:"novelty"`
	Score                *int      `json:"score,omitempty"`
	Source               string    `json:"source,omitempty"`
	Description          string    `json:"description,omitempty"`
	Units                string    `json:"units,omitempty"`
	Theory               string    `json:"theory,omitempty"`
	Animation            *Artifact `json:"animation,omitempty"`
	Image                *Artifact `json:"image,omitempty"`
	CoreRefs             []string  `json:"coreRefs,omitempty"`
}

// SubScores 返回扁平字段组成的评分。
func (c CanonicalEquation) SubScores() SubScores {
	return SubScores{
		Tractability:         c.Tractability,
		Plausibility:         c.Plausibility,
		Validation:           c.Validation,
		ArtifactCompleteness: c.ArtifactCompleteness,
	}
}

// SubmissionSet 对应 submissions 文档。
type SubmissionSet struct {
	LastUpdated string        `json:"lastUpdated"`
	Entries     []*Submission `json:"entries"`
}

// Find 按 ID 查找投稿。
func (s *SubmissionSet) Find(id string) *Submission {
	for _, entry := range s.Entries {
		if entry.SubmissionID == id {
			return entry
		}
	}
	return nil
}

// IDs 返回已有投稿 ID 集合。
func (s *SubmissionSet) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Entries))
	for _, entry := range s.Entries {
		ids[entry.SubmissionID] = struct{}{}
	}
	return ids
}

// EquationSet 对应排名记录文档。
type EquationSet struct {
	LastUpdated string      `json:"lastUpdated"`
	Entries     []*Equation `json:"entries"`
}

// Find 按 ID 查找排名记录。
func (s *EquationSet) Find(id string) *Equation {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	for _, entry := range s.Entries {
		if strings.TrimSpace(entry.ID) == id {
			return entry
		}
	}
	return nil
}

// FindByName 返回名称完全一致的全部记录。
func (s *EquationSet) FindByName(name string) []*Equation {
	name = strings.TrimSpace(name)
	var matches []*Equation
	if name == "" {
		return matches
	}
	for _, entry := range s.Entries {
		if strings.TrimSpace(entry.Name) == name {
			matches = append(matches, entry)
		}
	}
	return matches
}

// IDs 返回已有排名记录 ID 集合。
func (s *EquationSet) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Entries))
	for _, entry := range s.Entries {
		ids[entry.ID] = struct{}{}
	}
	return ids
}

// CanonicalSet 对应 core 或 famous 文档。
type CanonicalSet struct {
	LastUpdated string              `json:"lastUpdated,omitempty"`
	Entries     []CanonicalEquation `json:"entries"`
}
