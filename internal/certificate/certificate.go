// Package certificate 从排名记录与手工维护的公式层级派生内容寻址的证书。
// 每次导出整体重建，相同输入得到相同的哈希。
package certificate

import (
	"context"
	"log/slog"
	"time"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/metrics"
	"TopEquations/internal/registry"
	"TopEquations/internal/scoring/heuristic"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// Schema 是证书文档的格式标识。
const Schema = "top-equations-certificate-v1"

// Version 是单张证书的格式版本。
const Version = 1

// Tier 表示证书来源层级。
type Tier string

const (
	TierCore    Tier = "core"
	TierDerived Tier = "derived"
	TierFamous  Tier = "famous"
)

// Novelty 是证书中的新颖度快照，派生层级缺失时序列化为空对象。
type Novelty struct {
	Score *int   `json:"score,omitempty"`
	Date  string `json:"date,omitempty"`
}

// ArtifactRefs 记录外部产物路径。
type ArtifactRefs struct {
	Animation string `json:"animation"`
	Image     string `json:"image"`
}

// Certificate 是单条记录的证书。MetadataHash 覆盖除自身以外的全部字段。
type Certificate struct {
	TokenID       string             `json:"token_id"`
	Name          string             `json:"name"`
	EquationLatex string             `json:"equation_latex"`
	EquationHash  string             `json:"equation_hash"`
	Score         int                `json:"score"`
	Scores        registry.SubScores `json:"scores"`
	Novelty       Novelty            `json:"novelty"`
	Source        string             `json:"source"`
	Date          string             `json:"date"`
	Description   string             `json:"description"`
	Units         string             `json:"units"`
	Theory        string             `json:"theory"`
	ArtifactRefs  *ArtifactRefs      `json:"artifact_refs,omitempty"`
	SubmitterHash string             `json:"submitter_hash,omitempty"`
	Tier          Tier               `json:"tier"`
	CoreRefs      *[]string          `json:"coreRefs,omitempty"`
	Version       int                `json:"version"`
	MetadataHash  string             `json:"metadata_hash,omitempty"`
}

// Seal 计算 equation_hash 与 metadata_hash。
func (c *Certificate) Seal() error {
	c.EquationHash = HashText(c.EquationLatex)
	hash, err := c.computeMetadataHash()
	if err != nil {
		return err
	}
	c.MetadataHash = hash
	return nil
}

func (c Certificate) computeMetadataHash() (string, error) {
	c.MetadataHash = ""
	hash, err := HashCanonical(c)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "证书无法规范化")
	}
	return hash, nil
}

// Verify 重新计算两个哈希并与证书中的值比较。
func Verify(c Certificate) error {
	if want := HashText(c.EquationLatex); c.EquationHash != want {
		return xerrors.New(xerrors.CodeConflict, "equation_hash 与公式文本不一致", xerrors.WithMetadata("token_id", c.TokenID))
	}
	want, err := c.computeMetadataHash()
	if err != nil {
		return err
	}
	if c.MetadataHash != want {
		return xerrors.New(xerrors.CodeConflict, "metadata_hash 与证书内容不一致", xerrors.WithMetadata("token_id", c.TokenID))
	}
	return nil
}

// Document 是证书集合文档。
type Document struct {
	Schema       string        `json:"schema"`
	GeneratedAt  string        `json:"generated_at"`
	SourceFile   string        `json:"source_file"`
	SourceSHA256 string        `json:"source_sha256"`
	Count        int           `json:"count"`
	Entries      []Certificate `json:"entries"`
}

// TokenIDs 返回全部证书 ID。
func (d *Document) TokenIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Entries))
	for _, c := range d.Entries {
		ids[c.TokenID] = struct{}{}
	}
	return ids
}

// Exporter 读取记录存储并生成证书文档。
type Exporter struct {
	records    *store.Registry
	sourceFile string
	logger     *slog.Logger
}

// Option 定义可选配置。
type Option func(*Exporter)

// WithSourceFile 设置写入文档的 source_file 字段。
func WithSourceFile(path string) Option {
	return func(e *Exporter) {
		if path != "" {
			e.sourceFile = path
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExporter 创建导出器。
func NewExporter(records *store.Registry, opts ...Option) *Exporter {
	e := &Exporter{
		records:    records,
		sourceFile: string(store.DocEquations) + ".json",
		logger:     logger.Named("certificate"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Build 按 core、derived、famous 的顺序生成证书，不写入存储。
func (e *Exporter) Build(ctx context.Context) (*Document, error) {
	equationsRaw, err := e.records.Raw(ctx, store.DocEquations)
	if err != nil {
		return nil, err
	}
	coreRaw, err := e.records.Raw(ctx, store.DocCore)
	if err != nil {
		return nil, err
	}
	famousRaw, err := e.records.Raw(ctx, store.DocFamous)
	if err != nil {
		return nil, err
	}
	equations, err := e.records.LoadEquations(ctx)
	if err != nil {
		return nil, err
	}
	core, err := e.records.LoadCanonical(ctx, store.DocCore)
	if err != nil {
		return nil, err
	}
	famous, err := e.records.LoadCanonical(ctx, store.DocFamous)
	if err != nil {
		return nil, err
	}

	entries := make([]Certificate, 0, len(core.Entries)+len(equations.Entries)+len(famous.Entries))
	for _, c := range core.Entries {
		entries = append(entries, coreCertificate(c))
	}
	for _, rec := range equations.Entries {
		entries = append(entries, derivedCertificate(rec))
	}
	for _, c := range famous.Entries {
		entries = append(entries, famousCertificate(c))
	}
	for i := range entries {
		if err := entries[i].Seal(); err != nil {
			return nil, err
		}
	}

	source := make([]byte, 0, len(equationsRaw)+len(coreRaw)+len(famousRaw))
	source = append(source, equationsRaw...)
	source = append(source, coreRaw...)
	source = append(source, famousRaw...)
	return &Document{
		Schema:       Schema,
		GeneratedAt:  e.records.Now().UTC().Format(time.RFC3339),
		SourceFile:   e.sourceFile,
		SourceSHA256: HashText(string(source)),
		Count:        len(entries),
		Entries:      entries,
	}, nil
}

// Export 生成证书文档并整体替换已有文档。
func (e *Exporter) Export(ctx context.Context) (*Document, error) {
	doc, err := e.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.records.SaveDocument(ctx, store.DocCertificates, doc); err != nil {
		return nil, err
	}
	counts := map[Tier]int{}
	for _, c := range doc.Entries {
		counts[c.Tier]++
	}
	for _, tier := range []Tier{TierCore, TierDerived, TierFamous} {
		metrics.ObserveExport(string(tier), counts[tier])
	}
	e.logger.Info("证书导出完成",
		slog.Int("count", doc.Count),
		slog.Int("core", counts[TierCore]),
		slog.Int("derived", counts[TierDerived]),
		slog.Int("famous", counts[TierFamous]))
	return doc, nil
}

// Load 读取已导出的证书文档，不存在时返回 NOT_FOUND。
func Load(ctx context.Context, records *store.Registry) (*Document, error) {
	var doc Document
	if _, err := records.LoadDocument(ctx, store.DocCertificates, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func coreCertificate(c registry.CanonicalEquation) Certificate {
	score := heuristic.Normalized70(c.Tractability, c.Plausibility, c.Validation, c.ArtifactCompleteness)
	if c.Score != nil {
		score = *c.Score
	}
	novelty := c.Novelty
	return Certificate{
		TokenID:       c.ID,
		Name:          c.Name,
		EquationLatex: c.EquationLatex,
		Score:         score,
		Scores:        c.SubScores(),
		Novelty:       Novelty{Score: &novelty, Date: "core"},
		Source:        c.Source,
		Date:          "core",
		Description:   c.Description,
		Units:         c.Units,
		Theory:        c.Theory,
		ArtifactRefs:  &ArtifactRefs{Animation: artifactPath(c.Animation), Image: artifactPath(c.Image)},
		Tier:          TierCore,
		Version:       Version,
	}
}

func derivedCertificate(rec *registry.Equation) Certificate {
	var novelty Novelty
	if rec.Tags.Novelty != nil {
		score := rec.Tags.Novelty.Score
		novelty = Novelty{Score: &score, Date: rec.Tags.Novelty.Date}
	}
	cert := Certificate{
		TokenID:       rec.ID,
		Name:          rec.Name,
		EquationLatex: rec.EquationLatex,
		Score:         rec.Score,
		Scores:        rec.Scores,
		Novelty:       novelty,
		Source:        rec.Source,
		Date:          rec.Date,
		Description:   rec.Description,
		Units:         rec.Units,
		Theory:        rec.Theory,
		ArtifactRefs:  &ArtifactRefs{Animation: rec.Animation.Path, Image: rec.Image.Path},
		Tier:          TierDerived,
		Version:       Version,
	}
	if rec.Submitter != "" {
		cert.SubmitterHash = HashText(rec.Submitter)
	}
	return cert
}

func famousCertificate(c registry.CanonicalEquation) Certificate {
	novelty := c.Novelty
	refs := c.CoreRefs
	if refs == nil {
		refs = []string{}
	}
	return Certificate{
		TokenID:       c.ID,
		Name:          c.Name,
		EquationLatex: c.EquationLatex,
		Score:         heuristic.Normalized70(c.Tractability, c.Plausibility, c.Validation, c.ArtifactCompleteness),
		Scores:        c.SubScores(),
		Novelty:       Novelty{Score: &novelty, Date: "famous"},
		Source:        "famous-adjusted",
		Date:          "famous",
		Description:   c.Description,
		Units:         c.Units,
		Theory:        c.Theory,
		Tier:          TierFamous,
		CoreRefs:      &refs,
		Version:       Version,
	}
}

func artifactPath(a *registry.Artifact) string {
	if a == nil {
		return ""
	}
	return a.Path
}
