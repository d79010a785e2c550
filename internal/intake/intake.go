// Package intake 是不可信投稿进入系统前的唯一入口：严格解码、校验上限与枚举、规范化文本。
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	xerrors "TopEquations/internal/errors"
)

// 投稿字段的长度与数量上限，按 Unicode 码点计数。
const (
	MaxNameLen        = 200
	MaxEquationLen    = 2000
	MaxDescriptionLen = 4000
	MaxSourceLen      = 100
	MaxSubmitterLen   = 100
	MaxItemLen        = 500
	MaxItems          = 20
)

// Submission 是校验通过的投稿内容。
type Submission struct {
	Name        string   `json:"name" validate:"required,runemax=200"`
	Equation    string   `json:"equation" validate:"required,runemax=2000"`
	Description string   `json:"description" validate:"required,runemax=4000"`
	Source      string   `json:"source" validate:"runemax=100"`
	Submitter   string   `json:"submitter" validate:"runemax=100"`
	Units       string   `json:"units" validate:"oneof=OK TBD WARN"`
	Theory      string   `json:"theory" validate:"oneof=PASS PASS-WITH-ASSUMPTIONS TBD FAIL"`
	Assumptions []string `json:"assumptions" validate:"max=20,dive,runemax=500"`
	Evidence    []string `json:"evidence" validate:"max=20,dive,runemax=500"`
}

// Defaults 是缺省字段的取值，不同入口使用不同的来源标记。
type Defaults struct {
	Source    string
	Submitter string
	Units     string
	Theory    string
}

var (
	// IssueDefaults 用于 issue 正文、API 与 MCP 投稿。
	IssueDefaults = Defaults{Source: "github-issue", Submitter: "anonymous", Units: "TBD", Theory: "TBD"}
	// BatchDefaults 用于批量导入。
	BatchDefaults = Defaults{Source: "external-agent", Submitter: "external", Units: "TBD", Theory: "PASS-WITH-ASSUMPTIONS"}
	// ManualDefaults 用于命令行手工投稿。
	ManualDefaults = Defaults{Source: "manual submission", Submitter: "local", Units: "TBD", Theory: "PASS-WITH-ASSUMPTIONS"}
)

// wire 用指针区分缺失字段与空字符串。
type wire struct {
	Name        *string   `json:"name"`
	Equation    *string   `json:"equation"`
	Description *string   `json:"description"`
	Source      *string   `json:"source"`
	Submitter   *string   `json:"submitter"`
	Units       *string   `json:"units"`
	Theory      *string   `json:"theory"`
	Assumptions *[]string `json:"assumptions"`
	Evidence    *[]string `json:"evidence"`
}

// allowedKeys 是投稿对象允许出现的键，按字节精确匹配。
var allowedKeys = map[string]struct{}{
	"name": {}, "equation": {}, "description": {}, "source": {}, "submitter": {},
	"units": {}, "theory": {}, "assumptions": {}, "evidence": {},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("runemax", validateRuneMax)
	return v
}

func validateRuneMax(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(fl.Field().String()) <= limit
}

// Parse 解析 issue 正文中的 JSON 投稿，使用 IssueDefaults。
func Parse(raw string) (Submission, error) {
	return ParseWith(raw, IssueDefaults)
}

// ParseWith 去掉代码围栏后严格解码单个 JSON 对象：拒绝未知键与尾随内容，再规范化并校验。
func ParseWith(raw string, defaults Defaults) (Submission, error) {
	text := StripFence(raw)
	if text == "" {
		return Submission{}, invalid("", "投稿内容为空")
	}
	var w wire
	if err := decodeStrict([]byte(text), &w); err != nil {
		return Submission{}, err
	}
	return fromWire(w, defaults)
}

// ParseBatch 解析 JSON 数组形式的批量投稿，逐条返回结果，单条失败不影响其他条目。
func ParseBatch(raw []byte, defaults Defaults) ([]Submission, []error, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &items); err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "批量文件必须是 JSON 数组")
	}
	subs := make([]Submission, len(items))
	errs := make([]error, len(items))
	for i, item := range items {
		var w wire
		if err := decodeStrict(item, &w); err != nil {
			errs[i] = err
			continue
		}
		subs[i], errs[i] = fromWire(w, defaults)
	}
	return subs, errs, nil
}

// Normalize 对已构造的投稿做文本规范化、填充缺省值并校验，供命令行等结构化入口使用。
func Normalize(s Submission, defaults Defaults) (Submission, error) {
	w := wire{
		Name:        &s.Name,
		Equation:    &s.Equation,
		Description: &s.Description,
		Assumptions: &s.Assumptions,
		Evidence:    &s.Evidence,
	}
	if s.Source != "" {
		w.Source = &s.Source
	}
	if s.Submitter != "" {
		w.Submitter = &s.Submitter
	}
	if s.Units != "" {
		w.Units = &s.Units
	}
	if s.Theory != "" {
		w.Theory = &s.Theory
	}
	return fromWire(w, defaults)
}

// Serialize 以稳定的字段顺序输出投稿 JSON，Parse(Serialize(s)) 与 s 相同。
func Serialize(s Submission) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if s.Assumptions == nil {
		s.Assumptions = []string{}
	}
	if s.Evidence == nil {
		s.Evidence = []string{}
	}
	if err := enc.Encode(s); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化投稿失败")
	}
	return buf.Bytes(), nil
}

// StripFence 去掉 Markdown 代码围栏。
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// checkKeys 拒绝不在 allowedKeys 中的键。encoding/json 匹配字段时忽略大小写，
// 所以 DisallowUnknownFields 放行 "NAME" 之类的键，需要在结构体解码前单独检查。
func checkKeys(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// 非对象或语法错误交给 decodeStrict 报告。
		return nil
	}
	var unknown []string
	for key := range fields {
		if _, ok := allowedKeys[key]; !ok {
			unknown = append(unknown, strconv.Quote(key))
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return invalid("", "包含未知字段: "+strings.Join(unknown, ", "))
}

func decodeStrict(data []byte, w *wire) error {
	if err := checkKeys(data); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return invalid("", "投稿必须是 JSON 对象")
			}
			return invalid(typeErr.Field, fmt.Sprintf("%s: 类型错误，期望 %s", typeErr.Field, typeErr.Type))
		}
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return invalid("", "包含未知字段: "+strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "投稿不是合法的 JSON 对象")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return invalid("", "JSON 对象之后存在多余内容")
	}
	return nil
}

func fromWire(w wire, defaults Defaults) (Submission, error) {
	s := Submission{
		Name:        clean(w.Name, ""),
		Equation:    clean(w.Equation, ""),
		Description: clean(w.Description, ""),
		Source:      clean(w.Source, defaults.Source),
		Submitter:   clean(w.Submitter, defaults.Submitter),
		Units:       clean(w.Units, defaults.Units),
		Theory:      clean(w.Theory, defaults.Theory),
		Assumptions: cleanList(w.Assumptions),
		Evidence:    cleanList(w.Evidence),
	}
	if err := validate.Struct(s); err != nil {
		return Submission{}, translate(err)
	}
	return s, nil
}

func clean(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return strings.TrimSpace(norm.NFC.String(*v))
}

func cleanList(v *[]string) []string {
	if v == nil || *v == nil {
		return []string{}
	}
	out := make([]string, 0, len(*v))
	for _, item := range *v {
		if item = strings.TrimSpace(norm.NFC.String(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "投稿校验失败")
	}
	fe := verrs[0]
	field := fe.Field()
	if ns := fe.Namespace(); strings.Contains(ns, "[") {
		field = ns[strings.Index(ns, ".")+1:]
	}
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s: 不能为空", field)
	case "runemax":
		msg = fmt.Sprintf("%s: 超过最大长度 %s", field, fe.Param())
	case "max":
		msg = fmt.Sprintf("%s: 超过最大条目数 %s", field, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s: 必须是 %s 之一，实际为 '%v'", field, fe.Param(), fe.Value())
	default:
		msg = fmt.Sprintf("%s: 校验失败 (%s)", field, fe.Tag())
	}
	return invalid(field, msg)
}

func invalid(field, msg string) error {
	if field == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, msg)
	}
	return xerrors.New(xerrors.CodeInvalidArgument, msg, xerrors.WithMetadata("field", field))
}
