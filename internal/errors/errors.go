package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Code 表示收录流程中的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于审计日志与 CI 门禁。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeAlreadyPromoted  Code = "ALREADY_PROMOTED"
	CodeUnresolvedRecord Code = "UNRESOLVED_RECORD"
	CodeAdvisoryFailure  Code = "ADVISORY_FAILURE"
	CodeLedgerFailure    Code = "LEDGER_FAILURE"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodeQueueFailure     Code = "QUEUE_FAILURE"
	CodeLockFailure      Code = "LOCK_FAILURE"
	CodeTimeout          Code = "TIMEOUT"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:          {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:  {Message: "invalid submission input", Severity: SeverityInfo},
		CodeNotFound:         {Message: "record not found", Severity: SeverityInfo},
		CodeConflict:         {Message: "record conflict", Severity: SeverityWarning},
		CodeAlreadyPromoted:  {Message: "submission already promoted", Severity: SeverityWarning},
		CodeUnresolvedRecord: {Message: "ranked record could not be resolved", Severity: SeverityWarning, Alert: true},
		CodeAdvisoryFailure:  {Message: "advisory scorer unavailable", Severity: SeverityInfo, Retryable: true},
		CodeLedgerFailure:    {Message: "ledger request failed", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:   {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:     {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeLockFailure:      {Message: "record store is locked by another writer", Severity: SeverityWarning, Retryable: true},
		CodeTimeout:          {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},
		CodeUnauthenticated:  {Message: "authentication required", Severity: SeverityInfo},
		CodePermissionDenied: {Message: "permission denied", Severity: SeverityWarning},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// Codes 返回当前已注册的全部错误码，按字典序排列。
func Codes() []Code {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如 submission_id。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSubmission 记录出错的投稿 ID。
func WithSubmission(id string) Option { return WithMetadata("submission_id", id) }

// WithEquation 记录出错的排名记录 ID。
func WithEquation(id string) Option { return WithMetadata("equation_id", id) }

// WithRetryable 覆盖错误码的默认重试属性。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 使用格式化字符串创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，errors.Is(err, New(code, "")) 即可判断错误类别。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode 判断错误链中是否包含指定错误码。
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// LogAttr 把错误展开为结构化日志字段：code、severity 以及 metadata 中的键值。
func LogAttr(err error) slog.Attr {
	e, ok := From(err)
	if !ok {
		return slog.String("error", fmt.Sprint(err))
	}
	attrs := []any{
		slog.String("code", string(e.code)),
		slog.String("severity", string(e.Severity())),
		slog.String("message", err.Error()),
	}
	for _, key := range slices.Sorted(maps.Keys(e.metadata)) {
		attrs = append(attrs, slog.String(key, e.metadata[key]))
	}
	return slog.Group("error", attrs...)
}
