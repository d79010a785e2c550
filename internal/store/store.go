// Package store 持久化收录系统的命名文档，不包含任何业务规则。
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	xerrors "TopEquations/internal/errors"
)

// Document 是文档的逻辑名称，文件后端映射为 <data_dir>/<name>.json。
type Document string

const (
	DocSubmissions    Document = "submissions"
	DocEquations      Document = "equations"
	DocCore           Document = "core"
	DocFamous         Document = "famous_equations"
	DocCertificates   Document = "certificates/equation_certificates"
	DocPublishReceipt Document = "certificates/chain_publish_receipt"
)

var documentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*(/[a-z0-9][a-z0-9_.-]*)*$`)

// SubmitterReceipt 返回某个投稿的提交人回执文档名称。
func SubmitterReceipt(submissionID string) Document {
	return Document("certificates/receipts/receipt-" + strings.TrimSpace(submissionID))
}

// Validate 拒绝包含路径穿越或非法字符的文档名称。
func (d Document) Validate() error {
	name := string(d)
	if !documentPattern.MatchString(name) || strings.Contains(name, "..") {
		return xerrors.New(xerrors.CodeInvalidArgument, "非法的文档名称", xerrors.WithMetadata("document", name))
	}
	return nil
}

// ErrNotFound 表示文档不存在。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "文档不存在")

// Store 定义文档的整体读写能力。每次写入都是整文档替换。
type Store interface {
	Read(ctx context.Context, doc Document) ([]byte, time.Time, error)
	Write(ctx context.Context, doc Document, data []byte) error
	Stat(ctx context.Context, doc Document) (time.Time, error)
	Close() error
}

// Encode 以两空格缩进、不转义 HTML 的方式序列化文档，并以换行结尾。
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化文档失败")
	}
	return buf.Bytes(), nil
}

// LoadJSON 读取并解析文档，返回修改时间。
func LoadJSON(ctx context.Context, s Store, doc Document, v any) (time.Time, error) {
	data, stamp, err := s.Read(ctx, doc)
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析文档失败", xerrors.WithMetadata("document", string(doc)))
	}
	return stamp, nil
}

// SaveJSON 序列化并整体写入文档。
func SaveJSON(ctx context.Context, s Store, doc Document, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return s.Write(ctx, doc, data)
}

// Open 根据驱动名称创建存储后端。
func Open(ctx context.Context, driver, dataDir, dsn string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dataDir)
	case "mysql":
		return NewSQLStore(ctx, SQLConfig{Dialect: DialectMySQL, DSN: dsn})
	case "sqlite":
		return NewSQLStore(ctx, SQLConfig{Dialect: DialectSQLite, DSN: dsn})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的存储驱动: %s", driver)
	}
}
