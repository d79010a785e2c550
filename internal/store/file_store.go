package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	xerrors "TopEquations/internal/errors"
)

// FileStore 将文档保存为数据目录下的 JSON 文件。
type FileStore struct {
	root string
}

// NewFileStore 创建文件存储，目录不存在时自动创建。
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	return &FileStore{root: root}, nil
}

// Path 返回文档对应的文件路径。
func (s *FileStore) Path(doc Document) string {
	return filepath.Join(s.root, filepath.FromSlash(string(doc))+".json")
}

// Read 读取文档内容与文件修改时间。
func (s *FileStore) Read(ctx context.Context, doc Document) ([]byte, time.Time, error) {
	if err := doc.Validate(); err != nil {
		return nil, time.Time{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	path := s.Path(doc)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, s.mapErr(doc, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, s.mapErr(doc, err)
	}
	return data, info.ModTime(), nil
}

// Write 先写临时文件再重命名，保证读者不会看到半写入的文档。
func (s *FileStore) Write(ctx context.Context, doc Document, data []byte) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(doc)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建文档目录失败")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时文件失败")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换文档失败")
	}
	return nil
}

// Stat 返回文件修改时间。
func (s *FileStore) Stat(ctx context.Context, doc Document) (time.Time, error) {
	if err := doc.Validate(); err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(s.Path(doc))
	if err != nil {
		return time.Time{}, s.mapErr(doc, err)
	}
	return info.ModTime(), nil
}

// Close 对文件存储无操作。
func (s *FileStore) Close() error { return nil }

func (s *FileStore) mapErr(doc Document, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return xerrors.Wrap(xerrors.CodeNotFound, err, "文档不存在", xerrors.WithMetadata("document", string(doc)))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "访问文档失败", xerrors.WithMetadata("document", string(doc)))
}

var _ Store = (*FileStore)(nil)
