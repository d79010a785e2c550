package store

import (
	"context"
	"sync"
	"time"

	xerrors "TopEquations/internal/errors"
)

type memoryDoc struct {
	data  []byte
	stamp time.Time
}

// MemoryStore 在内存中保存文档，主要用于测试。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Document]memoryDoc
	now  func() time.Time
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Document]memoryDoc), now: time.Now}
}

// SetClock 替换写入时使用的时钟。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Read 返回文档副本。
func (s *MemoryStore) Read(_ context.Context, doc Document) ([]byte, time.Time, error) {
	if err := doc.Validate(); err != nil {
		return nil, time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.docs[doc]
	if !ok {
		return nil, time.Time{}, xerrors.New(xerrors.CodeNotFound, "文档不存在", xerrors.WithMetadata("document", string(doc)))
	}
	return append([]byte(nil), entry.data...), entry.stamp, nil
}

// Write 保存文档副本。
func (s *MemoryStore) Write(_ context.Context, doc Document, data []byte) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc] = memoryDoc{data: append([]byte(nil), data...), stamp: s.now()}
	return nil
}

// Stat 返回最近一次写入时间。
func (s *MemoryStore) Stat(_ context.Context, doc Document) (time.Time, error) {
	if err := doc.Validate(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.docs[doc]
	if !ok {
		return time.Time{}, xerrors.New(xerrors.CodeNotFound, "文档不存在", xerrors.WithMetadata("document", string(doc)))
	}
	return entry.stamp, nil
}

// Close 对内存存储无操作。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
