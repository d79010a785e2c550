package store

import (
	"context"
	"time"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
)

// Registry 在 Store 之上提供按类型读写集合文档的能力。
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry 创建类型化门面，now 为空时使用系统时钟。
func NewRegistry(s Store, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: s, now: now}
}

// Store 返回底层存储。
func (r *Registry) Store() Store { return r.store }

// Now 返回注入时钟的当前时间。
func (r *Registry) Now() time.Time { return r.now() }

// LoadSubmissions 读取投稿集合，文档不存在时返回空集合。
func (r *Registry) LoadSubmissions(ctx context.Context) (*registry.SubmissionSet, error) {
	set := &registry.SubmissionSet{}
	if _, err := LoadJSON(ctx, r.store, DocSubmissions, set); err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return &registry.SubmissionSet{Entries: []*registry.Submission{}}, nil
		}
		return nil, err
	}
	if set.Entries == nil {
		set.Entries = []*registry.Submission{}
	}
	return set, nil
}

// SaveSubmissions 更新 lastUpdated 后写入投稿集合。
func (r *Registry) SaveSubmissions(ctx context.Context, set *registry.SubmissionSet) error {
	set.LastUpdated = registry.Date(r.now())
	return SaveJSON(ctx, r.store, DocSubmissions, set)
}

// LoadEquations 读取排名记录集合，文档不存在时返回空集合。
func (r *Registry) LoadEquations(ctx context.Context) (*registry.EquationSet, error) {
	set := &registry.EquationSet{}
	if _, err := LoadJSON(ctx, r.store, DocEquations, set); err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return &registry.EquationSet{Entries: []*registry.Equation{}}, nil
		}
		return nil, err
	}
	if set.Entries == nil {
		set.Entries = []*registry.Equation{}
	}
	return set, nil
}

// SaveEquations 更新 lastUpdated 后写入排名记录集合。
func (r *Registry) SaveEquations(ctx context.Context, set *registry.EquationSet) error {
	set.LastUpdated = registry.Date(r.now())
	return SaveJSON(ctx, r.store, DocEquations, set)
}

// LoadCanonical 读取 core 或 famous 层级，文档不存在时返回空集合。
func (r *Registry) LoadCanonical(ctx context.Context, doc Document) (*registry.CanonicalSet, error) {
	set := &registry.CanonicalSet{}
	if _, err := LoadJSON(ctx, r.store, doc, set); err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return &registry.CanonicalSet{}, nil
		}
		return nil, err
	}
	return set, nil
}

// Raw 返回文档原始字节，不存在时返回 nil。
func (r *Registry) Raw(ctx context.Context, doc Document) ([]byte, error) {
	data, _, err := r.store.Read(ctx, doc)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// LoadDocument 读取任意类型的文档。
func (r *Registry) LoadDocument(ctx context.Context, doc Document, v any) (time.Time, error) {
	return LoadJSON(ctx, r.store, doc, v)
}

// SaveDocument 写入任意类型的文档。
func (r *Registry) SaveDocument(ctx context.Context, doc Document, v any) error {
	return SaveJSON(ctx, r.store, doc, v)
}

// Stamp 返回文档修改时间，不存在时返回零值。
func (r *Registry) Stamp(ctx context.Context, doc Document) (time.Time, bool, error) {
	stamp, err := r.store.Stat(ctx, doc)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return stamp, true, nil
}

// Exists 判断文档是否存在。
func (r *Registry) Exists(ctx context.Context, doc Document) (bool, error) {
	_, ok, err := r.Stamp(ctx, doc)
	return ok, err
}
