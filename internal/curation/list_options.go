package curation

import "TopEquations/internal/registry"

// ListOptions 定义投稿列表的过滤条件。
type ListOptions struct {
	Statuses []registry.Status
	Limit    int
	Newest   bool
}

// ListOption 定义列表查询的可选参数。
type ListOption func(*ListOptions)

// WithStatuses 按状态过滤。
func WithStatuses(statuses ...registry.Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses, statuses...)
	}
}

// WithLimit 限制返回条数，非正数表示不限制。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithNewestFirst 按写入顺序倒序返回。
func WithNewestFirst() ListOption {
	return func(opts *ListOptions) {
		opts.Newest = true
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o ListOptions) match(s *registry.Submission) bool {
	if len(o.Statuses) == 0 {
		return true
	}
	status := registry.ParseStatus(string(s.Status))
	for _, want := range o.Statuses {
		if status == want {
			return true
		}
	}
	return false
}
