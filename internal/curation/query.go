package curation

import (
	"context"
	"sort"
	"strings"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/registry"
	"TopEquations/internal/scoring/advisory"
)

// Get 返回指定投稿的副本。
func (s *Service) Get(ctx context.Context, id string) (*registry.Submission, error) {
	id = strings.TrimSpace(id)
	subs, err := s.records.LoadSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	entry := subs.Find(id)
	if entry == nil {
		return nil, notFound(id)
	}
	return entry.Clone(), nil
}

// List 返回符合过滤条件的投稿副本。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*registry.Submission, error) {
	options := buildListOptions(opts)
	subs, err := s.records.LoadSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*registry.Submission, 0, len(subs.Entries))
	for i := range subs.Entries {
		entry := subs.Entries[i]
		if options.Newest {
			entry = subs.Entries[len(subs.Entries)-1-i]
		}
		if !options.match(entry) {
			continue
		}
		out = append(out, entry.Clone())
		if options.Limit > 0 && len(out) >= options.Limit {
			break
		}
	}
	return out, nil
}

// Equations 返回排名记录，按分数从高到低排列，limit 非正数表示全部。
func (s *Service) Equations(ctx context.Context, limit int) ([]*registry.Equation, error) {
	set, err := s.records.LoadEquations(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]*registry.Equation(nil), set.Entries...)
	sortByScore(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Equation 按 ID 返回排名记录。
func (s *Service) Equation(ctx context.Context, id string) (*registry.Equation, error) {
	set, err := s.records.LoadEquations(ctx)
	if err != nil {
		return nil, err
	}
	rec := set.Find(id)
	if rec == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "排名记录不存在: "+id, xerrors.WithEquation(id))
	}
	return rec, nil
}

func sortByScore(entries []*registry.Equation) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
}

// Prompt 返回大模型评审将要使用的完整提示词，不发起请求。
func (s *Service) Prompt(ctx context.Context, id string) (advisory.Prompt, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return advisory.Prompt{}, err
	}
	return advisory.BuildPrompt(entry), nil
}
