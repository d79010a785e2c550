package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryStore 在内存中保存策展人账户，账户来自配置文件。
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	perms map[string][]string
}

// NewMemoryStore 以种子账户初始化目录。
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{users: map[string]*User{}, perms: map[string][]string{}}
	for _, seed := range seeds {
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed 新增或覆盖一个账户。
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	hashed := strings.TrimSpace(seed.PasswordHash)
	if hashed == "" {
		var err error
		if hashed, err = HashPassword(seed.Password); err != nil {
			return err
		}
	}
	perms := dedupeStrings(seed.Permissions)
	if len(seed.Permissions) == 0 {
		perms = dedupeStrings(AllPermissions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &User{Username: username, PasswordHash: hashed, Disabled: seed.Disabled}
	s.perms[username] = perms
	return nil
}

// FindUserByUsername 查找账户。
func (s *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[strings.TrimSpace(username)]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, errors.New("user not found")
}

// LoadSubject 返回账户的权限信息。
func (s *MemoryStore) LoadSubject(_ context.Context, username string) (*Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.TrimSpace(username)]
	if !ok {
		return nil, errors.New("subject not found")
	}
	subject := &Subject{Username: user.Username, Permissions: append([]string{}, s.perms[user.Username]...), Disabled: user.Disabled}
	subject.normalise()
	return subject, nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for key := range seen {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}
