package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "TopEquations/internal/errors"
)

// Unlock 释放已获取的写锁。
type Unlock func() error

// Locker 为整文档的读-改-写提供互斥。
type Locker interface {
	Lock(ctx context.Context) (Unlock, error)
}

// NopLocker 不做任何互斥，适用于单进程测试。
type NopLocker struct{}

// Lock 立即返回。
func (NopLocker) Lock(context.Context) (Unlock, error) {
	return func() error { return nil }, nil
}

// FileLocker 使用 flock 文件锁在同一主机上的多个进程之间互斥。
type FileLocker struct {
	path    string
	timeout time.Duration
	retry   time.Duration
}

// NewFileLocker 创建文件锁，timeout 为零时一直等待到 ctx 结束。
func NewFileLocker(path string, timeout time.Duration) *FileLocker {
	return &FileLocker{path: path, timeout: timeout, retry: 50 * time.Millisecond}
}

// Lock 在超时前反复尝试获取锁。
func (l *FileLocker) Lock(ctx context.Context) (Unlock, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "创建锁文件目录失败")
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	fl := flock.New(l.path)
	locked, err := fl.TryLockContext(ctx, l.retry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "等待写锁超时", xerrors.WithMetadata("path", l.path))
		}
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "获取写锁失败", xerrors.WithMetadata("path", l.path))
	}
	if !locked {
		return nil, xerrors.New(xerrors.CodeLockFailure, "", xerrors.WithMetadata("path", l.path))
	}
	return fl.Unlock, nil
}

const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker 使用 SET NX 与带令牌校验的释放脚本实现跨主机互斥。
type RedisLocker struct {
	client  redis.Cmdable
	key     string
	ttl     time.Duration
	timeout time.Duration
	retry   time.Duration
	release *redis.Script
}

// NewRedisLocker 创建 Redis 锁。ttl 防止持有者崩溃后锁永不释放。
func NewRedisLocker(client redis.Cmdable, key string, timeout time.Duration) *RedisLocker {
	ttl := 2 * timeout
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{
		client:  client,
		key:     key,
		ttl:     ttl,
		timeout: timeout,
		retry:   100 * time.Millisecond,
		release: redis.NewScript(releaseScript),
	}
}

// Lock 获取锁并返回只会删除自身令牌的释放函数。
func (l *RedisLocker) Lock(ctx context.Context) (Unlock, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "Redis 加锁失败", xerrors.WithMetadata("key", l.key))
		}
		if ok {
			return func() error {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return l.release.Run(releaseCtx, l.client, []string{l.key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, ctx.Err(), "等待写锁超时", xerrors.WithMetadata("key", l.key))
		case <-ticker.C:
		}
	}
}

// NewLocker 根据驱动名称创建写锁。
func NewLocker(driver, path, redisAddress, redisKey string, timeout time.Duration) (Locker, error) {
	switch driver {
	case "", "file":
		return NewFileLocker(path, timeout), nil
	case "redis":
		if redisAddress == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 锁需要配置 redis_address")
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddress})
		return NewRedisLocker(client, redisKey, timeout), nil
	case "none":
		return NopLocker{}, nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的写锁驱动: %s", driver)
	}
}

var (
	_ Locker = NopLocker{}
	_ Locker = (*FileLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
