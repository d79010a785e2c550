package queue

import (
	"context"
	"sync"

	xerrors "TopEquations/internal/errors"
)

// MemoryQueue 使用 channel 模拟消息队列，适用于单进程部署与测试。
type MemoryQueue struct {
	ch     chan Job
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

// Publish 将作业投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithRetryable(false))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- job:
		return nil
	}
}

// Consume 在单个协程中依次处理作业，直到 ctx 结束或队列关闭。
// 需要重投的作业在本地排队，优先于新作业处理。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var retry []Job
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var job Job
		if len(retry) > 0 {
			job, retry = retry[0], retry[1:]
		} else {
			var ok bool
			select {
			case <-ctx.Done():
				return ctx.Err()
			case job, ok = <-q.ch:
				if !ok {
					return nil
				}
			}
		}
		if err := handler(ctx, job); shouldRedeliver(job, err) {
			job.Attempts++
			retry = append(retry, job)
		}
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
