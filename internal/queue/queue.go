// Package queue 把来自 API 与 MCP 的写请求串行化到单个写入协程。
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "TopEquations/internal/errors"
)

// Kind 标识作业类型。
type Kind string

const (
	KindSubmit  Kind = "submit"
	KindImport  Kind = "import"
	KindScore   Kind = "score"
	KindPromote Kind = "promote"
)

// MaxAttempts 是可重试错误的最大投递次数。
const MaxAttempts = 3

// Job 是队列中传递的作业，载荷为 JSON。
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob 序列化载荷并生成作业 ID。
func NewJob(kind Kind, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化作业载荷失败")
	}
	return Job{ID: uuid.NewString(), Kind: kind, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

func encodeJob(job Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码作业失败")
	}
	return data, nil
}

func decodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解码作业失败")
	}
	return job, nil
}

// shouldRedeliver 仅对可重试错误且未超过投递上限的作业重新投递。
func shouldRedeliver(job Job, err error) bool {
	return err != nil && xerrors.RetryableError(err) && job.Attempts+1 < MaxAttempts
}

// Handler 处理单个作业。
type Handler func(ctx context.Context, job Job) error

// Producer 负责投递作业。
type Producer interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// Consumer 负责消费作业。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// Config 描述队列后端。
type Config struct {
	Driver       string
	RedisAddress string
	RabbitMQURL  string
	Name         string
}

// Open 根据驱动名称创建队列。
func Open(cfg Config) (Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryQueue(64), nil
	case "redis":
		return NewRedisQueue(RedisQueueConfig{Address: cfg.RedisAddress, Queue: cfg.Name})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{URL: cfg.RabbitMQURL, Queue: cfg.Name, Durable: true, Prefetch: 1})
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "不支持的队列驱动: %s", cfg.Driver)
	}
}
