package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/alerting"
	"TopEquations/internal/observability/metrics"
	"TopEquations/pkg/logger"
)

// State 表示作业在本进程中的处理状态。
type State string

const (
	StateQueued    State = "queued"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Result 是作业的最近处理结果。
type Result struct {
	JobID     string          `json:"job_id"`
	Kind      Kind            `json:"kind"`
	State     State           `json:"state"`
	Output    json.RawMessage `json:"output,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type trackedJob struct {
	result Result
	done   chan struct{}
}

// Tracker 在内存中保存最近的作业结果，超过容量时淘汰最早的记录。
type Tracker struct {
	mu       sync.Mutex
	capacity int
	order    []string
	jobs     map[string]*trackedJob
}

// NewTracker 创建作业结果跟踪器。
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Tracker{capacity: capacity, jobs: make(map[string]*trackedJob)}
}

func (t *Tracker) queued(job Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job.ID]; ok {
		return
	}
	t.jobs[job.ID] = &trackedJob{
		result: Result{JobID: job.ID, Kind: job.Kind, State: StateQueued, UpdatedAt: time.Now().UTC()},
		done:   make(chan struct{}),
	}
	t.order = append(t.order, job.ID)
	for len(t.order) > t.capacity {
		evicted := t.order[0]
		t.order = t.order[1:]
		delete(t.jobs, evicted)
	}
}

func (t *Tracker) finish(job Job, output json.RawMessage, err error, final bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.jobs[job.ID]
	if !ok {
		return
	}
	entry.result.UpdatedAt = time.Now().UTC()
	if err != nil {
		entry.result.Code = string(xerrors.CodeOf(err))
		entry.result.Error = err.Error()
		if !final {
			return
		}
		entry.result.State = StateFailed
	} else {
		entry.result.State = StateSucceeded
		entry.result.Output = output
		entry.result.Code = ""
		entry.result.Error = ""
	}
	select {
	case <-entry.done:
	default:
		close(entry.done)
	}
}

// Get 返回作业结果。
func (t *Tracker) Get(id string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.jobs[id]
	if !ok {
		return Result{}, false
	}
	return entry.result, true
}

// Wait 阻塞直到作业完成或 ctx 结束。
func (t *Tracker) Wait(ctx context.Context, id string) (Result, error) {
	t.mu.Lock()
	entry, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return Result{}, xerrors.New(xerrors.CodeNotFound, "作业不存在", xerrors.WithMetadata("job_id", id))
	}
	select {
	case <-ctx.Done():
		return Result{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待作业完成超时")
	case <-entry.done:
	}
	result, _ := t.Get(id)
	return result, nil
}

// Dispatcher 负责投递作业并登记跟踪。
type Dispatcher struct {
	producer Producer
	tracker  *Tracker
}

// NewDispatcher 创建作业投递器。
func NewDispatcher(producer Producer, tracker *Tracker) *Dispatcher {
	return &Dispatcher{producer: producer, tracker: tracker}
}

// Enqueue 投递作业并返回作业描述。
func (d *Dispatcher) Enqueue(ctx context.Context, kind Kind, payload any) (Job, error) {
	job, err := NewJob(kind, payload)
	if err != nil {
		return Job{}, err
	}
	if d.tracker != nil {
		d.tracker.queued(job)
	}
	if err := d.producer.Publish(ctx, job); err != nil {
		if d.tracker != nil {
			d.tracker.finish(job, nil, err, true)
		}
		return Job{}, err
	}
	return job, nil
}

// Tracker 返回关联的结果跟踪器。
func (d *Dispatcher) Tracker() *Tracker { return d.tracker }

// HandlerFunc 处理某一类作业的载荷并返回可序列化的输出。
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Worker 是唯一的写入协程，按作业类型分发到注册的处理函数。
type Worker struct {
	consumer Consumer
	tracker  *Tracker
	handlers map[Kind]HandlerFunc
	alerter  alerting.Dispatcher
	logger   *slog.Logger
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithTracker 指定结果跟踪器。
func WithTracker(t *Tracker) WorkerOption {
	return func(w *Worker) {
		w.tracker = t
	}
}

// WithAlerts 在作业最终失败且错误码要求告警时发送通知。
func WithAlerts(d alerting.Dispatcher) WorkerOption {
	return func(w *Worker) {
		w.alerter = d
	}
}

// NewWorker 构造写入协程。
func NewWorker(consumer Consumer, opts ...WorkerOption) *Worker {
	w := &Worker{
		consumer: consumer,
		handlers: make(map[Kind]HandlerFunc),
		logger:   logger.Named("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Register 绑定作业类型与处理函数。
func (w *Worker) Register(kind Kind, fn HandlerFunc) {
	w.handlers[kind] = fn
}

// Run 启动消费循环，直到 ctx 结束。
func (w *Worker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "未配置作业消费者", xerrors.WithRetryable(false))
	}
	return w.consumer.Consume(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, job Job) error {
	if w.tracker != nil {
		w.tracker.queued(job)
	}
	fn, ok := w.handlers[job.Kind]
	if !ok {
		err := xerrors.New(xerrors.CodeInvalidArgument, "未知的作业类型", xerrors.WithMetadata("kind", string(job.Kind)))
		w.complete(job, nil, err, true)
		return err
	}

	output, err := fn(ctx, job.Payload)
	if err != nil {
		final := !shouldRedeliver(job, err)
		w.logger.Warn("作业处理失败",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Int("attempt", job.Attempts+1),
			slog.Bool("final", final),
			xerrors.LogAttr(err))
		w.complete(job, nil, err, final)
		if final {
			w.emitAlert(ctx, job, err)
		}
		return err
	}

	raw, encErr := json.Marshal(output)
	if encErr != nil {
		w.complete(job, nil, xerrors.Wrap(xerrors.CodeQueueFailure, encErr, "编码作业结果失败", xerrors.WithRetryable(false)), true)
		return nil
	}
	w.logger.Info("作业完成", slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))
	w.complete(job, raw, nil, true)
	return nil
}

func (w *Worker) complete(job Job, output json.RawMessage, err error, final bool) {
	outcome := "succeeded"
	switch {
	case err != nil && final:
		outcome = "failed"
	case err != nil:
		outcome = "retried"
	}
	metrics.ObserveJob(string(job.Kind), outcome)
	if w.tracker != nil {
		w.tracker.finish(job, output, err, final)
	}
}

func (w *Worker) emitAlert(ctx context.Context, job Job, err error) {
	if w.alerter == nil {
		return
	}
	event, ok := alerting.FromError(err, job.ID, string(job.Kind), job.Attempts+1, MaxAttempts)
	if !ok {
		return
	}
	if notifyErr := w.alerter.Notify(ctx, event); notifyErr != nil {
		w.logger.Error("告警通知失败",
			slog.String("job_id", job.ID),
			slog.String("code", string(event.Code)),
			slog.Any("error", notifyErr))
	}
}
