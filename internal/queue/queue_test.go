package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/observability/alerting"
	"TopEquations/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echo struct {
	Name string `json:"name"`
}

func runWorker(t *testing.T, q *MemoryQueue, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return cancel, done
}

func TestWorkerDispatchesAndTracksResult(t *testing.T) {
	q := NewMemoryQueue(4)
	tracker := NewTracker(8)
	w := NewWorker(q, WithTracker(tracker), WithWorkerLogger(logger.Discard()))
	w.Register(KindSubmit, func(_ context.Context, payload json.RawMessage) (any, error) {
		var in echo
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return map[string]string{"submission_id": "sub-" + in.Name}, nil
	})
	cancel, done := runWorker(t, q, w)

	dispatcher := NewDispatcher(q, tracker)
	job, err := dispatcher.Enqueue(context.Background(), KindSubmit, echo{Name: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	result, err := tracker.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.JSONEq(t, `{"submission_id":"sub-a"}`, string(result.Output))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWorkerRedeliversOnlyRetryableErrors(t *testing.T) {
	q := NewMemoryQueue(4)
	tracker := NewTracker(8)
	w := NewWorker(q, WithTracker(tracker), WithWorkerLogger(logger.Discard()))

	var retryCalls, fatalCalls atomic.Int32
	w.Register(KindScore, func(context.Context, json.RawMessage) (any, error) {
		retryCalls.Add(1)
		return nil, xerrors.New(xerrors.CodeStorageFailure, "磁盘忙")
	})
	w.Register(KindPromote, func(context.Context, json.RawMessage) (any, error) {
		fatalCalls.Add(1)
		return nil, xerrors.New(xerrors.CodeAlreadyPromoted, "")
	})
	cancel, done := runWorker(t, q, w)
	defer func() {
		cancel()
		<-done
	}()

	dispatcher := NewDispatcher(q, tracker)
	retryJob, err := dispatcher.Enqueue(context.Background(), KindScore, echo{})
	require.NoError(t, err)
	fatalJob, err := dispatcher.Enqueue(context.Background(), KindPromote, echo{})
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	retried, err := tracker.Wait(ctx, retryJob.ID)
	require.NoError(t, err)
	failed, err := tracker.Wait(ctx, fatalJob.ID)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, retried.State)
	assert.Equal(t, string(xerrors.CodeStorageFailure), retried.Code)
	assert.Equal(t, int32(MaxAttempts), retryCalls.Load())
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, int32(1), fatalCalls.Load())
}

func TestWorkerRejectsUnknownKind(t *testing.T) {
	q := NewMemoryQueue(1)
	tracker := NewTracker(2)
	w := NewWorker(q, WithTracker(tracker), WithWorkerLogger(logger.Discard()))
	cancel, done := runWorker(t, q, w)
	defer func() {
		cancel()
		<-done
	}()

	job, err := NewDispatcher(q, tracker).Enqueue(context.Background(), Kind("mystery"), echo{})
	require.NoError(t, err)
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	result, err := tracker.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(xerrors.CodeInvalidArgument), result.Code)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	err := q.Publish(context.Background(), Job{ID: "x"})
	assert.True(t, xerrors.IsCode(err, xerrors.CodeQueueFailure))

	assert.NoError(t, q.Consume(context.Background(), func(context.Context, Job) error {
		return errors.New("unreachable")
	}))
}

func TestTrackerEvictsOldest(t *testing.T) {
	tracker := NewTracker(2)
	for _, id := range []string{"a", "b", "c"} {
		tracker.queued(Job{ID: id, Kind: KindSubmit})
	}
	_, ok := tracker.Get("a")
	assert.False(t, ok)
	_, ok = tracker.Get("c")
	assert.True(t, ok)

	_, err := tracker.Wait(context.Background(), "a")
	assert.True(t, xerrors.IsCode(err, xerrors.CodeNotFound))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "kafka"})
	assert.Error(t, err)
	q, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)
	require.NoError(t, q.Close())
}

type recordingAlerts struct {
	events chan alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, e alerting.Event) error {
	r.events <- e
	return nil
}

func TestWorkerAlertsOnFinalAlertableFailure(t *testing.T) {
	q := NewMemoryQueue(4)
	tracker := NewTracker(8)
	alerts := &recordingAlerts{events: make(chan alerting.Event, 4)}
	w := NewWorker(q, WithTracker(tracker), WithWorkerLogger(logger.Discard()), WithAlerts(alerts))
	w.Register(KindScore, func(context.Context, json.RawMessage) (any, error) {
		return nil, xerrors.New(xerrors.CodeUnresolvedRecord, "排名记录无法定位", xerrors.WithSubmission("sub-1"))
	})
	w.Register(KindPromote, func(context.Context, json.RawMessage) (any, error) {
		return nil, xerrors.New(xerrors.CodeAlreadyPromoted, "")
	})
	cancel, done := runWorker(t, q, w)
	defer func() {
		cancel()
		<-done
	}()

	dispatcher := NewDispatcher(q, tracker)
	quiet, err := dispatcher.Enqueue(context.Background(), KindPromote, echo{})
	require.NoError(t, err)
	loud, err := dispatcher.Enqueue(context.Background(), KindScore, echo{})
	require.NoError(t, err)

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	_, err = tracker.Wait(ctx, quiet.ID)
	require.NoError(t, err)
	_, err = tracker.Wait(ctx, loud.ID)
	require.NoError(t, err)

	select {
	case event := <-alerts.events:
		assert.Equal(t, xerrors.CodeUnresolvedRecord, event.Code)
		assert.Equal(t, loud.ID, event.JobID)
		assert.Equal(t, "sub-1", event.Metadata["submission_id"])
	case <-ctx.Done():
		t.Fatal("expected an alert")
	}
	assert.Empty(t, alerts.events)
}
