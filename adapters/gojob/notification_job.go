package gojob

import (
	"context"
	"fmt"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/notify"
)

const (
	paramBatchSize = "batch_size"
	paramAttempt   = "attempt"
	dedupDrop      = "drop"
)

// DispatchBucket is the window one dispatch message covers; enqueues inside
// the same bucket share an idempotency key.
const DispatchBucket = time.Minute

type NotificationDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (notify.Stats, error)
}

// DispatchFunc adapts a function, such as a command bus dispatch, to
// NotificationDispatcher.
type DispatchFunc func(ctx context.Context, limit int) (notify.Stats, error)

func (f DispatchFunc) DispatchDue(ctx context.Context, limit int) (notify.Stats, error) {
	return f(ctx, limit)
}

// NewDispatchMessage builds the queue message that triggers one dispatch pass.
func NewDispatchMessage(batchSize int, at time.Time) *core.JobExecutionMessage {
	bucket := at.UTC().Truncate(DispatchBucket).Unix()
	return &core.JobExecutionMessage{
		JobID:          JobIDNotificationDispatch,
		ScriptPath:     JobIDNotificationDispatch,
		Parameters:     map[string]any{paramBatchSize: batchSize},
		IdempotencyKey: JobIDNotificationDispatch + ":" + strconv.FormatInt(bucket, 10),
		DedupPolicy:    dedupDrop,
	}
}

// NotificationWorker pulls dispatch messages from a queue and runs the
// notification dispatcher for each one.
type NotificationWorker struct {
	dequeuer   core.JobDequeuer
	dispatcher NotificationDispatcher
	hook       core.JobWorkerHook
	policy     RetryPolicy
	retryDelay time.Duration
	now        func() time.Time
}

type WorkerOption func(*NotificationWorker)

func WithWorkerHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *NotificationWorker) {
		w.hook = hook
	}
}

func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(w *NotificationWorker) {
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

func NewNotificationWorker(dequeuer core.JobDequeuer, dispatcher NotificationDispatcher, policy RetryPolicy, opts ...WorkerOption) (*NotificationWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("gojob: notification dispatcher is required")
	}
	w := &NotificationWorker{
		dequeuer:   dequeuer,
		dispatcher: dispatcher,
		policy:     policy,
		retryDelay: 30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles one delivery. Dispatcher errors nack the delivery for a
// bounded retry; messages for other jobs are nacked back untouched.
func (w *NotificationWorker) ProcessNext(ctx context.Context) (notify.Stats, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return notify.Stats{}, err
	}
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDNotificationDispatch {
		return notify.Stats{}, delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Reason: "unsupported job"})
	}

	attempt := intParam(msg.Parameters, paramAttempt) + 1
	startedAt := w.now()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}
	w.onStart(ctx, event)

	stats, dispatchErr := w.dispatcher.DispatchDue(ctx, intParam(msg.Parameters, paramBatchSize))
	event.Duration = w.now().Sub(startedAt)
	if dispatchErr == nil {
		w.onSuccess(ctx, event)
		return stats, delivery.Ack(ctx)
	}

	event.Err = dispatchErr
	opts := core.JobNackOptions{Delay: w.retryDelay, Requeue: true, Reason: dispatchErr.Error()}
	if adapter, ok := delivery.(*DeliveryAdapter); ok {
		normalized := w.policy.NormalizeAttempt(opts, attempt)
		event.Delay = normalized.Delay
		if normalized.Requeue {
			w.onRetry(ctx, event)
		} else {
			w.onFailure(ctx, event)
		}
		if err := adapter.NackForAttempt(ctx, opts, attempt); err != nil {
			return stats, err
		}
		return stats, dispatchErr
	}
	w.onRetry(ctx, event)
	if err := delivery.Nack(ctx, opts); err != nil {
		return stats, err
	}
	return stats, dispatchErr
}

// Run processes deliveries until ctx is done. Dispatch failures are nacked
// and reported through the hook, so an error only pauses the loop.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		_, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// EnqueueDispatches enqueues one dispatch message immediately and then on
// every interval until ctx is done.
func EnqueueDispatches(ctx context.Context, enqueuer core.JobEnqueuer, interval time.Duration, batchSize int) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is required")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := enqueuer.Enqueue(ctx, NewDispatchMessage(batchSize, time.Now())); err != nil && ctx.Err() == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *NotificationWorker) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *NotificationWorker) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *NotificationWorker) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

func (w *NotificationWorker) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, _ := strconv.Atoi(value)
		return parsed
	default:
		return 0
	}
}

// LogHook reports worker events on a glog logger.
type LogHook struct {
	Logger glog.Logger
}

func (h LogHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.logger().Debug("notification job started", "job_id", jobID(event), "attempt", event.Attempt)
}

func (h LogHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.logger().Debug("notification job finished", "job_id", jobID(event), "attempt", event.Attempt, "duration", event.Duration.String())
}

func (h LogHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.logger().Warn("notification job will retry", "job_id", jobID(event), "attempt", event.Attempt, "delay", event.Delay.String(), "error", errText(event.Err))
}

func (h LogHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.logger().Error("notification job dead lettered", "job_id", jobID(event), "attempt", event.Attempt, "error", errText(event.Err))
}

func (h LogHook) logger() glog.Logger {
	if h.Logger == nil {
		return glog.Nop()
	}
	return h.Logger
}

func jobID(event core.JobWorkerEvent) string {
	if event.Message == nil {
		return ""
	}
	return event.Message.JobID
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ core.JobWorkerHook = LogHook{}
