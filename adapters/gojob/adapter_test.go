package gojob

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-walletsync/core"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := NewDispatchMessage(50, time.Date(2026, 5, 1, 10, 30, 42, 0, time.UTC))

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	if converted.DedupPolicy != job.DeduplicationPolicy("drop") {
		t.Fatalf("expected drop dedup policy, got %q", converted.DedupPolicy)
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.JobID != JobIDNotificationDispatch {
		t.Fatalf("expected job id %q, got %q", JobIDNotificationDispatch, roundTrip.JobID)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey {
		t.Fatalf("expected idempotency key %q, got %q", original.IdempotencyKey, roundTrip.IdempotencyKey)
	}
	if roundTrip.Parameters[paramBatchSize] != 50 {
		t.Fatalf("expected parameters to survive mapping, got %#v", roundTrip.Parameters)
	}
}

func TestNewDispatchMessage_SharesKeyWithinBucket(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	first := NewDispatchMessage(10, base.Add(5*time.Second))
	second := NewDispatchMessage(10, base.Add(55*time.Second))
	next := NewDispatchMessage(10, base.Add(65*time.Second))
	if first.IdempotencyKey != second.IdempotencyKey {
		t.Fatalf("expected same key inside bucket, got %q and %q", first.IdempotencyKey, second.IdempotencyKey)
	}
	if first.IdempotencyKey == next.IdempotencyKey {
		t.Fatalf("expected a new key for the next bucket")
	}
}

func TestEnqueueAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	enqueueAdapter := NewEnqueuerAdapter(enqueuer)

	if err := enqueueAdapter.Enqueue(ctx, NewDispatchMessage(50, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDNotificationDispatch {
		t.Fatalf("expected mapped go-job message")
	}

	dequeuer := &stubQueueDequeuer{delivery: &stubQueueDelivery{msg: enqueuer.last}}
	dequeueAdapter := NewDequeuerAdapter(dequeuer, RetryPolicy{})
	delivery, err := dequeueAdapter.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	got := delivery.Message()
	if got == nil || got.JobID != JobIDNotificationDispatch {
		t.Fatalf("expected mapped core message")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !dequeuer.delivery.(*stubQueueDelivery).acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{
			JobID:      JobIDNotificationDispatch,
			ScriptPath: JobIDNotificationDispatch,
		},
	}
	adapter := NewDeliveryAdapter(rawDelivery, RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.JobNackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue once max attempts is reached")
	}
	if !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter on max attempts")
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type capturingHook struct {
	starts    []core.JobWorkerEvent
	successes []core.JobWorkerEvent
	failures  []core.JobWorkerEvent
	retries   []core.JobWorkerEvent
}

func (h *capturingHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.starts = append(h.starts, event)
}

func (h *capturingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.successes = append(h.successes, event)
}

func (h *capturingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.failures = append(h.failures, event)
}

func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.retries = append(h.retries, event)
}
