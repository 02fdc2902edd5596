package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-job/queue"
)

func TestMemoryQueue_DropsDuplicateDispatchWhilePending(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	at := time.Date(2026, 5, 1, 10, 30, 5, 0, time.UTC)

	for range 3 {
		if err := q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, at))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("expected one pending dispatch per bucket, got %d", q.Len())
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, at))); err != nil {
		t.Fatalf("enqueue in flight: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected in-flight key to hold, got %d pending", q.Len())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, at))); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected key to be free after ack, got %d pending", q.Len())
	}
}

func TestMemoryQueue_RequeueWaitsForDelayAndCountsAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	q := NewMemoryQueue()
	q.now = func() time.Time { return now }

	if err := q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, now))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true, Delay: 30 * time.Second}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if msg, wait := q.next(); msg != nil || wait != 30*time.Second {
		t.Fatalf("expected delayed retry, got msg=%v wait=%s", msg, wait)
	}

	now = now.Add(31 * time.Second)
	retry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue retry: %v", err)
	}
	if got := intParam(retry.Message().Parameters, paramAttempt); got != 1 {
		t.Fatalf("expected attempt 1 on retry, got %d", got)
	}
	if got := intParam(retry.Message().Parameters, paramBatchSize); got != 10 {
		t.Fatalf("expected batch size to survive requeue, got %d", got)
	}
}

func TestMemoryQueue_DeadLetterReleasesKey(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	at := time.Now()
	_ = q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, at)))

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	_ = delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "gave up"})
	_ = delivery.Ack(ctx)

	if dead := q.DeadLetters(); len(dead) != 1 || dead[0].JobID != JobIDNotificationDispatch {
		t.Fatalf("expected one dead letter, got %v", dead)
	}
	_ = q.Enqueue(ctx, ToExecutionMessage(NewDispatchMessage(10, at)))
	if q.Len() != 1 {
		t.Fatalf("expected key to be free after dead letter, got %d pending", q.Len())
	}
}

func TestMemoryQueue_DequeueStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewMemoryQueue().Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error from empty queue, got %v", err)
	}
}
