package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const idleWait = time.Minute

// MemoryQueue is an in-process go-job queue for a single walletsyncd
// instance. Nacked deliveries return after their delay and dead letters are
// kept for inspection.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []*job.ExecutionMessage
	delayed []delayedMessage
	keys    map[string]struct{}
	dead    []*job.ExecutionMessage
	wake    chan struct{}
	now     func() time.Time
}

type delayedMessage struct {
	msg *job.ExecutionMessage
	at  time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys: map[string]struct{}{},
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Enqueue adds msg to the queue. A message with the drop policy is discarded
// while another message with the same idempotency key is pending or in flight.
func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	if key := dedupKey(msg); key != "" {
		if _, held := q.keys[key]; held {
			q.mu.Unlock()
			return nil
		}
		q.keys[key] = struct{}{}
	}
	q.ready = append(q.ready, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue blocks until a message is ready or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		msg, wait := q.next()
		if msg != nil {
			return &memoryDelivery{queue: q, msg: msg}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len counts pending messages, delayed ones included.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

func (q *MemoryQueue) next() (*job.ExecutionMessage, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	wait := idleWait
	kept := q.delayed[:0]
	for _, entry := range q.delayed {
		if !entry.at.After(now) {
			q.ready = append(q.ready, entry.msg)
			continue
		}
		wait = min(wait, entry.at.Sub(now))
		kept = append(kept, entry)
	}
	q.delayed = kept
	if len(q.ready) == 0 {
		return nil, wait
	}
	msg := q.ready[0]
	q.ready = q.ready[1:]
	return msg, 0
}

func (q *MemoryQueue) settle(msg *job.ExecutionMessage, opts queue.NackOptions, acked bool) {
	q.mu.Lock()
	switch {
	case acked:
		delete(q.keys, dedupKey(msg))
	case opts.DeadLetter:
		q.dead = append(q.dead, msg)
		delete(q.keys, dedupKey(msg))
	case opts.Requeue:
		retry := *msg
		retry.Parameters = copyAnyMap(msg.Parameters)
		retry.Parameters[paramAttempt] = intParam(msg.Parameters, paramAttempt) + 1
		q.delayed = append(q.delayed, delayedMessage{msg: &retry, at: q.now().Add(max(opts.Delay, 0))})
	default:
		delete(q.keys, dedupKey(msg))
	}
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func dedupKey(msg *job.ExecutionMessage) string {
	if msg == nil || msg.DedupPolicy != job.DeduplicationPolicy(dedupDrop) {
		return ""
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() { d.queue.settle(d.msg, queue.NackOptions{}, true) })
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.once.Do(func() { d.queue.settle(d.msg, opts, false) })
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
