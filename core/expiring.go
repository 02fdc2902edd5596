package core

import (
	"context"
	"sync"
	"time"
)

// Expiring caches one value until the expiry returned with it by the fetch
// function. Concurrent callers share a single in-flight fetch.
type Expiring[T any] struct {
	mu        sync.Mutex
	value     T
	expiresAt time.Time
	skew      time.Duration
	now       func() time.Time
}

func NewExpiring[T any](skew time.Duration) *Expiring[T] {
	return &Expiring[T]{skew: skew, now: time.Now}
}

func (e *Expiring[T]) Get(ctx context.Context, fetch func(context.Context) (T, time.Time, error)) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	if !e.expiresAt.IsZero() && now.Add(e.skew).Before(e.expiresAt) {
		return e.value, nil
	}
	value, expiresAt, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	e.value = value
	e.expiresAt = expiresAt
	return value, nil
}

func (e *Expiring[T]) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero T
	e.value = zero
	e.expiresAt = time.Time{}
}

func (e *Expiring[T]) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
