// Package ratelimit tracks provider throttling signals per bucket so outbound
// Perk and Google calls back off instead of hammering a provider that has
// already answered 429.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key names one throttling bucket: a provider plus whatever partitions its
// quota (a program id for Perk, the issuer for Google).
type Key struct {
	Service string
	Bucket  string
}

func (k Key) normalized() Key {
	return Key{
		Service: strings.ToLower(strings.TrimSpace(k.Service)),
		Bucket:  strings.TrimSpace(k.Bucket),
	}
}

func (k Key) String() string {
	return k.Service + "|" + k.Bucket
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type Policy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewPolicy(store StateStore) *Policy {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Policy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall returns a rate-limited error while the bucket is inside a
// throttle window or has exhausted its quota until the advertised reset.
func (p *Policy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	var wait time.Duration
	switch {
	case state.ThrottledUntil != nil && now.Before(*state.ThrottledUntil):
		wait = state.ThrottledUntil.Sub(now)
	case state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt):
		wait = state.ResetAt.Sub(now)
	default:
		return nil
	}
	return core.RateLimitedError(key.Service, wait,
		fmt.Sprintf("ratelimit: %s bucket %q throttled for %s", key.Service, key.Bucket, wait.Round(time.Millisecond)))
}

// AfterCall records the quota headers of a completed call. A 429, or an
// exhausted quota, opens a throttle window sized by Retry-After when present
// and by exponential backoff otherwise. Any other answer closes the window.
func (p *Policy) AfterCall(ctx context.Context, key Key, status int, headers map[string]string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.normalized()
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	state.LastStatus = status
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(headers, "x-ratelimit-limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(headers, "x-ratelimit-remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(headers)
	if hasResetAt {
		state.ResetAt = &resetAt
	}
	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)
	state.RetryAfter = nil
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	}

	throttled := status == http.StatusTooManyRequests ||
		(status < 500 && hasRemaining && state.Remaining == 0)
	if !throttled {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := retryAfter
	if !hasRetryAfter {
		delay = p.nextBackoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Policy) nextBackoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	return min(delay, maximum)
}

func parseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	raw := headerValue(headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers map[string]string) (time.Time, bool) {
	value := headerValue(headers, "x-ratelimit-reset")
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[key.normalized().String()]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Key = state.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key.String()] = state
	return nil
}
