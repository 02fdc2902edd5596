package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

type DispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

type Stats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// Dispatcher claims due jobs and hands each merged delta to the Notifier.
type Dispatcher struct {
	jobs      core.NotificationJobStore
	notifier  core.Notifier
	config    DispatcherConfig
	telemetry core.Telemetry
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherTelemetry(telemetry core.Telemetry) DispatcherOption {
	return func(d *Dispatcher) {
		d.telemetry = telemetry
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(jobs core.NotificationJobStore, notifier core.Notifier, config DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if jobs == nil {
		return nil, fmt.Errorf("notify: job store is required")
	}
	defaults := DefaultDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	dispatcher := &Dispatcher{
		jobs:      jobs,
		notifier:  notifier,
		config:    config,
		telemetry: core.NewTelemetry(nil, nil),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	if dispatcher.notifier == nil {
		dispatcher.notifier = NewLogNotifier(dispatcher.telemetry)
	}
	return dispatcher, nil
}

func (d *Dispatcher) DispatchDue(ctx context.Context, limit int) (Stats, error) {
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	now := d.now()
	jobs, err := d.jobs.ClaimDue(ctx, now, limit)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Claimed: len(jobs)}
	var dispatchErr error
	for _, job := range jobs {
		if job.After == job.Before {
			if err := d.jobs.Complete(ctx, job.ID, core.NotificationJobSkipped, now); err != nil {
				dispatchErr = errors.Join(dispatchErr, err)
				continue
			}
			stats.Skipped++
			continue
		}
		if err := d.notifier.Notify(ctx, job.Event()); err != nil {
			terminal := job.Attempts >= d.config.MaxAttempts
			next := time.Time{}
			if !terminal {
				next = now.Add(d.backoff(job.Attempts))
			}
			if retryErr := d.jobs.Retry(ctx, job.ID, err, next, terminal); retryErr != nil {
				dispatchErr = errors.Join(dispatchErr, retryErr)
			}
			if terminal {
				stats.Failed++
			} else {
				stats.Retried++
			}
			d.telemetry.LogWarn(ctx, "notification delivery failed", map[string]any{
				"job_id":   job.ID,
				"attempt":  job.Attempts,
				"terminal": terminal,
				"error":    err.Error(),
			})
			continue
		}
		if err := d.jobs.Complete(ctx, job.ID, core.NotificationJobSent, d.now()); err != nil {
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		stats.Sent++
	}
	if stats.Claimed > 0 {
		d.telemetry.LogInfo(ctx, "notification batch dispatched", map[string]any{
			"claimed": stats.Claimed,
			"sent":    stats.Sent,
			"skipped": stats.Skipped,
			"retried": stats.Retried,
			"failed":  stats.Failed,
		})
	}
	return stats, dispatchErr
}

// Run polls for due jobs until the context ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchDue(ctx, 0); err != nil {
			d.telemetry.LogError(ctx, "notification dispatch failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := time.Duration(float64(d.config.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

// LogNotifier records merged deltas in the log. It stands in when no
// delivery channel is configured.
type LogNotifier struct {
	telemetry core.Telemetry
}

func NewLogNotifier(telemetry core.Telemetry) *LogNotifier {
	return &LogNotifier{telemetry: telemetry}
}

func (n *LogNotifier) Notify(ctx context.Context, event core.NotificationEvent) error {
	n.telemetry.LogInfo(ctx, "points balance changed", map[string]any{
		"program_id":     event.ProgramID,
		"participant_id": event.ParticipantID,
		"external_id":    event.ExternalParticipantID.String(),
		"before":         event.Before,
		"after":          event.After,
		"delta":          event.Delta(),
		"source_event":   event.SourceEvent,
	})
	return nil
}

var (
	_ core.NotificationScheduler = (*Scheduler)(nil)
	_ core.Notifier              = (*LogNotifier)(nil)
)
