package notify

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

// Scheduler persists point deltas as notification jobs. A delta joins the
// participant's pending job when one exists; otherwise a new job is inserted
// with a due time from the Policy.
type Scheduler struct {
	jobs      core.NotificationJobStore
	policy    Policy
	telemetry core.Telemetry
	now       func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerTelemetry(telemetry core.Telemetry) SchedulerOption {
	return func(s *Scheduler) {
		s.telemetry = telemetry
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewScheduler(jobs core.NotificationJobStore, policy Policy, opts ...SchedulerOption) *Scheduler {
	scheduler := &Scheduler{
		jobs:      jobs,
		policy:    policy,
		telemetry: core.NewTelemetry(nil, nil),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler
}

func (s *Scheduler) Schedule(ctx context.Context, event core.NotificationEvent) (err error) {
	if event.Delta() == 0 {
		return nil
	}
	if strings.TrimSpace(event.ParticipantID) == "" {
		return core.ValidationError("participant_id", "notify: participant id is required")
	}
	startedAt := time.Now()
	outcome := "inserted"
	defer func() {
		s.telemetry.ObserveOperation(ctx, startedAt, "notification_schedule", err, map[string]any{
			"program_id":     event.ProgramID,
			"participant_id": event.ParticipantID,
			"delta":          event.Delta(),
			"outcome":        outcome,
		})
	}()

	now := s.now()
	pending, err := s.jobs.FindPending(ctx, event.ParticipantID, now)
	if err != nil {
		return err
	}
	if pending != nil {
		outcome = "merged"
		return s.jobs.MergeInto(ctx, pending.ID, event.After, event.SourceEvent)
	}
	lastSent, err := s.jobs.LastSent(ctx, event.ParticipantID)
	if err != nil {
		return err
	}
	var sources []string
	if event.SourceEvent != "" {
		sources = []string{event.SourceEvent}
	}
	_, err = s.jobs.Insert(ctx, core.NotificationJob{
		ProgramID:             event.ProgramID,
		ParticipantID:         event.ParticipantID,
		ExternalParticipantID: event.ExternalParticipantID,
		Before:                event.Before,
		After:                 event.After,
		SourceEvents:          sources,
		Status:                core.NotificationJobPending,
		DueAt:                 s.policy.DueAt(now, lastSent),
	})
	return err
}
