package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/reconcile"
)

type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusReplayed  Status = "replayed"
)

type Reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Outcome, error)
}

// Refresher regenerates passes a participant already holds.
type Refresher interface {
	RefreshExisting(ctx context.Context, program core.Program, participant core.Participant) error
}

type Result struct {
	Status                Status                     `json:"status"`
	Event                 EventType                  `json:"event"`
	Fingerprint           string                     `json:"fingerprint"`
	ProgramID             string                     `json:"program_id"`
	ParticipantID         string                     `json:"participant_id,omitempty"`
	ExternalParticipantID core.ExternalParticipantID `json:"external_participant_id"`
	Created               bool                       `json:"created,omitempty"`
}

type Processor struct {
	Programs   core.ProgramStore
	Ledger     Ledger
	Events     core.WebhookEventStore
	Reconciler Reconciler
	Scheduler  core.NotificationScheduler
	Refresher  Refresher
	Telemetry  core.Telemetry
	Now        func() time.Time
}

func NewProcessor(programs core.ProgramStore, ledger Ledger, reconciler Reconciler) *Processor {
	return &Processor{
		Programs:   programs,
		Ledger:     ledger,
		Reconciler: reconciler,
		Scheduler:  core.NopNotificationScheduler{},
		Telemetry:  core.NewTelemetry(nil, nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process ingests one delivery. A duplicate fingerprint short-circuits with a
// success result. Ledger write failures are logged and processing continues.
func (p *Processor) Process(ctx context.Context, programRef string, raw []byte) (result Result, err error) {
	startedAt := time.Now()
	defer func() {
		p.telemetry().ObserveOperation(ctx, startedAt, "webhook_process", err, map[string]any{
			"program_id":  result.ProgramID,
			"event":       string(result.Event),
			"fingerprint": result.Fingerprint,
			"outcome":     string(result.Status),
		})
	}()

	if p == nil || p.Programs == nil || p.Reconciler == nil {
		return Result{}, core.InternalError(nil, "webhooks: processor requires programs and reconciler")
	}

	event, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	fingerprint := Fingerprint(raw)

	program, err := p.Programs.Resolve(ctx, programRef)
	if err != nil {
		return Result{}, err
	}

	recorded := false
	if p.Ledger != nil {
		outcome, ledgerErr := p.Ledger.RecordIfNew(ctx, core.WebhookEvent{
			Fingerprint:           fingerprint,
			EventType:             string(event.Type()),
			ProgramID:             program.ID,
			ExternalParticipantID: event.Participant().ID,
			Payload:               append([]byte(nil), raw...),
			ReceivedAt:            p.now(),
		})
		switch {
		case ledgerErr != nil:
			p.telemetry().LogError(ctx, "webhook ledger write failed", map[string]any{
				"fingerprint":    fingerprint,
				"program_id":     program.ID,
				"participant_id": event.Participant().ID.String(),
				"error":          ledgerErr.Error(),
			})
		case outcome == RecordDuplicate:
			return Result{
				Status:                StatusDuplicate,
				Event:                 event.Type(),
				Fingerprint:           fingerprint,
				ProgramID:             program.ID,
				ExternalParticipantID: event.Participant().ID,
			}, nil
		default:
			recorded = true
		}
	}

	result, err = p.apply(ctx, program, event, fingerprint)
	if err != nil {
		if recorded {
			if releaseErr := p.Ledger.Release(ctx, fingerprint); releaseErr != nil {
				p.telemetry().LogError(ctx, "webhook ledger release failed", map[string]any{
					"fingerprint": fingerprint,
					"program_id":  program.ID,
					"error":       releaseErr.Error(),
				})
			}
		}
		return Result{ProgramID: program.ID, Event: event.Type(), Fingerprint: fingerprint}, err
	}
	result.Status = StatusProcessed
	return result, nil
}

// Replay reprocesses a stored delivery without consulting the ledger.
func (p *Processor) Replay(ctx context.Context, fingerprint string) (result Result, err error) {
	startedAt := time.Now()
	defer func() {
		p.telemetry().ObserveOperation(ctx, startedAt, "webhook_replay", err, map[string]any{
			"program_id":  result.ProgramID,
			"fingerprint": fingerprint,
		})
	}()

	if p == nil || p.Events == nil || p.Programs == nil || p.Reconciler == nil {
		return Result{}, core.InternalError(nil, "webhooks: replay requires an event store")
	}
	stored, err := p.Events.Get(ctx, fingerprint)
	if errors.Is(err, core.ErrWebhookEventMissing) {
		return Result{}, core.NotFoundError("webhook_event", "webhooks: no stored event for fingerprint "+fingerprint)
	}
	if err != nil {
		return Result{}, err
	}
	event, err := Parse(stored.Payload)
	if err != nil {
		return Result{}, err
	}
	program, err := p.Programs.Resolve(ctx, stored.ProgramID)
	if err != nil {
		return Result{}, err
	}
	result, err = p.apply(ctx, program, event, stored.Fingerprint)
	if err != nil {
		return Result{}, err
	}
	result.Status = StatusReplayed
	return result, nil
}

func (p *Processor) apply(ctx context.Context, program core.Program, event Event, fingerprint string) (Result, error) {
	occurredAt := event.OccurredAt()
	if occurredAt.IsZero() {
		occurredAt = p.now()
	}
	fallback := event.Participant().Upstream()
	outcome, err := p.Reconciler.Reconcile(ctx, reconcile.Input{
		Program:    program,
		ExternalID: event.Participant().ID,
		Fallback:   &fallback,
		EventType:  string(event.Type()),
		OccurredAt: occurredAt,
	})
	if err != nil {
		return Result{}, err
	}

	fields := map[string]any{
		"fingerprint":    fingerprint,
		"program_id":     program.ID,
		"participant_id": outcome.Participant.ID,
	}
	if outcome.BalanceChanged() && p.Scheduler != nil {
		scheduleErr := p.Scheduler.Schedule(ctx, core.NotificationEvent{
			ProgramID:             program.ID,
			ParticipantID:         outcome.Participant.ID,
			ExternalParticipantID: outcome.Participant.ExternalID,
			Before:                outcome.Before,
			After:                 outcome.After,
			SourceEvent:           string(event.Type()),
			OccurredAt:            occurredAt,
		})
		if scheduleErr != nil {
			p.telemetry().LogError(ctx, "notification schedule failed", withError(fields, scheduleErr))
		}
	}
	if p.Refresher != nil {
		if refreshErr := p.Refresher.RefreshExisting(ctx, program, outcome.Participant); refreshErr != nil {
			p.telemetry().LogError(ctx, "pass refresh after webhook failed", withError(fields, refreshErr))
		}
	}

	return Result{
		Event:                 event.Type(),
		Fingerprint:           fingerprint,
		ProgramID:             program.ID,
		ParticipantID:         outcome.Participant.ID,
		ExternalParticipantID: outcome.Participant.ExternalID,
		Created:               outcome.Created,
	}, nil
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) telemetry() core.Telemetry {
	if p == nil {
		return core.NewTelemetry(nil, nil)
	}
	return p.Telemetry
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	out["error"] = err.Error()
	return out
}
