// Package reconcile merges authoritative upstream participant records with the
// locally stored webhook bookkeeping.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

type Input struct {
	Program    core.Program
	ExternalID core.ExternalParticipantID
	// Fallback is the participant embedded in a webhook; used when the
	// upstream fetch fails.
	Fallback   *core.UpstreamParticipant
	EventType  string
	OccurredAt time.Time
}

type Outcome struct {
	Participant core.Participant
	Snapshot    Snapshot
	Created     bool
	// Before and After are the displayed balances around this reconciliation.
	Before int64
	After  int64
}

func (o Outcome) BalanceChanged() bool {
	return o.Before != o.After
}

type Reconciler struct {
	upstream     core.UpstreamClient
	participants core.ParticipantStore
	telemetry    core.Telemetry
	now          func() time.Time
}

type Option func(*Reconciler)

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(r *Reconciler) {
		r.telemetry = telemetry
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(upstream core.UpstreamClient, participants core.ParticipantStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		upstream:     upstream,
		participants: participants,
		telemetry:    core.NewTelemetry(nil, nil),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Reconciler) Reconcile(ctx context.Context, in Input) (outcome Outcome, err error) {
	startedAt := time.Now()
	defer func() {
		r.telemetry.ObserveOperation(ctx, startedAt, "reconcile", err, map[string]any{
			"program_id":      in.Program.ID,
			"external_id":     in.ExternalID.String(),
			"event":           in.EventType,
			"created":         outcome.Created,
			"snapshot_source": outcome.Snapshot.Source,
		})
	}()

	if strings.TrimSpace(in.Program.ID) == "" {
		return Outcome{}, core.ValidationError("program_id", "reconcile: program is required")
	}
	if !in.ExternalID.Valid() {
		return Outcome{}, core.ValidationError("participant_id", "reconcile: participant id must be positive")
	}

	snapshot, err := r.fetchSnapshot(ctx, in)
	if err != nil {
		return Outcome{}, err
	}

	existing, err := r.resolveExisting(ctx, in.Program.ID, in.ExternalID, snapshot)
	if err != nil {
		return Outcome{}, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now()
	}
	display := in.Program.Settings.EffectivePointsDisplay()

	var participant core.Participant
	if existing == nil {
		outcome.Created = true
		participant = core.Participant{ProgramID: in.Program.ID}
	} else {
		participant = *existing
		outcome.Before = participantBalance(participant, display)
	}
	apply(&participant, snapshot, outcome.Created)
	snapshot = snapshot.backfill(participant)
	if eventType := strings.TrimSpace(in.EventType); eventType != "" {
		at := occurredAt.UTC()
		participant.LastEventType = eventType
		participant.LastEventAt = &at
		participant.EventCount++
		participant.EventHistory = AppendHistory(participant.EventHistory, eventType, at)
	}

	saved, err := r.participants.Save(ctx, participant)
	if err != nil {
		return Outcome{}, err
	}
	outcome.Participant = saved
	outcome.Snapshot = snapshot
	outcome.After = snapshot.Balance(display)
	return outcome, nil
}

func (r *Reconciler) fetchSnapshot(ctx context.Context, in Input) (Snapshot, error) {
	record, fetchErr := r.upstream.FetchParticipant(ctx, in.Program, in.ExternalID)
	if fetchErr == nil {
		return Normalize(record, SourceUpstream)
	}
	if in.Fallback == nil {
		return Snapshot{}, fetchErr
	}
	r.telemetry.LogWarn(ctx, "upstream participant fetch failed, merging webhook payload", map[string]any{
		"program_id":  in.Program.ID,
		"external_id": in.ExternalID.String(),
		"error":       fetchErr.Error(),
	})
	fallback := *in.Fallback
	if fallback.ID <= 0 {
		fallback.ID = int64(in.ExternalID)
	}
	return Normalize(fallback, SourceWebhook)
}

// resolveExisting matches by external id first and then by email so an
// upstream id reassignment updates the same row.
func (r *Reconciler) resolveExisting(ctx context.Context, programID string, requested core.ExternalParticipantID, snapshot Snapshot) (*core.Participant, error) {
	for _, id := range uniqueIDs(snapshot.ExternalID, requested) {
		found, err := r.participants.FindByExternalID(ctx, programID, id)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	if snapshot.Email == "" {
		return nil, nil
	}
	return r.participants.FindByEmail(ctx, programID, snapshot.Email)
}

// apply overwrites the row with the snapshot. Fields a partial snapshot does
// not carry keep their stored values; a new row takes the snapshot defaults.
func apply(participant *core.Participant, snapshot Snapshot, created bool) {
	participant.ExternalID = snapshot.ExternalID
	if snapshot.Email != "" {
		participant.Email = snapshot.Email
	}
	if created || snapshot.carries(fieldFirstName) {
		participant.FirstName = snapshot.FirstName
	}
	if created || snapshot.carries(fieldLastName) {
		participant.LastName = snapshot.LastName
	}
	if created || snapshot.carries(fieldPoints) {
		participant.Points = snapshot.Points
	}
	if created || snapshot.carries(fieldUnusedPoints) {
		participant.UnusedPoints = snapshot.UnusedPoints
	}
	if created || snapshot.carries(fieldTier) {
		participant.Tier = snapshot.Tier
	}
	if created || snapshot.carries(fieldStatus) {
		participant.Status = snapshot.Status
	}
	if snapshot.Profile != nil {
		participant.Profile = snapshot.Profile
	}
}

func uniqueIDs(ids ...core.ExternalParticipantID) []core.ExternalParticipantID {
	out := make([]core.ExternalParticipantID, 0, len(ids))
	for _, id := range ids {
		if !id.Valid() {
			continue
		}
		duplicate := false
		for _, existing := range out {
			if existing == id {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, id)
		}
	}
	return out
}
