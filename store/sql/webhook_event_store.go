package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-walletsync/core"
)

// WebhookEventStore is the durable idempotency ledger: one row per
// fingerprint. A failed delivery is marked released rather than removed.
type WebhookEventStore struct {
	db *bun.DB
}

func NewWebhookEventStore(db *bun.DB) (*WebhookEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WebhookEventStore{db: db}, nil
}

func (s *WebhookEventStore) Insert(ctx context.Context, event core.WebhookEvent) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	fingerprint := strings.TrimSpace(event.Fingerprint)
	if fingerprint == "" {
		return false, core.ValidationError("fingerprint", "sqlstore: webhook fingerprint is required")
	}
	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = uuid.NewString()
	}
	payload := event.Payload
	if payload == nil {
		payload = []byte{}
	}
	record := &webhookEventRecord{
		ID:                    id,
		Fingerprint:           fingerprint,
		EventType:             strings.TrimSpace(event.EventType),
		ProgramID:             strings.TrimSpace(event.ProgramID),
		ExternalParticipantID: int64(event.ExternalParticipantID),
		Payload:               payload,
		ReceivedAt:            receivedAt,
	}
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (fingerprint) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	return s.reclaim(ctx, record)
}

// reclaim takes over a released row. The conditional update lets exactly one
// concurrent redelivery win.
func (s *WebhookEventStore) reclaim(ctx context.Context, record *webhookEventRecord) (bool, error) {
	result, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("event_type = ?", record.EventType).
		Set("program_id = ?", record.ProgramID).
		Set("external_participant_id = ?", record.ExternalParticipantID).
		Set("payload = ?", record.Payload).
		Set("received_at = ?", record.ReceivedAt).
		Set("released_at = NULL").
		Where("fingerprint = ?", record.Fingerprint).
		Where("released_at IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *WebhookEventStore) Get(ctx context.Context, fingerprint string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.fingerprint = ?", strings.TrimSpace(fingerprint)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, fmt.Errorf("%w: fingerprint %q", core.ErrWebhookEventMissing, fingerprint)
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookEventStore) Release(ctx context.Context, fingerprint string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook event store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("released_at = ?", at.UTC()).
		Where("fingerprint = ?", strings.TrimSpace(fingerprint)).
		Exec(ctx)
	return err
}
