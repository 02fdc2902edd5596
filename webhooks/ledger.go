package webhooks

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

type RecordOutcome string

const (
	RecordCreated   RecordOutcome = "created"
	RecordDuplicate RecordOutcome = "duplicate"
)

// Ledger maps an event fingerprint to "already processed".
type Ledger interface {
	RecordIfNew(ctx context.Context, event core.WebhookEvent) (RecordOutcome, error)
	// Release marks a fingerprint whose processing failed so a redelivery is
	// processed again. The recorded payload is kept for replay.
	Release(ctx context.Context, fingerprint string) error
}

type StoreLedger struct {
	Store core.WebhookEventStore
	Now   func() time.Time
}

func NewLedger(store core.WebhookEventStore) *StoreLedger {
	return &StoreLedger{
		Store: store,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *StoreLedger) RecordIfNew(ctx context.Context, event core.WebhookEvent) (RecordOutcome, error) {
	if l == nil || l.Store == nil {
		return "", core.InternalError(nil, "webhooks: ledger requires an event store")
	}
	event.Fingerprint = strings.TrimSpace(event.Fingerprint)
	if event.Fingerprint == "" {
		return "", core.ValidationError("fingerprint", "webhooks: fingerprint is required")
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = l.now()
	}
	inserted, err := l.Store.Insert(ctx, event)
	if err != nil {
		return "", err
	}
	if !inserted {
		return RecordDuplicate, nil
	}
	return RecordCreated, nil
}

func (l *StoreLedger) Release(ctx context.Context, fingerprint string) error {
	if l == nil || l.Store == nil {
		return nil
	}
	return l.Store.Release(ctx, strings.TrimSpace(fingerprint), l.now())
}

func (l *StoreLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ Ledger = (*StoreLedger)(nil)
