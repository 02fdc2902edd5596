package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-walletsync/core"
)

type PassStore struct {
	db   *bun.DB
	repo repository.Repository[*passRecord]
}

func NewPassStore(db *bun.DB) (*PassStore, error) {
	repo, err := newRepository(db, "pass", passHandlers())
	if err != nil {
		return nil, err
	}
	return &PassStore{db: db, repo: repo}, nil
}

func (s *PassStore) Find(ctx context.Context, participantID string, kind core.PassKind, scope core.PassScope) (*core.Pass, error) {
	return s.findOne(ctx,
		repository.SelectBy("participant_id", "=", strings.TrimSpace(participantID)),
		repository.SelectBy("kind", "=", string(kind)),
		repository.SelectBy("scope_key", "=", scope.Key()),
	)
}

func (s *PassStore) FindBySerial(ctx context.Context, serial string) (*core.Pass, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, nil
	}
	return s.findOne(ctx, repository.SelectBy("apple_serial", "=", serial))
}

func (s *PassStore) findOne(ctx context.Context, criteria ...repository.SelectCriteria) (*core.Pass, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: pass store is not configured")
	}
	records, _, err := s.repo.List(ctx, append(criteria, repository.SelectPaginate(1, 0))...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	pass := records[0].toDomain()
	return &pass, nil
}

func (s *PassStore) ListByParticipant(ctx context.Context, participantID string) ([]core.Pass, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: pass store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("participant_id", "=", strings.TrimSpace(participantID)),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return passesFromRecords(records), nil
}

func (s *PassStore) Create(ctx context.Context, pass core.Pass) (core.Pass, error) {
	if s == nil || s.repo == nil {
		return core.Pass{}, fmt.Errorf("sqlstore: pass store is not configured")
	}
	if strings.TrimSpace(pass.ParticipantID) == "" || strings.TrimSpace(string(pass.Kind)) == "" {
		return core.Pass{}, core.ValidationError("pass", "sqlstore: participant id and kind are required")
	}
	now := time.Now().UTC()
	if pass.ID == "" {
		pass.ID = uuid.NewString()
	}
	if pass.Version <= 0 {
		pass.Version = 1
	}
	pass.CreatedAt = now
	pass.UpdatedAt = now
	created, err := s.repo.Create(ctx, newPassRecord(pass))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Pass{}, core.ErrPassConflict
		}
		return core.Pass{}, err
	}
	return created.toDomain(), nil
}

// UpdateIssued is a compare-and-set on version: the row only changes while
// it still holds ExpectedVersion.
func (s *PassStore) UpdateIssued(ctx context.Context, in core.UpdateIssuedInput) (core.Pass, error) {
	if s == nil || s.db == nil {
		return core.Pass{}, fmt.Errorf("sqlstore: pass store is not configured")
	}
	syncedAt := in.SyncedAt.UTC()
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	result, err := s.db.NewUpdate().
		Model((*passRecord)(nil)).
		Set("apple_serial = ?", in.AppleSerial).
		Set("google_object_id = ?", in.GoogleObjectID).
		Set("content_hash = ?", in.ContentHash).
		Set("version = version + 1").
		Set("last_error = ?", "").
		Set("last_synced_at = ?", syncedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(in.PassID)).
		Where("version = ?", in.ExpectedVersion).
		Exec(ctx)
	if err != nil {
		return core.Pass{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		if _, getErr := s.get(ctx, s.db, in.PassID); getErr != nil {
			return core.Pass{}, getErr
		}
		return core.Pass{}, core.ErrPassConflict
	}
	record, err := s.get(ctx, s.db, in.PassID)
	if err != nil {
		return core.Pass{}, err
	}
	return record.toDomain(), nil
}

func (s *PassStore) RecordError(ctx context.Context, passID string, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: pass store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*passRecord)(nil)).
		Set("last_error = ?", strings.TrimSpace(message)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(passID)).
		Exec(ctx)
	return err
}

// UpdateDeviceTokens applies mutate under a row lock and writes the result
// only when mutate reports a change.
func (s *PassStore) UpdateDeviceTokens(ctx context.Context, passID string, mutate func([]core.DeviceToken) ([]core.DeviceToken, bool)) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: pass store is not configured")
	}
	if mutate == nil {
		return false, nil
	}
	changed := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := s.get(ctx, tx, passID)
		if err != nil {
			return err
		}
		next, ok := mutate(append([]core.DeviceToken(nil), record.DeviceTokens...))
		if !ok {
			return nil
		}
		if next == nil {
			next = []core.DeviceToken{}
		}
		changed = true
		_, err = tx.NewUpdate().
			Model((*passRecord)(nil)).
			Set("device_tokens = ?", next).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListByDevice returns passes holding a token for deviceID, optionally only
// those synced after updatedSince.
func (s *PassStore) ListByDevice(ctx context.Context, deviceID string, updatedSince *time.Time) ([]core.Pass, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: pass store is not configured")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, nil
	}
	var records []*passRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("CAST(?TableAlias.device_tokens AS TEXT) LIKE ?", "%"+escapeLike(deviceID)+"%").
		OrderExpr("?TableAlias.updated_at ASC")
	if updatedSince != nil {
		query = query.Where("?TableAlias.last_synced_at > ?", updatedSince.UTC())
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.Pass, 0, len(records))
	for _, record := range records {
		for _, token := range record.DeviceTokens {
			if token.DeviceID == deviceID {
				out = append(out, record.toDomain())
				break
			}
		}
	}
	return out, nil
}

func (s *PassStore) get(ctx context.Context, db bun.IDB, passID string) (*passRecord, error) {
	record := &passRecord{}
	query := db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(passID)).Limit(1)
	if db.Dialect().Name() == dialect.PG {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFoundError("pass", fmt.Sprintf("sqlstore: pass %q not found", passID))
		}
		return nil, err
	}
	return record, nil
}

func passesFromRecords(records []*passRecord) []core.Pass {
	out := make([]core.Pass, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

// escapeLike turns % into the single-character wildcard so the LIKE filter
// stays a superset of the exact match applied afterwards.
func escapeLike(value string) string {
	return strings.ReplaceAll(value, "%", "_")
}
