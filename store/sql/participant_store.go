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

	"github.com/goliatone/go-walletsync/core"
)

type ParticipantStore struct {
	db   *bun.DB
	repo repository.Repository[*participantRecord]
}

func NewParticipantStore(db *bun.DB) (*ParticipantStore, error) {
	repo, err := newRepository(db, "participant", participantHandlers())
	if err != nil {
		return nil, err
	}
	return &ParticipantStore{db: db, repo: repo}, nil
}

func (s *ParticipantStore) FindByExternalID(ctx context.Context, programID string, externalID core.ExternalParticipantID) (*core.Participant, error) {
	return s.findOne(ctx,
		repository.SelectBy("program_id", "=", strings.TrimSpace(programID)),
		repository.SelectBy("external_id", "=", externalID.String()),
	)
}

func (s *ParticipantStore) FindByEmail(ctx context.Context, programID string, email string) (*core.Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return s.findOne(ctx,
		repository.SelectBy("program_id", "=", strings.TrimSpace(programID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(?TableAlias.email) = ?", email)
		}),
		repository.OrderBy("updated_at DESC"),
	)
}

func (s *ParticipantStore) findOne(ctx context.Context, criteria ...repository.SelectCriteria) (*core.Participant, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: participant store is not configured")
	}
	records, _, err := s.repo.List(ctx, append(criteria, repository.SelectPaginate(1, 0))...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	participant := records[0].toDomain()
	return &participant, nil
}

func (s *ParticipantStore) Get(ctx context.Context, id string) (core.Participant, error) {
	if s == nil || s.db == nil {
		return core.Participant{}, fmt.Errorf("sqlstore: participant store is not configured")
	}
	record := &participantRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", strings.TrimSpace(id)).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Participant{}, core.NotFoundError("participant", fmt.Sprintf("sqlstore: participant %q not found", id))
		}
		return core.Participant{}, err
	}
	return record.toDomain(), nil
}

// Save updates by id when set, otherwise upserts on (program_id, external_id)
// so a replayed creation never duplicates the row.
func (s *ParticipantStore) Save(ctx context.Context, participant core.Participant) (core.Participant, error) {
	if s == nil || s.db == nil {
		return core.Participant{}, fmt.Errorf("sqlstore: participant store is not configured")
	}
	if strings.TrimSpace(participant.ProgramID) == "" || !participant.ExternalID.Valid() {
		return core.Participant{}, core.ValidationError("participant", "sqlstore: program id and external id are required")
	}
	participant.Email = strings.ToLower(strings.TrimSpace(participant.Email))
	now := time.Now().UTC()
	participant.UpdatedAt = now

	if id := strings.TrimSpace(participant.ID); id != "" {
		record := newParticipantRecord(participant)
		result, err := s.db.NewUpdate().
			Model(record).
			ExcludeColumn("id", "created_at").
			Where("?TableAlias.id = ?", id).
			Exec(ctx)
		if err != nil {
			return core.Participant{}, err
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			return s.Get(ctx, id)
		}
	}

	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = now
	}
	record := newParticipantRecord(participant)
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (program_id, external_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("points = EXCLUDED.points").
		Set("unused_points = EXCLUDED.unused_points").
		Set("tier = EXCLUDED.tier").
		Set("status = EXCLUDED.status").
		Set("profile = EXCLUDED.profile").
		Set("last_event_type = EXCLUDED.last_event_type").
		Set("last_event_at = EXCLUDED.last_event_at").
		Set("event_count = EXCLUDED.event_count").
		Set("event_history = EXCLUDED.event_history").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return core.Participant{}, err
	}
	saved, err := s.FindByExternalID(ctx, participant.ProgramID, participant.ExternalID)
	if err != nil {
		return core.Participant{}, err
	}
	if saved == nil {
		return core.Participant{}, core.InternalError(nil, "sqlstore: participant missing after upsert")
	}
	return *saved, nil
}
