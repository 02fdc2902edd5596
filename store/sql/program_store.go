package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-walletsync/core"
)

// ProgramStore keeps program rows with the upstream API credential sealed
// by the configured SecretProvider.
type ProgramStore struct {
	db      *bun.DB
	repo    repository.Repository[*programRecord]
	secrets core.SecretProvider
}

func NewProgramStore(db *bun.DB, secrets core.SecretProvider) (*ProgramStore, error) {
	repo, err := newRepository(db, "program", programHandlers())
	if err != nil {
		return nil, err
	}
	return &ProgramStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *ProgramStore) Resolve(ctx context.Context, ref string) (core.Program, error) {
	if s == nil || s.repo == nil {
		return core.Program{}, fmt.Errorf("sqlstore: program store is not configured")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return core.Program{}, core.ValidationError("program", "sqlstore: program reference is required")
	}
	criteria := []repository.SelectCriteria{repository.SelectPaginate(1, 0)}
	if external, err := strconv.ParseInt(ref, 10, 64); err == nil {
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("?TableAlias.id = ?", ref).WhereOr("?TableAlias.external_id = ?", external)
			})
		}))
	} else {
		criteria = append(criteria, repository.SelectBy("id", "=", ref))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return core.Program{}, err
	}
	if len(records) == 0 {
		return core.Program{}, core.NotFoundError("program", fmt.Sprintf("sqlstore: program %q not found", ref))
	}
	return s.toDomain(ctx, records[0])
}

// Upsert creates the program or updates name, credential and settings when
// a row with the same external id exists.
func (s *ProgramStore) Upsert(ctx context.Context, in core.UpsertProgramInput) (core.Program, error) {
	if s == nil || s.db == nil {
		return core.Program{}, fmt.Errorf("sqlstore: program store is not configured")
	}
	if in.ExternalID <= 0 {
		return core.Program{}, core.ValidationError("external_id", "sqlstore: program external id is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return core.Program{}, core.ValidationError("name", "sqlstore: program name is required")
	}
	sealed, err := s.seal(ctx, in.APICredential)
	if err != nil {
		return core.Program{}, err
	}
	now := time.Now().UTC()
	record := &programRecord{
		ID:            uuid.NewString(),
		ExternalID:    in.ExternalID,
		Name:          name,
		APICredential: sealed,
		Settings:      in.Settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (external_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("api_credential = EXCLUDED.api_credential").
		Set("settings = EXCLUDED.settings").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return core.Program{}, err
	}
	return s.Resolve(ctx, strconv.FormatInt(in.ExternalID, 10))
}

func (s *ProgramStore) seal(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", nil
	}
	if s.secrets == nil {
		return "", core.ConfigurationError("WALLETSYNC_SECURITY_CREDENTIAL_KEY", "sqlstore: credential encryption key is required to store program credentials")
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(credential))
	if err != nil {
		return "", core.InternalError(err, "sqlstore: encrypt program credential")
	}
	return string(sealed), nil
}

func (s *ProgramStore) toDomain(ctx context.Context, record *programRecord) (core.Program, error) {
	if record.APICredential == "" {
		return record.toDomain(""), nil
	}
	if s.secrets == nil {
		return core.Program{}, core.ConfigurationError("WALLETSYNC_SECURITY_CREDENTIAL_KEY", "sqlstore: credential encryption key is required to read program credentials")
	}
	plaintext, err := s.secrets.Decrypt(ctx, []byte(record.APICredential))
	if err != nil {
		return core.Program{}, core.InternalError(err, "sqlstore: decrypt program credential")
	}
	return record.toDomain(string(plaintext)), nil
}
