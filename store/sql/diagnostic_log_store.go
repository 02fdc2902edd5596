package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-walletsync/core"
)

// DiagnosticLogStore appends doctor reports to diagnostic_runs.
type DiagnosticLogStore struct {
	repo repository.Repository[*diagnosticRunRecord]
}

func NewDiagnosticLogStore(db *bun.DB) (*DiagnosticLogStore, error) {
	repo, err := newRepository(db, "diagnostic run", diagnosticRunHandlers())
	if err != nil {
		return nil, err
	}
	return &DiagnosticLogStore{repo: repo}, nil
}

func (s *DiagnosticLogStore) Append(ctx context.Context, entry core.DiagnosticEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: diagnostic log store is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	report := entry.Report
	if report == nil {
		report = map[string]any{}
	}
	_, err := s.repo.Create(ctx, &diagnosticRunRecord{
		ID:        entry.ID,
		Status:    strings.TrimSpace(entry.Status),
		Failures:  entry.Failures,
		Warnings:  entry.Warnings,
		Report:    report,
		CreatedAt: createdAt,
	})
	return err
}

// Recent lists the latest reports, newest first.
func (s *DiagnosticLogStore) Recent(ctx context.Context, limit int) ([]core.DiagnosticEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: diagnostic log store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	records, _, err := s.repo.List(ctx,
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DiagnosticEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
