package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/goliatone/go-walletsync/core"
)

// DefaultClaimLease is how long a claimed job stays invisible before another
// dispatcher may reclaim it.
const DefaultClaimLease = 5 * time.Minute

type NotificationJobStore struct {
	db    *bun.DB
	repo  repository.Repository[*notificationJobRecord]
	lease time.Duration
}

func NewNotificationJobStore(db *bun.DB) (*NotificationJobStore, error) {
	repo, err := newRepository(db, "notification job", notificationJobHandlers())
	if err != nil {
		return nil, err
	}
	return &NotificationJobStore{db: db, repo: repo, lease: DefaultClaimLease}, nil
}

func (s *NotificationJobStore) FindPending(ctx context.Context, participantID string, dueAfter time.Time) (*core.NotificationJob, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification job store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("participant_id", "=", strings.TrimSpace(participantID)),
		repository.SelectBy("status", "=", string(core.NotificationJobPending)),
		repository.SelectByTimetz("due_at", ">=", dueAfter.UTC()),
		repository.OrderBy("due_at ASC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	job := records[0].toDomain()
	return &job, nil
}

func (s *NotificationJobStore) LastSent(ctx context.Context, participantID string) (*time.Time, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification job store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("participant_id", "=", strings.TrimSpace(participantID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.sent_at IS NOT NULL")
		}),
		repository.OrderBy("sent_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return utcPointer(records[0].SentAt), nil
}

func (s *NotificationJobStore) Insert(ctx context.Context, job core.NotificationJob) (core.NotificationJob, error) {
	if s == nil || s.repo == nil {
		return core.NotificationJob{}, fmt.Errorf("sqlstore: notification job store is not configured")
	}
	if strings.TrimSpace(job.ParticipantID) == "" {
		return core.NotificationJob{}, core.ValidationError("participant_id", "sqlstore: notification participant is required")
	}
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.NotificationJobPending
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	created, err := s.repo.Create(ctx, newNotificationJobRecord(job))
	if err != nil {
		return core.NotificationJob{}, err
	}
	return created.toDomain(), nil
}

// MergeInto moves a pending job's after-balance forward and appends the
// source event. It fails with NotFound once the job has been claimed.
func (s *NotificationJobStore) MergeInto(ctx context.Context, jobID string, after int64, sourceEvent string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification job store is not configured")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &notificationJobRecord{}
		query := tx.NewSelect().
			Model(record).
			Where("?TableAlias.id = ?", strings.TrimSpace(jobID)).
			Where("?TableAlias.status = ?", string(core.NotificationJobPending)).
			Limit(1)
		if tx.Dialect().Name() == dialect.PG {
			query = query.For("UPDATE")
		}
		if err := query.Scan(ctx); err != nil {
			return core.NotFoundError("notification_job", fmt.Sprintf("sqlstore: pending job %q not found", jobID))
		}
		sources := append([]string(nil), record.SourceEvents...)
		if trimmed := strings.TrimSpace(sourceEvent); trimmed != "" {
			sources = append(sources, trimmed)
		}
		_, err := tx.NewUpdate().
			Model((*notificationJobRecord)(nil)).
			Set("after_points = ?", after).
			Set("source_events = ?", sources).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

// ClaimDue marks up to limit due jobs as processing and returns them. Jobs
// stuck in processing longer than the lease are claimed again.
func (s *NotificationJobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.NotificationJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: notification job store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	now = now.UTC()
	staleBefore := now.Add(-s.lease)
	var claimed []core.NotificationJob
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var records []*notificationJobRecord
		query := tx.NewSelect().
			Model(&records).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("?TableAlias.status = ?", string(core.NotificationJobPending)).
							Where("?TableAlias.due_at <= ?", now)
					}).
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.Where("?TableAlias.status = ?", string(core.NotificationJobProcessing)).
							Where("?TableAlias.updated_at <= ?", staleBefore)
					})
			}).
			OrderExpr("?TableAlias.due_at ASC").
			Limit(limit)
		if tx.Dialect().Name() == dialect.PG {
			query = query.For("UPDATE SKIP LOCKED")
		}
		if err := query.Scan(ctx); err != nil {
			return err
		}
		claimed = make([]core.NotificationJob, 0, len(records))
		for _, record := range records {
			record.Status = string(core.NotificationJobProcessing)
			record.Attempts++
			record.UpdatedAt = now
			if _, err := tx.NewUpdate().
				Model((*notificationJobRecord)(nil)).
				Set("status = ?", record.Status).
				Set("attempts = ?", record.Attempts).
				Set("updated_at = ?", now).
				Where("id = ?", record.ID).
				Exec(ctx); err != nil {
				return err
			}
			claimed = append(claimed, record.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *NotificationJobStore) Complete(ctx context.Context, jobID string, status core.NotificationJobStatus, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification job store is not configured")
	}
	at = at.UTC()
	query := s.db.NewUpdate().
		Model((*notificationJobRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", "").
		Set("updated_at = ?", at).
		Where("id = ?", strings.TrimSpace(jobID))
	if status == core.NotificationJobSent {
		query = query.Set("sent_at = ?", at)
	}
	return s.expectRow(ctx, query, jobID)
}

func (s *NotificationJobStore) Retry(ctx context.Context, jobID string, cause error, nextAttemptAt time.Time, terminal bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: notification job store is not configured")
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	query := s.db.NewUpdate().
		Model((*notificationJobRecord)(nil)).
		Set("last_error = ?", message).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(jobID))
	if terminal {
		query = query.Set("status = ?", string(core.NotificationJobFailed))
	} else {
		query = query.Set("status = ?", string(core.NotificationJobPending)).
			Set("due_at = ?", nextAttemptAt.UTC())
	}
	return s.expectRow(ctx, query, jobID)
}

func (s *NotificationJobStore) expectRow(ctx context.Context, query *bun.UpdateQuery, jobID string) error {
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.NotFoundError("notification_job", fmt.Sprintf("sqlstore: job %q not found", jobID))
	}
	return nil
}
