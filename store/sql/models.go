package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-walletsync/core"
)

type programRecord struct {
	bun.BaseModel `bun:"table:programs,alias:pg"`

	ID            string               `bun:"id,pk"`
	ExternalID    int64                `bun:"external_id,notnull"`
	Name          string               `bun:"name,notnull"`
	APICredential string               `bun:"api_credential,notnull"`
	Settings      core.ProgramSettings `bun:"settings,type:jsonb,notnull"`
	CreatedAt     time.Time            `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time            `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *programRecord) toDomain(credential string) core.Program {
	return core.Program{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Name:          r.Name,
		APICredential: credential,
		Settings:      r.Settings,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type participantRecord struct {
	bun.BaseModel `bun:"table:participants,alias:pa"`

	ID            string                   `bun:"id,pk"`
	ProgramID     string                   `bun:"program_id,notnull"`
	ExternalID    int64                    `bun:"external_id,notnull"`
	Email         string                   `bun:"email,notnull"`
	FirstName     string                   `bun:"first_name,notnull"`
	LastName      string                   `bun:"last_name,notnull"`
	Points        int64                    `bun:"points,notnull"`
	UnusedPoints  int64                    `bun:"unused_points,notnull"`
	Tier          string                   `bun:"tier,notnull"`
	Status        string                   `bun:"status,notnull"`
	Profile       map[string]any           `bun:"profile,type:jsonb,notnull"`
	LastEventType string                   `bun:"last_event_type,notnull"`
	LastEventAt   *time.Time               `bun:"last_event_at,nullzero"`
	EventCount    int                      `bun:"event_count,notnull"`
	EventHistory  []core.EventHistoryEntry `bun:"event_history,type:jsonb,notnull"`
	CreatedAt     time.Time                `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time                `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newParticipantRecord(p core.Participant) *participantRecord {
	profile := p.Profile
	if profile == nil {
		profile = map[string]any{}
	}
	history := p.EventHistory
	if history == nil {
		history = []core.EventHistoryEntry{}
	}
	return &participantRecord{
		ID:            p.ID,
		ProgramID:     p.ProgramID,
		ExternalID:    int64(p.ExternalID),
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Points:        p.Points,
		UnusedPoints:  p.UnusedPoints,
		Tier:          p.Tier,
		Status:        p.Status,
		Profile:       profile,
		LastEventType: p.LastEventType,
		LastEventAt:   utcPointer(p.LastEventAt),
		EventCount:    p.EventCount,
		EventHistory:  history,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (r *participantRecord) toDomain() core.Participant {
	return core.Participant{
		ID:            r.ID,
		ProgramID:     r.ProgramID,
		ExternalID:    core.ExternalParticipantID(r.ExternalID),
		Email:         r.Email,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Points:        r.Points,
		UnusedPoints:  r.UnusedPoints,
		Tier:          r.Tier,
		Status:        r.Status,
		Profile:       r.Profile,
		LastEventType: r.LastEventType,
		LastEventAt:   utcPointer(r.LastEventAt),
		EventCount:    r.EventCount,
		EventHistory:  r.EventHistory,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type passRecord struct {
	bun.BaseModel `bun:"table:passes,alias:ps"`

	ID             string             `bun:"id,pk"`
	ProgramID      string             `bun:"program_id,notnull"`
	ParticipantID  string             `bun:"participant_id,notnull"`
	Kind           string             `bun:"kind,notnull"`
	ScopeKey       string             `bun:"scope_key,notnull"`
	AppleSerial    string             `bun:"apple_serial,notnull"`
	GoogleObjectID string             `bun:"google_object_id,notnull"`
	ContentHash    string             `bun:"content_hash,notnull"`
	Version        int                `bun:"version,notnull"`
	DeviceTokens   []core.DeviceToken `bun:"device_tokens,type:jsonb,notnull"`
	LastSyncedAt   *time.Time         `bun:"last_synced_at,nullzero"`
	LastError      string             `bun:"last_error,notnull"`
	CreatedAt      time.Time          `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time          `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newPassRecord(p core.Pass) *passRecord {
	tokens := p.DeviceTokens
	if tokens == nil {
		tokens = []core.DeviceToken{}
	}
	return &passRecord{
		ID:             p.ID,
		ProgramID:      p.ProgramID,
		ParticipantID:  p.ParticipantID,
		Kind:           string(p.Kind),
		ScopeKey:       p.Scope.Key(),
		AppleSerial:    p.AppleSerial,
		GoogleObjectID: p.GoogleObjectID,
		ContentHash:    p.ContentHash,
		Version:        p.Version,
		DeviceTokens:   tokens,
		LastSyncedAt:   utcPointer(p.LastSyncedAt),
		LastError:      p.LastError,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (r *passRecord) toDomain() core.Pass {
	return core.Pass{
		ID:             r.ID,
		ProgramID:      r.ProgramID,
		ParticipantID:  r.ParticipantID,
		Kind:           core.PassKind(r.Kind),
		Scope:          core.ParsePassScopeKey(r.ScopeKey),
		AppleSerial:    r.AppleSerial,
		GoogleObjectID: r.GoogleObjectID,
		ContentHash:    r.ContentHash,
		Version:        r.Version,
		DeviceTokens:   append([]core.DeviceToken(nil), r.DeviceTokens...),
		LastSyncedAt:   utcPointer(r.LastSyncedAt),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:we"`

	ID                    string     `bun:"id,pk"`
	Fingerprint           string     `bun:"fingerprint,notnull"`
	EventType             string     `bun:"event_type,notnull"`
	ProgramID             string     `bun:"program_id,notnull"`
	ExternalParticipantID int64      `bun:"external_participant_id,notnull"`
	Payload               []byte     `bun:"payload,notnull"`
	ReceivedAt            time.Time  `bun:"received_at,nullzero,notnull,default:current_timestamp"`
	ReleasedAt            *time.Time `bun:"released_at,nullzero"`
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	var releasedAt *time.Time
	if r.ReleasedAt != nil {
		at := r.ReleasedAt.UTC()
		releasedAt = &at
	}
	return core.WebhookEvent{
		ID:                    r.ID,
		Fingerprint:           r.Fingerprint,
		EventType:             r.EventType,
		ProgramID:             r.ProgramID,
		ExternalParticipantID: core.ExternalParticipantID(r.ExternalParticipantID),
		Payload:               append([]byte(nil), r.Payload...),
		ReceivedAt:            r.ReceivedAt.UTC(),
		ReleasedAt:            releasedAt,
	}
}

type notificationJobRecord struct {
	bun.BaseModel `bun:"table:notification_jobs,alias:nj"`

	ID                    string     `bun:"id,pk"`
	ProgramID             string     `bun:"program_id,notnull"`
	ParticipantID         string     `bun:"participant_id,notnull"`
	ExternalParticipantID int64      `bun:"external_participant_id,notnull"`
	BeforePoints          int64      `bun:"before_points,notnull"`
	AfterPoints           int64      `bun:"after_points,notnull"`
	SourceEvents          []string   `bun:"source_events,type:jsonb,notnull"`
	Status                string     `bun:"status,notnull"`
	DueAt                 time.Time  `bun:"due_at,notnull"`
	Attempts              int        `bun:"attempts,notnull"`
	LastError             string     `bun:"last_error,notnull"`
	SentAt                *time.Time `bun:"sent_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newNotificationJobRecord(job core.NotificationJob) *notificationJobRecord {
	sources := job.SourceEvents
	if sources == nil {
		sources = []string{}
	}
	return &notificationJobRecord{
		ID:                    job.ID,
		ProgramID:             job.ProgramID,
		ParticipantID:         job.ParticipantID,
		ExternalParticipantID: int64(job.ExternalParticipantID),
		BeforePoints:          job.Before,
		AfterPoints:           job.After,
		SourceEvents:          sources,
		Status:                string(job.Status),
		DueAt:                 job.DueAt.UTC(),
		Attempts:              job.Attempts,
		LastError:             job.LastError,
		SentAt:                utcPointer(job.SentAt),
		CreatedAt:             job.CreatedAt,
		UpdatedAt:             job.UpdatedAt,
	}
}

func (r *notificationJobRecord) toDomain() core.NotificationJob {
	return core.NotificationJob{
		ID:                    r.ID,
		ProgramID:             r.ProgramID,
		ParticipantID:         r.ParticipantID,
		ExternalParticipantID: core.ExternalParticipantID(r.ExternalParticipantID),
		Before:                r.BeforePoints,
		After:                 r.AfterPoints,
		SourceEvents:          append([]string(nil), r.SourceEvents...),
		Status:                core.NotificationJobStatus(r.Status),
		DueAt:                 r.DueAt.UTC(),
		Attempts:              r.Attempts,
		LastError:             r.LastError,
		SentAt:                utcPointer(r.SentAt),
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
}

type diagnosticRunRecord struct {
	bun.BaseModel `bun:"table:diagnostic_runs,alias:dr"`

	ID        string         `bun:"id,pk"`
	Status    string         `bun:"status,notnull"`
	Failures  int            `bun:"failures,notnull"`
	Warnings  int            `bun:"warnings,notnull"`
	Report    map[string]any `bun:"report,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *diagnosticRunRecord) toDomain() core.DiagnosticEntry {
	return core.DiagnosticEntry{
		ID:        r.ID,
		Status:    r.Status,
		Failures:  r.Failures,
		Warnings:  r.Warnings,
		Report:    r.Report,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	at := value.UTC()
	return &at
}
