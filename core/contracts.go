package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type ProgramStore interface {
	// Resolve accepts either the internal program key or the external numeric id.
	Resolve(ctx context.Context, ref string) (Program, error)
	Upsert(ctx context.Context, in UpsertProgramInput) (Program, error)
}

type UpsertProgramInput struct {
	ExternalID    int64
	Name          string
	APICredential string
	Settings      ProgramSettings
}

type ParticipantStore interface {
	FindByExternalID(ctx context.Context, programID string, externalID ExternalParticipantID) (*Participant, error)
	FindByEmail(ctx context.Context, programID string, email string) (*Participant, error)
	Get(ctx context.Context, id string) (Participant, error)
	// Save updates by ID when set, otherwise upserts on (program, external id).
	Save(ctx context.Context, participant Participant) (Participant, error)
}

type PassStore interface {
	Find(ctx context.Context, participantID string, kind PassKind, scope PassScope) (*Pass, error)
	FindBySerial(ctx context.Context, serial string) (*Pass, error)
	ListByParticipant(ctx context.Context, participantID string) ([]Pass, error)
	// Create fails with ErrPassConflict when a row for the key already exists.
	Create(ctx context.Context, pass Pass) (Pass, error)
	// UpdateIssued applies a regeneration only when the stored version still
	// equals expectedVersion; it returns ErrPassConflict otherwise.
	UpdateIssued(ctx context.Context, in UpdateIssuedInput) (Pass, error)
	RecordError(ctx context.Context, passID string, message string) error
	UpdateDeviceTokens(ctx context.Context, passID string, mutate func([]DeviceToken) ([]DeviceToken, bool)) (bool, error)
	ListByDevice(ctx context.Context, deviceID string, updatedSince *time.Time) ([]Pass, error)
}

type UpdateIssuedInput struct {
	PassID          string
	ExpectedVersion int
	AppleSerial     string
	GoogleObjectID  string
	ContentHash     string
	SyncedAt        time.Time
}

type WebhookEventStore interface {
	// Insert returns inserted=false when the fingerprint is already recorded.
	// A released row is reclaimed in place and reported as inserted.
	Insert(ctx context.Context, event WebhookEvent) (inserted bool, err error)
	Get(ctx context.Context, fingerprint string) (WebhookEvent, error)
	// Release marks a recorded fingerprint as failed so a redelivery can
	// reclaim it. The row and its payload stay available for replay.
	Release(ctx context.Context, fingerprint string, at time.Time) error
}

type NotificationJobStore interface {
	FindPending(ctx context.Context, participantID string, dueAfter time.Time) (*NotificationJob, error)
	LastSent(ctx context.Context, participantID string) (*time.Time, error)
	Insert(ctx context.Context, job NotificationJob) (NotificationJob, error)
	MergeInto(ctx context.Context, jobID string, after int64, sourceEvent string) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]NotificationJob, error)
	Complete(ctx context.Context, jobID string, status NotificationJobStatus, at time.Time) error
	Retry(ctx context.Context, jobID string, cause error, nextAttemptAt time.Time, terminal bool) error
}

type DiagnosticLogStore interface {
	Append(ctx context.Context, entry DiagnosticEntry) error
}

type DiagnosticLogReader interface {
	// Recent lists the latest entries, newest first.
	Recent(ctx context.Context, limit int) ([]DiagnosticEntry, error)
}

// UpstreamParticipant is the authoritative record returned by the loyalty platform.
type UpstreamParticipant struct {
	ID           int64          `json:"id"`
	Email        string         `json:"email"`
	FirstName    string         `json:"fname"`
	LastName     string         `json:"lname"`
	Points       *int64         `json:"points"`
	UnusedPoints *int64         `json:"unused_points"`
	Tier         *UpstreamTier  `json:"tier"`
	Status       string         `json:"status"`
	Profile      map[string]any `json:"profile_attributes"`
}

type UpstreamTier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type UpstreamClient interface {
	FetchParticipant(ctx context.Context, program Program, externalID ExternalParticipantID) (UpstreamParticipant, error)
}

// NotificationScheduler accepts point deltas and owns the merge/throttle policy.
type NotificationScheduler interface {
	Schedule(ctx context.Context, event NotificationEvent) error
}

// Notifier emits the user-facing notification for a merged delta.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}

// Pusher asks a wallet provider to refresh a pass on the given devices.
type Pusher interface {
	Push(ctx context.Context, pass Pass, tokens []DeviceToken) error
}

type NopPusher struct{}

func (NopPusher) Push(context.Context, Pass, []DeviceToken) error { return nil }

type NopNotificationScheduler struct{}

func (NopNotificationScheduler) Schedule(context.Context, NotificationEvent) error { return nil }

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
