// Package memory holds process-local implementations of the walletsync
// stores. The doctor runs its synthetic install against them and tests use
// them as fixtures.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-walletsync/core"
)

// ClaimLease is how long a claimed notification job stays invisible before
// another dispatcher may reclaim it.
const ClaimLease = 5 * time.Minute

type Stores struct {
	Programs     *ProgramStore
	Participants *ParticipantStore
	Passes       *PassStore
	Events       *WebhookEventStore
	Jobs         *NotificationJobStore
	Diagnostics  *DiagnosticLogStore
}

func NewStores() *Stores {
	return &Stores{
		Programs:     NewProgramStore(),
		Participants: NewParticipantStore(),
		Passes:       NewPassStore(),
		Events:       NewWebhookEventStore(),
		Jobs:         NewNotificationJobStore(),
		Diagnostics:  &DiagnosticLogStore{},
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

type ProgramStore struct {
	mu   sync.Mutex
	rows map[string]core.Program
	Now  func() time.Time
}

func NewProgramStore() *ProgramStore {
	return &ProgramStore{rows: map[string]core.Program{}, Now: utcNow}
}

func (s *ProgramStore) Resolve(_ context.Context, ref string) (core.Program, error) {
	ref = strings.TrimSpace(ref)
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[ref]; ok {
		return row, nil
	}
	if external, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, row := range s.rows {
			if row.ExternalID == external {
				return row, nil
			}
		}
	}
	return core.Program{}, core.NotFoundError("program", fmt.Sprintf("memory: program %q not found", ref))
}

func (s *ProgramStore) Upsert(_ context.Context, in core.UpsertProgramInput) (core.Program, error) {
	if in.ExternalID <= 0 {
		return core.Program{}, core.ValidationError("external_id", "memory: program external id is required")
	}
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, row := range s.rows {
		if row.ExternalID != in.ExternalID {
			continue
		}
		row.Name = in.Name
		row.APICredential = in.APICredential
		row.Settings = in.Settings
		row.UpdatedAt = now
		s.rows[id] = row
		return row, nil
	}
	row := core.Program{
		ID:            uuid.NewString(),
		ExternalID:    in.ExternalID,
		Name:          in.Name,
		APICredential: in.APICredential,
		Settings:      in.Settings,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.rows[row.ID] = row
	return row, nil
}

type ParticipantStore struct {
	mu   sync.Mutex
	rows map[string]core.Participant
	Now  func() time.Time
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{rows: map[string]core.Participant{}, Now: utcNow}
}

func (s *ParticipantStore) FindByExternalID(_ context.Context, programID string, externalID core.ExternalParticipantID) (*core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ProgramID == programID && row.ExternalID == externalID {
			copied := cloneParticipant(row)
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *ParticipantStore) FindByEmail(_ context.Context, programID string, email string) (*core.Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ProgramID == programID && strings.ToLower(row.Email) == email {
			copied := cloneParticipant(row)
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *ParticipantStore) Get(_ context.Context, id string) (core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return core.Participant{}, core.NotFoundError("participant", fmt.Sprintf("memory: participant %q not found", id))
	}
	return cloneParticipant(row), nil
}

func (s *ParticipantStore) Save(_ context.Context, participant core.Participant) (core.Participant, error) {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if participant.ID == "" {
		for id, row := range s.rows {
			if row.ProgramID == participant.ProgramID && row.ExternalID == participant.ExternalID {
				participant.ID = id
				participant.CreatedAt = row.CreatedAt
				break
			}
		}
	}
	if participant.ID == "" {
		participant.ID = uuid.NewString()
		participant.CreatedAt = now
	}
	participant.UpdatedAt = now
	s.rows[participant.ID] = cloneParticipant(participant)
	return cloneParticipant(participant), nil
}

func cloneParticipant(p core.Participant) core.Participant {
	p.EventHistory = append([]core.EventHistoryEntry(nil), p.EventHistory...)
	if p.Profile != nil {
		profile := make(map[string]any, len(p.Profile))
		for key, value := range p.Profile {
			profile[key] = value
		}
		p.Profile = profile
	}
	if p.LastEventAt != nil {
		at := *p.LastEventAt
		p.LastEventAt = &at
	}
	return p
}

type PassStore struct {
	mu   sync.Mutex
	rows map[string]core.Pass
	Now  func() time.Time
}

func NewPassStore() *PassStore {
	return &PassStore{rows: map[string]core.Pass{}, Now: utcNow}
}

func (s *PassStore) Find(_ context.Context, participantID string, kind core.PassKind, scope core.PassScope) (*core.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.findLocked(participantID, kind, scope.Key()); ok {
		copied := clonePass(row)
		return &copied, nil
	}
	return nil, nil
}

func (s *PassStore) findLocked(participantID string, kind core.PassKind, scopeKey string) (core.Pass, bool) {
	for _, row := range s.rows {
		if row.ParticipantID == participantID && row.Kind == kind && row.Scope.Key() == scopeKey {
			return row, true
		}
	}
	return core.Pass{}, false
}

func (s *PassStore) FindBySerial(_ context.Context, serial string) (*core.Pass, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.AppleSerial == serial {
			copied := clonePass(row)
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *PassStore) ListByParticipant(_ context.Context, participantID string) ([]core.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Pass, 0)
	for _, row := range s.rows {
		if row.ParticipantID == participantID {
			out = append(out, clonePass(row))
		}
	}
	sortPasses(out)
	return out, nil
}

func (s *PassStore) Create(_ context.Context, pass core.Pass) (core.Pass, error) {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.findLocked(pass.ParticipantID, pass.Kind, pass.Scope.Key()); exists {
		return core.Pass{}, core.ErrPassConflict
	}
	if pass.ID == "" {
		pass.ID = uuid.NewString()
	}
	pass.CreatedAt = now
	pass.UpdatedAt = now
	s.rows[pass.ID] = clonePass(pass)
	return clonePass(pass), nil
}

func (s *PassStore) UpdateIssued(_ context.Context, in core.UpdateIssuedInput) (core.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[in.PassID]
	if !ok {
		return core.Pass{}, core.NotFoundError("pass", fmt.Sprintf("memory: pass %q not found", in.PassID))
	}
	if row.Version != in.ExpectedVersion {
		return core.Pass{}, core.ErrPassConflict
	}
	row.Version++
	if in.AppleSerial != "" {
		row.AppleSerial = in.AppleSerial
	}
	if in.GoogleObjectID != "" {
		row.GoogleObjectID = in.GoogleObjectID
	}
	row.ContentHash = in.ContentHash
	synced := in.SyncedAt
	if synced.IsZero() {
		synced = s.Now()
	}
	row.LastSyncedAt = &synced
	row.LastError = ""
	row.UpdatedAt = synced
	s.rows[row.ID] = row
	return clonePass(row), nil
}

func (s *PassStore) RecordError(_ context.Context, passID string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[passID]
	if !ok {
		return core.NotFoundError("pass", fmt.Sprintf("memory: pass %q not found", passID))
	}
	row.LastError = message
	row.UpdatedAt = s.Now()
	s.rows[passID] = row
	return nil
}

func (s *PassStore) UpdateDeviceTokens(_ context.Context, passID string, mutate func([]core.DeviceToken) ([]core.DeviceToken, bool)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[passID]
	if !ok {
		return false, core.NotFoundError("pass", fmt.Sprintf("memory: pass %q not found", passID))
	}
	next, changed := mutate(append([]core.DeviceToken(nil), row.DeviceTokens...))
	if !changed {
		return false, nil
	}
	row.DeviceTokens = append([]core.DeviceToken(nil), next...)
	s.rows[passID] = row
	return true, nil
}

// ListByDevice returns passes the device registered for whose content was
// synced after updatedSince.
func (s *PassStore) ListByDevice(_ context.Context, deviceID string, updatedSince *time.Time) ([]core.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Pass, 0)
	for _, row := range s.rows {
		if !hasDevice(row.DeviceTokens, deviceID) {
			continue
		}
		if updatedSince != nil && (row.LastSyncedAt == nil || !row.LastSyncedAt.After(*updatedSince)) {
			continue
		}
		out = append(out, clonePass(row))
	}
	sortPasses(out)
	return out, nil
}

func hasDevice(tokens []core.DeviceToken, deviceID string) bool {
	for _, token := range tokens {
		if token.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func clonePass(p core.Pass) core.Pass {
	p.DeviceTokens = append([]core.DeviceToken(nil), p.DeviceTokens...)
	if p.LastSyncedAt != nil {
		at := *p.LastSyncedAt
		p.LastSyncedAt = &at
	}
	return p
}

func sortPasses(rows []core.Pass) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].Scope.Key() < rows[j].Scope.Key()
	})
}

type WebhookEventStore struct {
	mu   sync.Mutex
	rows map[string]core.WebhookEvent
}

func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{rows: map[string]core.WebhookEvent{}}
}

func (s *WebhookEventStore) Insert(_ context.Context, event core.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.rows[event.Fingerprint]
	if exists && !existing.Released() {
		return false, nil
	}
	switch {
	case exists:
		event.ID = existing.ID
	case event.ID == "":
		event.ID = uuid.NewString()
	}
	event.Payload = append([]byte(nil), event.Payload...)
	event.ReleasedAt = nil
	s.rows[event.Fingerprint] = event
	return true, nil
}

func (s *WebhookEventStore) Get(_ context.Context, fingerprint string) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[fingerprint]
	if !ok {
		return core.WebhookEvent{}, core.ErrWebhookEventMissing
	}
	row.Payload = append([]byte(nil), row.Payload...)
	return row, nil
}

func (s *WebhookEventStore) Release(_ context.Context, fingerprint string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[fingerprint]
	if !ok {
		return nil
	}
	releasedAt := at.UTC()
	row.ReleasedAt = &releasedAt
	s.rows[fingerprint] = row
	return nil
}

func (s *WebhookEventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type NotificationJobStore struct {
	mu   sync.Mutex
	rows map[string]core.NotificationJob
	Now  func() time.Time
}

func NewNotificationJobStore() *NotificationJobStore {
	return &NotificationJobStore{rows: map[string]core.NotificationJob{}, Now: utcNow}
}

func (s *NotificationJobStore) FindPending(_ context.Context, participantID string, dueAfter time.Time) (*core.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *core.NotificationJob
	for _, row := range s.rows {
		if row.ParticipantID != participantID || row.Status != core.NotificationJobPending || row.DueAt.Before(dueAfter) {
			continue
		}
		if found == nil || row.DueAt.Before(found.DueAt) {
			copied := cloneJob(row)
			found = &copied
		}
	}
	return found, nil
}

func (s *NotificationJobStore) LastSent(_ context.Context, participantID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, row := range s.rows {
		if row.ParticipantID != participantID || row.SentAt == nil {
			continue
		}
		if latest == nil || row.SentAt.After(*latest) {
			at := *row.SentAt
			latest = &at
		}
	}
	return latest, nil
}

func (s *NotificationJobStore) Insert(_ context.Context, job core.NotificationJob) (core.NotificationJob, error) {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.NotificationJobPending
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	s.rows[job.ID] = cloneJob(job)
	return cloneJob(job), nil
}

func (s *NotificationJobStore) MergeInto(_ context.Context, jobID string, after int64, sourceEvent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jobID]
	if !ok || row.Status != core.NotificationJobPending {
		return core.NotFoundError("notification_job", fmt.Sprintf("memory: pending job %q not found", jobID))
	}
	row.After = after
	if sourceEvent != "" {
		row.SourceEvents = append(row.SourceEvents, sourceEvent)
	}
	row.UpdatedAt = s.Now()
	s.rows[jobID] = row
	return nil
}

func (s *NotificationJobStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]core.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]core.NotificationJob, 0)
	for _, row := range s.rows {
		switch row.Status {
		case core.NotificationJobPending:
			if row.DueAt.After(now) {
				continue
			}
		case core.NotificationJobProcessing:
			if row.UpdatedAt.Add(ClaimLease).After(now) {
				continue
			}
		default:
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = core.NotificationJobProcessing
		due[i].Attempts++
		due[i].UpdatedAt = now
		s.rows[due[i].ID] = due[i]
		due[i] = cloneJob(due[i])
	}
	return due, nil
}

func (s *NotificationJobStore) Complete(_ context.Context, jobID string, status core.NotificationJobStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jobID]
	if !ok {
		return core.NotFoundError("notification_job", fmt.Sprintf("memory: job %q not found", jobID))
	}
	row.Status = status
	row.LastError = ""
	row.UpdatedAt = at
	if status == core.NotificationJobSent {
		sent := at
		row.SentAt = &sent
	}
	s.rows[jobID] = row
	return nil
}

func (s *NotificationJobStore) Retry(_ context.Context, jobID string, cause error, nextAttemptAt time.Time, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jobID]
	if !ok {
		return core.NotFoundError("notification_job", fmt.Sprintf("memory: job %q not found", jobID))
	}
	if cause != nil {
		row.LastError = cause.Error()
	}
	row.UpdatedAt = s.Now()
	if terminal {
		row.Status = core.NotificationJobFailed
	} else {
		row.Status = core.NotificationJobPending
		row.DueAt = nextAttemptAt
	}
	s.rows[jobID] = row
	return nil
}

// Jobs returns every job ordered by due time.
func (s *NotificationJobStore) Jobs() []core.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.NotificationJob, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, cloneJob(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

func cloneJob(job core.NotificationJob) core.NotificationJob {
	job.SourceEvents = append([]string(nil), job.SourceEvents...)
	if job.SentAt != nil {
		at := *job.SentAt
		job.SentAt = &at
	}
	return job
}

type DiagnosticLogStore struct {
	mu      sync.Mutex
	entries []core.DiagnosticEntry
}

func (s *DiagnosticLogStore) Append(_ context.Context, entry core.DiagnosticEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *DiagnosticLogStore) Entries() []core.DiagnosticEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.DiagnosticEntry(nil), s.entries...)
}

// Recent lists the latest entries, newest first.
func (s *DiagnosticLogStore) Recent(_ context.Context, limit int) ([]core.DiagnosticEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]core.DiagnosticEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Capabilities reports every optional storage feature as present; the
// in-memory stores always carry the full schema.
func (s *Stores) Capabilities(context.Context) (map[string]bool, error) {
	return map[string]bool{
		"participants.profile":    true,
		"passes.google_object_id": true,
		"passes.device_tokens":    true,
		"notification_jobs":       true,
		"diagnostic_runs":         true,
		"webhook_events.payload":  true,
	}, nil
}
