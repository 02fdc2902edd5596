package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrPassConflict        = errors.New("core: pass changed concurrently")
	ErrWebhookEventMissing = errors.New("core: webhook event not found")
)

type PassKind string

const (
	PassKindLoyalty   PassKind = "loyalty"
	PassKindRewards   PassKind = "rewards"
	PassKindChallenge PassKind = "challenge"
)

// PassKindDefault expands to the program's configured install group.
const PassKindDefault = "default"

var knownPassKinds = []PassKind{PassKindLoyalty, PassKindRewards, PassKindChallenge}

func KnownPassKinds() []PassKind {
	return append([]PassKind(nil), knownPassKinds...)
}

func ParsePassKind(raw string) (PassKind, bool) {
	normalized := PassKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, kind := range knownPassKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// RequiresResource reports whether passes of the kind are scoped to an upstream resource.
func (k PassKind) RequiresResource() bool {
	return k == PassKindChallenge
}

type WalletProvider string

const (
	WalletProviderApple  WalletProvider = "apple"
	WalletProviderGoogle WalletProvider = "google"
)

type PointsDisplay string

const (
	PointsDisplayUnused   PointsDisplay = "unused"
	PointsDisplayLifetime PointsDisplay = "lifetime"
)

// ExternalParticipantID is the canonical upstream participant identifier.
// Every boundary (webhook body, install path, upstream API) converts into it.
type ExternalParticipantID int64

func ParseExternalParticipantID(raw string) (ExternalParticipantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("core: participant id is required")
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("core: participant id %q is not a positive integer", raw)
	}
	return ExternalParticipantID(value), nil
}

func (id ExternalParticipantID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ExternalParticipantID) Valid() bool {
	return id > 0
}

type ProgramSettings struct {
	InstallGroup  []PassKind    `json:"install_group,omitempty"`
	PointsDisplay PointsDisplay `json:"points_display,omitempty"`
	BrandColor    string        `json:"brand_color,omitempty"`
}

// EffectiveInstallGroup returns the kinds issued for a "default" install visit.
func (s ProgramSettings) EffectiveInstallGroup() []PassKind {
	out := make([]PassKind, 0, len(s.InstallGroup))
	seen := map[PassKind]struct{}{}
	for _, raw := range s.InstallGroup {
		kind, ok := ParsePassKind(string(raw))
		if !ok || kind.RequiresResource() {
			continue
		}
		if _, exists := seen[kind]; exists {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	if len(out) == 0 {
		return []PassKind{PassKindLoyalty}
	}
	return out
}

func (s ProgramSettings) EffectivePointsDisplay() PointsDisplay {
	if s.PointsDisplay == PointsDisplayLifetime {
		return PointsDisplayLifetime
	}
	return PointsDisplayUnused
}

type Program struct {
	ID            string
	ExternalID    int64
	Name          string
	APICredential string
	Settings      ProgramSettings
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const MaxEventHistory = 10

type EventHistoryEntry struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Participant struct {
	ID            string
	ProgramID     string
	ExternalID    ExternalParticipantID
	Email         string
	FirstName     string
	LastName      string
	Points        int64
	UnusedPoints  int64
	Tier          string
	Status        string
	Profile       map[string]any
	LastEventType string
	LastEventAt   *time.Time
	EventCount    int
	EventHistory  []EventHistoryEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p Participant) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name != "" {
		return name
	}
	return strings.TrimSpace(p.Email)
}

// PassScope narrows a pass to an upstream resource (for example one challenge).
type PassScope struct {
	ResourceType string
	ResourceID   string
}

func (s PassScope) IsZero() bool {
	return strings.TrimSpace(s.ResourceType) == "" && strings.TrimSpace(s.ResourceID) == ""
}

// Key is the storage form of the scope; empty for unscoped passes.
func (s PassScope) Key() string {
	if s.IsZero() {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s.ResourceType)) + ":" + strings.TrimSpace(s.ResourceID)
}

func ParsePassScopeKey(key string) PassScope {
	resourceType, resourceID, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok {
		return PassScope{}
	}
	return PassScope{ResourceType: resourceType, ResourceID: resourceID}
}

type DeviceToken struct {
	DeviceID     string    `json:"device_id"`
	PushToken    string    `json:"push_token"`
	RegisteredAt time.Time `json:"registered_at"`
}

type Pass struct {
	ID             string
	ProgramID      string
	ParticipantID  string
	Kind           PassKind
	Scope          PassScope
	AppleSerial    string
	GoogleObjectID string
	ContentHash    string
	Version        int
	DeviceTokens   []DeviceToken
	LastSyncedAt   *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WebhookEvent struct {
	ID                    string
	Fingerprint           string
	EventType             string
	ProgramID             string
	ExternalParticipantID ExternalParticipantID
	Payload               []byte
	ReceivedAt            time.Time
	ReleasedAt            *time.Time
}

// Released reports whether processing failed and the fingerprint is open
// for a redelivery.
func (e WebhookEvent) Released() bool {
	return e.ReleasedAt != nil
}

// NotificationEvent is a point balance delta handed to the notification scheduler.
type NotificationEvent struct {
	ProgramID             string
	ParticipantID         string
	ExternalParticipantID ExternalParticipantID
	Before                int64
	After                 int64
	SourceEvent           string
	OccurredAt            time.Time
}

func (e NotificationEvent) Delta() int64 {
	return e.After - e.Before
}

type NotificationJobStatus string

const (
	NotificationJobPending    NotificationJobStatus = "pending"
	NotificationJobProcessing NotificationJobStatus = "processing"
	NotificationJobSent       NotificationJobStatus = "sent"
	NotificationJobSkipped    NotificationJobStatus = "skipped"
	NotificationJobFailed     NotificationJobStatus = "failed"
)

type NotificationJob struct {
	ID                    string
	ProgramID             string
	ParticipantID         string
	ExternalParticipantID ExternalParticipantID
	Before                int64
	After                 int64
	SourceEvents          []string
	Status                NotificationJobStatus
	DueAt                 time.Time
	Attempts              int
	LastError             string
	SentAt                *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (j NotificationJob) Event() NotificationEvent {
	source := ""
	if len(j.SourceEvents) > 0 {
		source = j.SourceEvents[len(j.SourceEvents)-1]
	}
	return NotificationEvent{
		ProgramID:             j.ProgramID,
		ParticipantID:         j.ParticipantID,
		ExternalParticipantID: j.ExternalParticipantID,
		Before:                j.Before,
		After:                 j.After,
		SourceEvent:           source,
		OccurredAt:            j.UpdatedAt,
	}
}

type DiagnosticEntry struct {
	ID        string
	Status    string
	Failures  int
	Warnings  int
	Report    map[string]any
	CreatedAt time.Time
}
