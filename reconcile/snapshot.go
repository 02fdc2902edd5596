package reconcile

import (
	"strings"

	"github.com/goliatone/go-walletsync/core"
)

const (
	SourceUpstream = "upstream"
	SourceWebhook  = "webhook"
)

// field marks a participant attribute a snapshot may not carry.
type field uint8

const (
	fieldFirstName field = 1 << iota
	fieldLastName
	fieldPoints
	fieldUnusedPoints
	fieldTier
	fieldStatus
)

// Snapshot is the normalized participant view consumed downstream. Upstream
// field names and optionality never leak past this type.
type Snapshot struct {
	ExternalID   core.ExternalParticipantID
	Email        string
	FirstName    string
	LastName     string
	Points       int64
	UnusedPoints int64
	Tier         string
	Status       string
	Profile      map[string]any
	Source       string

	// missing lists the fields a webhook fallback did not carry. Upstream
	// snapshots are authoritative and leave it empty.
	missing field
}

// Partial reports whether the snapshot lacks fields the stored row keeps.
func (s Snapshot) Partial() bool {
	return s.missing != 0
}

func (s Snapshot) carries(f field) bool {
	return s.missing&f == 0
}

func Normalize(record core.UpstreamParticipant, source string) (Snapshot, error) {
	id := core.ExternalParticipantID(record.ID)
	if !id.Valid() {
		return Snapshot{}, core.ValidationError("participant.id", "reconcile: participant id must be a positive integer")
	}
	snapshot := Snapshot{
		ExternalID: id,
		Email:      normalizeEmail(record.Email),
		FirstName:  strings.TrimSpace(record.FirstName),
		LastName:   strings.TrimSpace(record.LastName),
		Status:     strings.ToLower(strings.TrimSpace(record.Status)),
		Source:     source,
	}
	if record.Points != nil {
		snapshot.Points = *record.Points
	}
	if record.UnusedPoints != nil {
		snapshot.UnusedPoints = *record.UnusedPoints
	} else {
		snapshot.UnusedPoints = snapshot.Points
	}
	if record.Tier != nil {
		snapshot.Tier = strings.TrimSpace(record.Tier.Name)
	}
	if source == SourceWebhook {
		snapshot.missing = absentFields(record)
	}
	if len(record.Profile) > 0 {
		snapshot.Profile = make(map[string]any, len(record.Profile))
		for key, value := range record.Profile {
			snapshot.Profile[key] = value
		}
	}
	return snapshot, nil
}

func absentFields(record core.UpstreamParticipant) field {
	var missing field
	if strings.TrimSpace(record.FirstName) == "" {
		missing |= fieldFirstName
	}
	if strings.TrimSpace(record.LastName) == "" {
		missing |= fieldLastName
	}
	if record.Points == nil {
		missing |= fieldPoints
	}
	if record.UnusedPoints == nil {
		missing |= fieldUnusedPoints
	}
	if record.Tier == nil || strings.TrimSpace(record.Tier.Name) == "" {
		missing |= fieldTier
	}
	if strings.TrimSpace(record.Status) == "" {
		missing |= fieldStatus
	}
	return missing
}

// backfill copies the fields the snapshot lacks from the merged row so
// downstream consumers see the values that were kept.
func (s Snapshot) backfill(p core.Participant) Snapshot {
	if !s.carries(fieldFirstName) {
		s.FirstName = p.FirstName
	}
	if !s.carries(fieldLastName) {
		s.LastName = p.LastName
	}
	if !s.carries(fieldPoints) {
		s.Points = p.Points
	}
	if !s.carries(fieldUnusedPoints) {
		s.UnusedPoints = p.UnusedPoints
	}
	if !s.carries(fieldTier) {
		s.Tier = p.Tier
	}
	if !s.carries(fieldStatus) {
		s.Status = p.Status
	}
	return s
}

// Balance returns the balance shown to the participant under the given display preference.
func (s Snapshot) Balance(display core.PointsDisplay) int64 {
	if display == core.PointsDisplayLifetime {
		return s.Points
	}
	return s.UnusedPoints
}

func participantBalance(p core.Participant, display core.PointsDisplay) int64 {
	if display == core.PointsDisplayLifetime {
		return p.Points
	}
	return p.UnusedPoints
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
