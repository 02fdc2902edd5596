package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

type EventType string

const (
	EventParticipantCreated       EventType = "participant_created"
	EventParticipantPointsUpdated EventType = "participant_points_updated"
	EventChallengeCompleted       EventType = "challenge_completed"
	EventRewardEarned             EventType = "reward_earned"
)

// Event is one validated webhook delivery. The set of implementations is closed.
type Event interface {
	Type() EventType
	Participant() ParticipantPayload
	OccurredAt() time.Time
	// Extra holds fields the variant does not model.
	Extra() map[string]any
	isEvent()
}

type ParticipantPayload struct {
	ID           core.ExternalParticipantID
	Email        string
	FirstName    string
	LastName     string
	Points       *int64
	UnusedPoints *int64
	Tier         *core.UpstreamTier
	Status       string
	Profile      map[string]any
}

// Upstream converts the embedded participant into the upstream record shape
// so it can stand in when the authoritative fetch fails.
func (p ParticipantPayload) Upstream() core.UpstreamParticipant {
	return core.UpstreamParticipant{
		ID:           int64(p.ID),
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Points:       p.Points,
		UnusedPoints: p.UnusedPoints,
		Tier:         p.Tier,
		Status:       p.Status,
		Profile:      p.Profile,
	}
}

type base struct {
	participant ParticipantPayload
	occurredAt  time.Time
	extra       map[string]any
}

func (b base) Participant() ParticipantPayload { return b.participant }
func (b base) OccurredAt() time.Time           { return b.occurredAt }
func (b base) Extra() map[string]any           { return b.extra }
func (base) isEvent()                          {}

type ParticipantCreated struct {
	base
}

func (ParticipantCreated) Type() EventType { return EventParticipantCreated }

type PointsTransaction struct {
	ID     int64  `json:"id"`
	Points int64  `json:"points"`
	Title  string `json:"title"`
}

type ParticipantPointsUpdated struct {
	base
	Transaction *PointsTransaction
}

func (ParticipantPointsUpdated) Type() EventType { return EventParticipantPointsUpdated }

type ResourceRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ChallengeCompleted struct {
	base
	Challenge ResourceRef
}

func (ChallengeCompleted) Type() EventType { return EventChallengeCompleted }

type RewardEarned struct {
	base
	Reward ResourceRef
}

func (RewardEarned) Type() EventType { return EventRewardEarned }

type envelope struct {
	Event      string                     `json:"event"`
	OccurredAt string                     `json:"occurred_at"`
	Data       map[string]json.RawMessage `json:"data"`
}

type participantWire struct {
	ID           flexibleID         `json:"id"`
	Email        string             `json:"email"`
	FirstName    string             `json:"fname"`
	LastName     string             `json:"lname"`
	Points       *int64             `json:"points"`
	UnusedPoints *int64             `json:"unused_points"`
	Tier         *core.UpstreamTier `json:"tier"`
	Status       string             `json:"status"`
	Profile      map[string]any     `json:"profile_attributes"`
}

// flexibleID accepts the participant id as a JSON number or a numeric string
// and converts it to the canonical external id.
type flexibleID core.ExternalParticipantID

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || len(trimmed) == 0 {
		return nil
	}
	raw := string(trimmed)
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		raw = unquoted
	}
	id, err := core.ParseExternalParticipantID(raw)
	if err != nil {
		return err
	}
	*f = flexibleID(id)
	return nil
}

// Parse validates raw webhook bytes once at the boundary and returns the
// matching variant. Unknown event names and malformed shapes are validation errors.
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.WrapValidation(err, "body", "webhooks: payload is not valid json")
	}
	eventType := EventType(strings.TrimSpace(env.Event))
	switch eventType {
	case EventParticipantCreated, EventParticipantPointsUpdated, EventChallengeCompleted, EventRewardEarned:
	case "":
		return nil, core.ValidationError("event", "webhooks: event is required")
	default:
		return nil, core.ValidationError("event", fmt.Sprintf("webhooks: unsupported event %q", env.Event))
	}
	if env.Data == nil {
		return nil, core.ValidationError("data", "webhooks: data object is required")
	}

	participant, err := decodeParticipant(env.Data["participant"])
	if err != nil {
		return nil, err
	}
	occurredAt, err := parseOccurredAt(env.OccurredAt)
	if err != nil {
		return nil, err
	}

	b := base{participant: participant, occurredAt: occurredAt}
	switch eventType {
	case EventParticipantCreated:
		b.extra = extraFields(env.Data, "participant")
		return ParticipantCreated{base: b}, nil
	case EventParticipantPointsUpdated:
		event := ParticipantPointsUpdated{}
		if rawTx, ok := env.Data["transaction"]; ok && !isNull(rawTx) {
			var tx PointsTransaction
			if err := json.Unmarshal(rawTx, &tx); err != nil {
				return nil, core.WrapValidation(err, "data.transaction", "webhooks: transaction is malformed")
			}
			event.Transaction = &tx
		}
		b.extra = extraFields(env.Data, "participant", "transaction")
		event.base = b
		return event, nil
	case EventChallengeCompleted:
		ref, err := decodeResource(env.Data["challenge"], "data.challenge")
		if err != nil {
			return nil, err
		}
		b.extra = extraFields(env.Data, "participant", "challenge")
		return ChallengeCompleted{base: b, Challenge: ref}, nil
	default:
		ref, err := decodeResource(env.Data["reward"], "data.reward")
		if err != nil {
			return nil, err
		}
		b.extra = extraFields(env.Data, "participant", "reward")
		return RewardEarned{base: b, Reward: ref}, nil
	}
}

func decodeParticipant(raw json.RawMessage) (ParticipantPayload, error) {
	if isNull(raw) {
		return ParticipantPayload{}, core.ValidationError("data.participant", "webhooks: data.participant is required")
	}
	var wire participantWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ParticipantPayload{}, core.WrapValidation(err, "data.participant", "webhooks: data.participant is malformed")
	}
	id := core.ExternalParticipantID(wire.ID)
	if !id.Valid() {
		return ParticipantPayload{}, core.ValidationError("data.participant.id", "webhooks: data.participant.id is required")
	}
	email := strings.TrimSpace(wire.Email)
	if email == "" || !strings.Contains(email, "@") {
		return ParticipantPayload{}, core.ValidationError("data.participant.email", "webhooks: data.participant.email is required")
	}
	return ParticipantPayload{
		ID:           id,
		Email:        email,
		FirstName:    wire.FirstName,
		LastName:     wire.LastName,
		Points:       wire.Points,
		UnusedPoints: wire.UnusedPoints,
		Tier:         wire.Tier,
		Status:       wire.Status,
		Profile:      wire.Profile,
	}, nil
}

func decodeResource(raw json.RawMessage, field string) (ResourceRef, error) {
	if isNull(raw) {
		return ResourceRef{}, core.ValidationError(field, "webhooks: "+field+" is required")
	}
	var ref ResourceRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ResourceRef{}, core.WrapValidation(err, field, "webhooks: "+field+" is malformed")
	}
	if ref.ID <= 0 {
		return ResourceRef{}, core.ValidationError(field+".id", "webhooks: "+field+".id is required")
	}
	return ref, nil
}

func parseOccurredAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, core.WrapValidation(err, "occurred_at", "webhooks: occurred_at must be RFC3339")
	}
	return at.UTC(), nil
}

func extraFields(data map[string]json.RawMessage, known ...string) map[string]any {
	skip := make(map[string]struct{}, len(known))
	for _, key := range known {
		skip[key] = struct{}{}
	}
	extra := map[string]any{}
	for key, raw := range data {
		if _, ok := skip[key]; ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		extra[key] = value
	}
	return extra
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
