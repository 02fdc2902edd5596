package webhooks

import (
	"testing"

	"github.com/goliatone/go-walletsync/core"
)

func TestParse_PointsUpdated(t *testing.T) {
	raw := []byte(`{"event":"participant_points_updated","occurred_at":"2026-03-01T10:00:00Z","data":{"participant":{"id":42,"email":"a@b.com","points":100,"unused_points":40},"transaction":{"id":7,"points":25,"title":"Purchase"},"store":{"id":3}}}`)
	event, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	updated, ok := event.(ParticipantPointsUpdated)
	if !ok {
		t.Fatalf("expected points updated variant, got %T", event)
	}
	if updated.Participant().ID != 42 || updated.Participant().Email != "a@b.com" {
		t.Fatalf("unexpected participant %+v", updated.Participant())
	}
	if updated.Transaction == nil || updated.Transaction.Points != 25 {
		t.Fatalf("expected transaction, got %+v", updated.Transaction)
	}
	if _, ok := updated.Extra()["store"]; !ok {
		t.Fatalf("expected unknown data fields in extra bag, got %#v", updated.Extra())
	}
	if updated.OccurredAt().IsZero() {
		t.Fatalf("expected occurred_at to be parsed")
	}
}

func TestParse_VariantsRequireTheirResource(t *testing.T) {
	event, err := Parse([]byte(`{"event":"challenge_completed","data":{"participant":{"id":"42","email":"a@b.com"},"challenge":{"id":9,"name":"Ten visits"}}}`))
	if err != nil {
		t.Fatalf("parse challenge: %v", err)
	}
	challenge, ok := event.(ChallengeCompleted)
	if !ok || challenge.Challenge.ID != 9 {
		t.Fatalf("unexpected challenge event %#v", event)
	}
	if challenge.Participant().ID != 42 {
		t.Fatalf("expected string id to convert to 42, got %d", challenge.Participant().ID)
	}

	_, err = Parse([]byte(`{"event":"reward_earned","data":{"participant":{"id":42,"email":"a@b.com"}}}`))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error for missing reward, got %v", err)
	}
}

func TestParse_RejectsUnknownAndMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown event":   `{"event":"participant_deleted","data":{"participant":{"id":1,"email":"a@b.com"}}}`,
		"missing event":   `{"data":{"participant":{"id":1,"email":"a@b.com"}}}`,
		"missing data":    `{"event":"participant_created"}`,
		"missing id":      `{"event":"participant_created","data":{"participant":{"email":"a@b.com"}}}`,
		"non numeric id":  `{"event":"participant_created","data":{"participant":{"id":"abc","email":"a@b.com"}}}`,
		"missing email":   `{"event":"participant_created","data":{"participant":{"id":1}}}`,
		"invalid json":    `{"event":`,
		"bad occurred_at": `{"event":"participant_created","occurred_at":"yesterday","data":{"participant":{"id":1,"email":"a@b.com"}}}`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); !core.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestFingerprint_ExactBytes(t *testing.T) {
	a := Fingerprint([]byte(`{"event":"participant_created","data":{}}`))
	b := Fingerprint([]byte(`{"event":"participant_created","data":{}}`))
	c := Fingerprint([]byte(`{"data":{},"event":"participant_created"}`))
	if a != b {
		t.Fatalf("expected identical bytes to share a fingerprint")
	}
	if a == c {
		t.Fatalf("expected reordered bytes to produce a different fingerprint")
	}
	if len(a) != len("sha256:")+64 {
		t.Fatalf("unexpected fingerprint format %q", a)
	}
}
