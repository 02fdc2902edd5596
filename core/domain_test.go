package core

import (
	"testing"
)

func TestParseExternalParticipantID(t *testing.T) {
	id, err := ParseExternalParticipantID(" 42 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 42 || id.String() != "42" {
		t.Fatalf("expected 42, got %d", id)
	}
	for _, raw := range []string{"", "abc", "-3", "0", "4.2"} {
		if _, err := ParseExternalParticipantID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParsePassKind(t *testing.T) {
	kind, ok := ParsePassKind(" Loyalty ")
	if !ok || kind != PassKindLoyalty {
		t.Fatalf("expected loyalty, got %q ok=%v", kind, ok)
	}
	if _, ok := ParsePassKind("coupon"); ok {
		t.Fatalf("expected unknown kind to be rejected")
	}
	if !PassKindChallenge.RequiresResource() || PassKindRewards.RequiresResource() {
		t.Fatalf("unexpected resource requirement")
	}
}

func TestProgramSettings_EffectiveInstallGroup(t *testing.T) {
	group := ProgramSettings{}.EffectiveInstallGroup()
	if len(group) != 1 || group[0] != PassKindLoyalty {
		t.Fatalf("expected loyalty default group, got %v", group)
	}

	group = ProgramSettings{InstallGroup: []PassKind{"rewards", "loyalty", "rewards", "challenge", "bogus"}}.EffectiveInstallGroup()
	if len(group) != 2 || group[0] != PassKindRewards || group[1] != PassKindLoyalty {
		t.Fatalf("expected [rewards loyalty], got %v", group)
	}
}

func TestPassScope_KeyRoundTrip(t *testing.T) {
	if key := (PassScope{}).Key(); key != "" {
		t.Fatalf("expected empty key for zero scope, got %q", key)
	}
	scope := PassScope{ResourceType: "Challenge", ResourceID: "77"}
	key := scope.Key()
	if key != "challenge:77" {
		t.Fatalf("unexpected key %q", key)
	}
	parsed := ParsePassScopeKey(key)
	if parsed.ResourceType != "challenge" || parsed.ResourceID != "77" {
		t.Fatalf("unexpected parsed scope %+v", parsed)
	}
}

func TestParticipantDisplayNameFallsBackToEmail(t *testing.T) {
	if got := (Participant{FirstName: "Ada", LastName: "Lovelace"}).DisplayName(); got != "Ada Lovelace" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := (Participant{Email: "a@b.com"}).DisplayName(); got != "a@b.com" {
		t.Fatalf("expected email fallback, got %q", got)
	}
}

func TestNotificationJobEventUsesLatestSource(t *testing.T) {
	job := NotificationJob{Before: 10, After: 25, SourceEvents: []string{"points_updated", "participant_updated"}}
	event := job.Event()
	if event.Delta() != 15 {
		t.Fatalf("expected delta 15, got %d", event.Delta())
	}
	if event.SourceEvent != "participant_updated" {
		t.Fatalf("expected latest source event, got %q", event.SourceEvent)
	}
}
