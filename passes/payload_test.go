package passes

import (
	"testing"

	"github.com/goliatone/go-walletsync/core"
)

func testProgram() core.Program {
	return core.Program{ID: "prog_1", ExternalID: 9, Name: "Coffee Club"}
}

func testParticipant() core.Participant {
	return core.Participant{
		ID: "par_1", ProgramID: "prog_1", ExternalID: 42, Email: "a@b.com",
		FirstName: "Ada", Points: 100, UnusedPoints: 40, Tier: "Gold",
	}
}

func TestDerive_LoyaltyUsesDisplayPreference(t *testing.T) {
	payload, err := Derive(testProgram(), testParticipant(), core.PassKindLoyalty, core.PassScope{})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if payload.Style != StyleStoreCard || payload.Balance != 40 {
		t.Fatalf("unexpected loyalty payload %+v", payload)
	}

	program := testProgram()
	program.Settings.PointsDisplay = core.PointsDisplayLifetime
	payload, err = Derive(program, testParticipant(), core.PassKindLoyalty, core.PassScope{})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if payload.Balance != 100 {
		t.Fatalf("expected lifetime balance, got %d", payload.Balance)
	}
}

func TestDerive_ScopeRules(t *testing.T) {
	if _, err := Derive(testProgram(), testParticipant(), core.PassKindChallenge, core.PassScope{}); !core.IsValidation(err) {
		t.Fatalf("expected challenge without resource to fail, got %v", err)
	}
	if _, err := Derive(testProgram(), testParticipant(), core.PassKindLoyalty, core.PassScope{ResourceType: "challenge", ResourceID: "3"}); !core.IsValidation(err) {
		t.Fatalf("expected loyalty with resource to fail, got %v", err)
	}
	payload, err := Derive(testProgram(), testParticipant(), core.PassKindChallenge, core.PassScope{ResourceType: "challenge", ResourceID: "3"})
	if err != nil {
		t.Fatalf("derive challenge: %v", err)
	}
	if payload.Style != StyleGeneric || payload.ScopeKey != "challenge:3" {
		t.Fatalf("unexpected challenge payload %+v", payload)
	}
	if _, err := Derive(testProgram(), testParticipant(), core.PassKind("coupon"), core.PassScope{}); !core.IsValidation(err) {
		t.Fatalf("expected unknown kind to fail, got %v", err)
	}
}

func TestDigest_StableAcrossFieldOrder(t *testing.T) {
	first := testParticipant()
	first.Profile = map[string]any{"favorite": "latte", "newsletter": true, "visits": float64(12)}
	second := testParticipant()
	second.Profile = map[string]any{}
	second.Profile["visits"] = float64(12)
	second.Profile["newsletter"] = true
	second.Profile["favorite"] = "latte"

	a, err := Derive(testProgram(), first, core.PassKindLoyalty, core.PassScope{})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive(testProgram(), second, core.PassKindLoyalty, core.PassScope{})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	digestA, err := Digest(a)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	digestB, err := Digest(b)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digestA != digestB {
		t.Fatalf("expected identical digests, got %s vs %s", digestA, digestB)
	}

	again, _ := Digest(a)
	if again != digestA {
		t.Fatalf("expected repeated digest to be stable")
	}
}

func TestDigest_IgnoresBookkeepingButTracksContent(t *testing.T) {
	base := testParticipant()
	payload, _ := Derive(testProgram(), base, core.PassKindLoyalty, core.PassScope{})
	baseline, _ := Digest(payload)

	bookkeeping := base
	bookkeeping.EventCount = 7
	bookkeeping.LastEventType = "reward_earned"
	payload, _ = Derive(testProgram(), bookkeeping, core.PassKindLoyalty, core.PassScope{})
	if digest, _ := Digest(payload); digest != baseline {
		t.Fatalf("expected bookkeeping changes to keep the digest")
	}

	changed := base
	changed.UnusedPoints = 41
	payload, _ = Derive(testProgram(), changed, core.PassKindLoyalty, core.PassScope{})
	if digest, _ := Digest(payload); digest == baseline {
		t.Fatalf("expected balance change to alter the digest")
	}
}

func TestNeedsRegeneration(t *testing.T) {
	if !NeedsRegeneration("", "blake3:aa") {
		t.Fatalf("expected first issuance to require regeneration")
	}
	if NeedsRegeneration("blake3:aa", "blake3:aa") {
		t.Fatalf("expected matching digests to be current")
	}
	if !NeedsRegeneration("blake3:aa", "blake3:bb") {
		t.Fatalf("expected differing digests to be stale")
	}
}
