// Package passes derives provider-neutral pass payloads and decides when a
// stored pass is stale.
package passes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-walletsync/core"
)

type Style string

const (
	StyleStoreCard Style = "store_card"
	StyleGeneric   Style = "generic"
)

type Field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Payload is everything that appears on a pass. Every field feeds the digest,
// so timestamps and bookkeeping counters stay out of it.
type Payload struct {
	ProgramID             string         `json:"program_id"`
	ProgramName           string         `json:"program_name"`
	ParticipantID         string         `json:"participant_id"`
	ExternalParticipantID int64          `json:"external_participant_id"`
	Kind                  core.PassKind  `json:"kind"`
	ScopeKey              string         `json:"scope_key,omitempty"`
	Style                 Style          `json:"style"`
	Title                 string         `json:"title"`
	Description           string         `json:"description"`
	MemberName            string         `json:"member_name"`
	Balance               int64          `json:"balance"`
	BalanceLabel          string         `json:"balance_label"`
	Tier                  string         `json:"tier,omitempty"`
	BrandColor            string         `json:"brand_color,omitempty"`
	Primary               []Field        `json:"primary"`
	Secondary             []Field        `json:"secondary,omitempty"`
	Back                  []Field        `json:"back,omitempty"`
	BarcodeMessage        string         `json:"barcode_message"`
	Attributes            map[string]any `json:"attributes,omitempty"`
}

// Derive builds the payload for one pass kind. Resource-scoped kinds require a
// scope and unscoped kinds reject one.
func Derive(program core.Program, participant core.Participant, kind core.PassKind, scope core.PassScope) (Payload, error) {
	if _, ok := core.ParsePassKind(string(kind)); !ok {
		return Payload{}, core.ValidationError("kind", fmt.Sprintf("passes: unknown pass kind %q", kind))
	}
	if !participant.ExternalID.Valid() {
		return Payload{}, core.ValidationError("participant_id", "passes: participant external id is required")
	}
	if kind.RequiresResource() && (strings.TrimSpace(scope.ResourceType) == "" || strings.TrimSpace(scope.ResourceID) == "") {
		return Payload{}, core.ValidationError("resource", fmt.Sprintf("passes: %s passes require a resource", kind))
	}
	if !kind.RequiresResource() && !scope.IsZero() {
		return Payload{}, core.ValidationError("resource", fmt.Sprintf("passes: %s passes do not take a resource", kind))
	}

	display := program.Settings.EffectivePointsDisplay()
	payload := Payload{
		ProgramID:             program.ID,
		ProgramName:           strings.TrimSpace(program.Name),
		ParticipantID:         participant.ID,
		ExternalParticipantID: int64(participant.ExternalID),
		Kind:                  kind,
		ScopeKey:              scope.Key(),
		MemberName:            participant.DisplayName(),
		Tier:                  strings.TrimSpace(participant.Tier),
		BrandColor:            strings.TrimSpace(program.Settings.BrandColor),
		BarcodeMessage:        barcodeMessage(program, participant, kind, scope),
		Attributes:            publicAttributes(participant.Profile),
	}

	switch kind {
	case core.PassKindLoyalty:
		payload.Style = StyleStoreCard
		payload.Title = payload.ProgramName
		payload.Description = payload.ProgramName + " loyalty card"
		payload.Balance, payload.BalanceLabel = balanceFor(participant, display)
		payload.Primary = []Field{{Key: "balance", Label: payload.BalanceLabel, Value: formatPoints(payload.Balance)}}
		payload.Secondary = []Field{{Key: "member", Label: "Member", Value: payload.MemberName}}
		if payload.Tier != "" {
			payload.Secondary = append(payload.Secondary, Field{Key: "tier", Label: "Tier", Value: payload.Tier})
		}
	case core.PassKindRewards:
		payload.Style = StyleStoreCard
		payload.Title = payload.ProgramName + " Rewards"
		payload.Description = payload.ProgramName + " rewards card"
		payload.Balance = participant.UnusedPoints
		payload.BalanceLabel = "Redeemable"
		payload.Primary = []Field{{Key: "redeemable", Label: "Redeemable", Value: formatPoints(participant.UnusedPoints)}}
		payload.Secondary = []Field{{Key: "lifetime", Label: "Lifetime", Value: formatPoints(participant.Points)}}
	case core.PassKindChallenge:
		payload.Style = StyleGeneric
		payload.Title = payload.ProgramName + " Challenge"
		payload.Description = fmt.Sprintf("%s challenge %s", payload.ProgramName, scope.ResourceID)
		payload.Balance, payload.BalanceLabel = balanceFor(participant, display)
		payload.Primary = []Field{{Key: "challenge", Label: "Challenge", Value: strings.TrimSpace(scope.ResourceID)}}
		payload.Secondary = []Field{
			{Key: "member", Label: "Member", Value: payload.MemberName},
			{Key: "balance", Label: payload.BalanceLabel, Value: formatPoints(payload.Balance)},
		}
	}
	payload.Back = []Field{
		{Key: "member_id", Label: "Member ID", Value: participant.ExternalID.String()},
		{Key: "email", Label: "Email", Value: strings.TrimSpace(participant.Email)},
	}
	return payload, nil
}

func balanceFor(participant core.Participant, display core.PointsDisplay) (int64, string) {
	if display == core.PointsDisplayLifetime {
		return participant.Points, "Points"
	}
	return participant.UnusedPoints, "Available"
}

func barcodeMessage(program core.Program, participant core.Participant, kind core.PassKind, scope core.PassScope) string {
	parts := []string{strconv.FormatInt(program.ExternalID, 10), participant.ExternalID.String(), string(kind)}
	if key := scope.Key(); key != "" {
		parts = append(parts, key)
	}
	return strings.Join(parts, ":")
}

// publicAttributes keeps scalar profile attributes; nested values are not
// rendered on a pass.
func publicAttributes(profile map[string]any) map[string]any {
	if len(profile) == 0 {
		return nil
	}
	out := make(map[string]any, len(profile))
	for key, value := range profile {
		switch typed := value.(type) {
		case string:
			out[key] = typed
		case bool:
			out[key] = typed
		case float64:
			out[key] = typed
		case int64:
			out[key] = typed
		case int:
			out[key] = int64(typed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatPoints(value int64) string {
	return strconv.FormatInt(value, 10)
}
