package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/signing"
)

const (
	TypeUpdatedSerials      = "walletsync.query.device.updated_serials"
	TypePassArtifact        = "walletsync.query.pass.artifact"
	TypeResolveProgram      = "walletsync.query.program.resolve"
	TypeRecentDiagnostics   = "walletsync.query.diagnostics.recent"
	TypeStorageCapabilities = "walletsync.query.storage.capabilities"
	TypeWebhookEvent        = "walletsync.query.webhook_event.get"
)

const maxDiagnosticsLimit = 100

type UpdatedSerialsMessage struct {
	DeviceID           string
	PassTypeIdentifier string
	Since              *time.Time
}

func (UpdatedSerialsMessage) Type() string { return TypeUpdatedSerials }

func (m UpdatedSerialsMessage) Validate() error {
	if strings.TrimSpace(m.DeviceID) == "" {
		return queryValidationError("device_id", "device id is required")
	}
	if strings.TrimSpace(m.PassTypeIdentifier) == "" {
		return queryValidationError("pass_type_identifier", "pass type identifier is required")
	}
	return nil
}

type UpdatedSerials struct {
	Serials     []string  `json:"serialNumbers"`
	LastUpdated time.Time `json:"-"`
}

type PassArtifactMessage struct {
	PassTypeIdentifier string
	Serial             string
}

func (PassArtifactMessage) Type() string { return TypePassArtifact }

func (m PassArtifactMessage) Validate() error {
	if strings.TrimSpace(m.Serial) == "" {
		return queryValidationError("serial", "serial is required")
	}
	return nil
}

type PassArtifact struct {
	Artifact signing.Artifact
	Pass     core.Pass
}

type ResolveProgramMessage struct {
	Ref string
}

func (ResolveProgramMessage) Type() string { return TypeResolveProgram }

func (m ResolveProgramMessage) Validate() error {
	if strings.TrimSpace(m.Ref) == "" {
		return queryValidationError("program", "program reference is required")
	}
	return nil
}

type RecentDiagnosticsMessage struct {
	Limit int
}

func (RecentDiagnosticsMessage) Type() string { return TypeRecentDiagnostics }

func (m RecentDiagnosticsMessage) Validate() error {
	if m.Limit < 0 || m.Limit > maxDiagnosticsLimit {
		return queryValidationError("limit", "limit must be between 0 and 100")
	}
	return nil
}

type StorageCapabilitiesMessage struct{}

func (StorageCapabilitiesMessage) Type() string { return TypeStorageCapabilities }

type WebhookEventMessage struct {
	Fingerprint string
}

func (WebhookEventMessage) Type() string { return TypeWebhookEvent }

func (m WebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.Fingerprint) == "" {
		return queryValidationError("fingerprint", "fingerprint is required")
	}
	return nil
}
