package command

import (
	"strings"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/install"
)

const (
	TypeIngestWebhook         = "walletsync.command.webhook.ingest"
	TypeReplayWebhook         = "walletsync.command.webhook.replay"
	TypeInstallPasses         = "walletsync.command.install"
	TypeRegisterDevice        = "walletsync.command.device.register"
	TypeUnregisterDevice      = "walletsync.command.device.unregister"
	TypeDispatchNotifications = "walletsync.command.notifications.dispatch"
	TypeUpsertProgram         = "walletsync.command.program.upsert"
	TypeRunDiagnostics        = "walletsync.command.diagnostics.run"
)

const maxDispatchLimit = 500

type IngestWebhookMessage struct {
	ProgramRef string
	Payload    []byte
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if strings.TrimSpace(m.ProgramRef) == "" {
		return commandValidationError("program", "program is required")
	}
	if len(m.Payload) == 0 {
		return commandValidationError("payload", "webhook body is required")
	}
	return nil
}

type ReplayWebhookMessage struct {
	Fingerprint string
}

func (ReplayWebhookMessage) Type() string { return TypeReplayWebhook }

func (m ReplayWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Fingerprint) == "" {
		return commandValidationError("fingerprint", "fingerprint is required")
	}
	return nil
}

// InstallPassesMessage carries raw route values; the resolver owns scope
// validation so its errors map onto the install error codes.
type InstallPassesMessage struct {
	Request install.Request
}

func (InstallPassesMessage) Type() string { return TypeInstallPasses }

type RegisterDeviceMessage struct {
	Input devices.RegisterInput
}

func (RegisterDeviceMessage) Type() string { return TypeRegisterDevice }

func (m RegisterDeviceMessage) Validate() error {
	if strings.TrimSpace(m.Input.DeviceID) == "" {
		return commandValidationError("device_id", "device id is required")
	}
	if strings.TrimSpace(m.Input.Serial) == "" {
		return commandValidationError("serial", "serial is required")
	}
	if strings.TrimSpace(m.Input.PushToken) == "" {
		return commandValidationError("pushToken", "push token is required")
	}
	return nil
}

type UnregisterDeviceMessage struct {
	Input devices.UnregisterInput
}

func (UnregisterDeviceMessage) Type() string { return TypeUnregisterDevice }

func (m UnregisterDeviceMessage) Validate() error {
	if strings.TrimSpace(m.Input.DeviceID) == "" {
		return commandValidationError("device_id", "device id is required")
	}
	if strings.TrimSpace(m.Input.Serial) == "" {
		return commandValidationError("serial", "serial is required")
	}
	return nil
}

type DispatchNotificationsMessage struct {
	Limit int
}

func (DispatchNotificationsMessage) Type() string { return TypeDispatchNotifications }

func (m DispatchNotificationsMessage) Validate() error {
	if m.Limit < 0 || m.Limit > maxDispatchLimit {
		return commandValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

type UpsertProgramMessage struct {
	Input core.UpsertProgramInput
}

func (UpsertProgramMessage) Type() string { return TypeUpsertProgram }

func (m UpsertProgramMessage) Validate() error {
	if m.Input.ExternalID <= 0 {
		return commandValidationError("external_id", "external id must be a positive integer")
	}
	if strings.TrimSpace(m.Input.Name) == "" {
		return commandValidationError("name", "name is required")
	}
	for _, kind := range m.Input.Settings.InstallGroup {
		if _, ok := core.ParsePassKind(string(kind)); !ok {
			return commandValidationError("install_group", "unknown pass kind "+string(kind))
		}
	}
	return nil
}

type RunDiagnosticsMessage struct {
	Options doctor.Options
}

func (RunDiagnosticsMessage) Type() string { return TypeRunDiagnostics }
