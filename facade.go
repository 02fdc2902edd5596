package walletsync

import (
	"github.com/goliatone/go-walletsync/adapters/gocommand"
	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/query"
)

type Commands struct {
	IngestWebhook         *command.IngestWebhookCommand
	ReplayWebhook         *command.ReplayWebhookCommand
	InstallPasses         *command.InstallPassesCommand
	RegisterDevice        *command.RegisterDeviceCommand
	UnregisterDevice      *command.UnregisterDeviceCommand
	DispatchNotifications *command.DispatchNotificationsCommand
	UpsertProgram         *command.UpsertProgramCommand
	RunDiagnostics        *command.RunDiagnosticsCommand
}

type Queries struct {
	UpdatedSerials      *query.UpdatedSerialsQuery
	PassArtifact        *query.PassArtifactQuery
	ResolveProgram      *query.ResolveProgramQuery
	RecentDiagnostics   *query.RecentDiagnosticsQuery
	StorageCapabilities *query.StorageCapabilitiesQuery
	WebhookEvent        *query.WebhookEventQuery
}

func (r *Runtime) buildHandlers() (Commands, Queries) {
	commands := Commands{
		IngestWebhook:         command.NewIngestWebhookCommand(r.processor),
		ReplayWebhook:         command.NewReplayWebhookCommand(r.processor),
		InstallPasses:         command.NewInstallPassesCommand(r.resolver),
		RegisterDevice:        command.NewRegisterDeviceCommand(r.devices),
		UnregisterDevice:      command.NewUnregisterDeviceCommand(r.devices),
		DispatchNotifications: command.NewDispatchNotificationsCommand(r.dispatcher),
		UpsertProgram:         command.NewUpsertProgramCommand(r.stores.Programs),
		RunDiagnostics:        command.NewRunDiagnosticsCommand(r.doctor),
	}
	queries := Queries{
		UpdatedSerials:    query.NewUpdatedSerialsQuery(r.devices),
		PassArtifact:      query.NewPassArtifactQuery(r.issuer),
		ResolveProgram:    query.NewResolveProgramQuery(r.stores.Programs),
		RecentDiagnostics: query.NewRecentDiagnosticsQuery(r.stores.Diagnostics),
		WebhookEvent:      query.NewWebhookEventQuery(r.stores.Events),
	}
	if r.stores.Capabilities != nil {
		queries.StorageCapabilities = query.NewStorageCapabilitiesQuery(r.stores.Capabilities)
	}
	return commands, queries
}

func (r *Runtime) Commands() Commands {
	if r == nil {
		return Commands{}
	}
	return r.commands
}

func (r *Runtime) Queries() Queries {
	if r == nil {
		return Queries{}
	}
	return r.queries
}

// CommandHandlers lists every handler for registration on a go-command
// dispatcher.
func (r *Runtime) CommandHandlers() gocommand.Handlers {
	commands, queries := r.Commands(), r.Queries()
	return gocommand.Handlers{
		IngestWebhook:         commands.IngestWebhook,
		ReplayWebhook:         commands.ReplayWebhook,
		InstallPasses:         commands.InstallPasses,
		RegisterDevice:        commands.RegisterDevice,
		UnregisterDevice:      commands.UnregisterDevice,
		DispatchNotifications: commands.DispatchNotifications,
		UpsertProgram:         commands.UpsertProgram,
		RunDiagnostics:        commands.RunDiagnostics,
		UpdatedSerials:        queries.UpdatedSerials,
		PassArtifact:          queries.PassArtifact,
		ResolveProgram:        queries.ResolveProgram,
		RecentDiagnostics:     queries.RecentDiagnostics,
		StorageCapabilities:   queries.StorageCapabilities,
		WebhookEvent:          queries.WebhookEvent,
	}
}
