package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/install"
	"github.com/goliatone/go-walletsync/notify"
	"github.com/goliatone/go-walletsync/webhooks"
)

type WebhookIngester interface {
	Process(ctx context.Context, programRef string, raw []byte) (webhooks.Result, error)
	Replay(ctx context.Context, fingerprint string) (webhooks.Result, error)
}

type InstallResolver interface {
	Resolve(ctx context.Context, req install.Request) (install.Result, error)
}

type DeviceRegistrar interface {
	Register(ctx context.Context, in devices.RegisterInput) (devices.RegisterOutcome, error)
	Unregister(ctx context.Context, in devices.UnregisterInput) error
}

type NotificationDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (notify.Stats, error)
}

type ProgramWriter interface {
	Upsert(ctx context.Context, in core.UpsertProgramInput) (core.Program, error)
}

type DiagnosticsRunner interface {
	Run(ctx context.Context, opts doctor.Options) doctor.Report
}

type IngestWebhookCommand struct {
	ingester WebhookIngester
}

func NewIngestWebhookCommand(ingester WebhookIngester) *IngestWebhookCommand {
	return &IngestWebhookCommand{ingester: ingester}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.ingester == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	out, err := c.ingester.Process(ctx, msg.ProgramRef, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayWebhookCommand struct {
	ingester WebhookIngester
}

func NewReplayWebhookCommand(ingester WebhookIngester) *ReplayWebhookCommand {
	return &ReplayWebhookCommand{ingester: ingester}
}

func (c *ReplayWebhookCommand) Execute(ctx context.Context, msg ReplayWebhookMessage) error {
	if c == nil || c.ingester == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	out, err := c.ingester.Replay(ctx, msg.Fingerprint)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InstallPassesCommand struct {
	resolver InstallResolver
}

func NewInstallPassesCommand(resolver InstallResolver) *InstallPassesCommand {
	return &InstallPassesCommand{resolver: resolver}
}

func (c *InstallPassesCommand) Execute(ctx context.Context, msg InstallPassesMessage) error {
	if c == nil || c.resolver == nil {
		return commandDependencyError("command: install resolver is required")
	}
	out, err := c.resolver.Resolve(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterDeviceCommand struct {
	registrar DeviceRegistrar
}

func NewRegisterDeviceCommand(registrar DeviceRegistrar) *RegisterDeviceCommand {
	return &RegisterDeviceCommand{registrar: registrar}
}

func (c *RegisterDeviceCommand) Execute(ctx context.Context, msg RegisterDeviceMessage) error {
	if c == nil || c.registrar == nil {
		return commandDependencyError("command: device registrar is required")
	}
	out, err := c.registrar.Register(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnregisterDeviceCommand struct {
	registrar DeviceRegistrar
}

func NewUnregisterDeviceCommand(registrar DeviceRegistrar) *UnregisterDeviceCommand {
	return &UnregisterDeviceCommand{registrar: registrar}
}

func (c *UnregisterDeviceCommand) Execute(ctx context.Context, msg UnregisterDeviceMessage) error {
	if c == nil || c.registrar == nil {
		return commandDependencyError("command: device registrar is required")
	}
	return c.registrar.Unregister(ctx, msg.Input)
}

type DispatchNotificationsCommand struct {
	dispatcher NotificationDispatcher
}

func NewDispatchNotificationsCommand(dispatcher NotificationDispatcher) *DispatchNotificationsCommand {
	return &DispatchNotificationsCommand{dispatcher: dispatcher}
}

func (c *DispatchNotificationsCommand) Execute(ctx context.Context, msg DispatchNotificationsMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: notification dispatcher is required")
	}
	out, err := c.dispatcher.DispatchDue(ctx, msg.Limit)
	storeResult(ctx, out)
	return err
}

type UpsertProgramCommand struct {
	programs ProgramWriter
}

func NewUpsertProgramCommand(programs ProgramWriter) *UpsertProgramCommand {
	return &UpsertProgramCommand{programs: programs}
}

func (c *UpsertProgramCommand) Execute(ctx context.Context, msg UpsertProgramMessage) error {
	if c == nil || c.programs == nil {
		return commandDependencyError("command: program store is required")
	}
	out, err := c.programs.Upsert(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// RunDiagnosticsCommand never fails on check results; the report carries them.
type RunDiagnosticsCommand struct {
	runner DiagnosticsRunner
}

func NewRunDiagnosticsCommand(runner DiagnosticsRunner) *RunDiagnosticsCommand {
	return &RunDiagnosticsCommand{runner: runner}
}

func (c *RunDiagnosticsCommand) Execute(ctx context.Context, msg RunDiagnosticsMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: diagnostics runner is required")
	}
	storeResult(ctx, c.runner.Run(ctx, msg.Options))
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
