package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/install"
	"github.com/goliatone/go-walletsync/notify"
	"github.com/goliatone/go-walletsync/webhooks"
)

var (
	_ gocmd.Commander[IngestWebhookMessage]         = (*IngestWebhookCommand)(nil)
	_ gocmd.Commander[ReplayWebhookMessage]         = (*ReplayWebhookCommand)(nil)
	_ gocmd.Commander[InstallPassesMessage]         = (*InstallPassesCommand)(nil)
	_ gocmd.Commander[RegisterDeviceMessage]        = (*RegisterDeviceCommand)(nil)
	_ gocmd.Commander[UnregisterDeviceMessage]      = (*UnregisterDeviceCommand)(nil)
	_ gocmd.Commander[DispatchNotificationsMessage] = (*DispatchNotificationsCommand)(nil)
	_ gocmd.Commander[UpsertProgramMessage]         = (*UpsertProgramCommand)(nil)
	_ gocmd.Commander[RunDiagnosticsMessage]        = (*RunDiagnosticsCommand)(nil)

	_ WebhookIngester        = (*webhooks.Processor)(nil)
	_ InstallResolver        = (*install.Resolver)(nil)
	_ DeviceRegistrar        = (*devices.Service)(nil)
	_ NotificationDispatcher = (*notify.Dispatcher)(nil)
	_ DiagnosticsRunner      = (*doctor.Doctor)(nil)
)
