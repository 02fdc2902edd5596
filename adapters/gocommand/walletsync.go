package gocommand

import (
	"fmt"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/query"
)

// Handlers groups the walletsync command and query handlers a host wants on
// the go-command dispatcher. Nil entries are skipped.
type Handlers struct {
	IngestWebhook         *command.IngestWebhookCommand
	ReplayWebhook         *command.ReplayWebhookCommand
	InstallPasses         *command.InstallPassesCommand
	RegisterDevice        *command.RegisterDeviceCommand
	UnregisterDevice      *command.UnregisterDeviceCommand
	DispatchNotifications *command.DispatchNotificationsCommand
	UpsertProgram         *command.UpsertProgramCommand
	RunDiagnostics        *command.RunDiagnosticsCommand

	UpdatedSerials      *query.UpdatedSerialsQuery
	PassArtifact        *query.PassArtifactQuery
	ResolveProgram      *query.ResolveProgramQuery
	RecentDiagnostics   *query.RecentDiagnosticsQuery
	StorageCapabilities *query.StorageCapabilitiesQuery
	WebhookEvent        *query.WebhookEventQuery
}

// Registration holds the dispatcher subscriptions created by
// RegisterWalletSync.
type Registration struct {
	subscriptions []commanddispatcher.Subscription
}

func (r *Registration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.subscriptions)
}

// Unsubscribe removes every handler from the dispatcher.
func (r *Registration) Unsubscribe() {
	if r == nil {
		return
	}
	for _, sub := range r.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

// RegisterWalletSync registers and subscribes every configured handler. On
// failure the subscriptions made so far are removed.
func RegisterWalletSync(bus *Bus, handlers Handlers, runnerOpts ...runner.Option) (*Registration, error) {
	if bus == nil || bus.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	reg := &Registration{}
	steps := []func() (commanddispatcher.Subscription, error){
		commandStep[command.IngestWebhookMessage](bus, handlers.IngestWebhook, runnerOpts),
		commandStep[command.ReplayWebhookMessage](bus, handlers.ReplayWebhook, runnerOpts),
		commandStep[command.InstallPassesMessage](bus, handlers.InstallPasses, runnerOpts),
		commandStep[command.RegisterDeviceMessage](bus, handlers.RegisterDevice, runnerOpts),
		commandStep[command.UnregisterDeviceMessage](bus, handlers.UnregisterDevice, runnerOpts),
		commandStep[command.DispatchNotificationsMessage](bus, handlers.DispatchNotifications, runnerOpts),
		commandStep[command.UpsertProgramMessage](bus, handlers.UpsertProgram, runnerOpts),
		commandStep[command.RunDiagnosticsMessage](bus, handlers.RunDiagnostics, runnerOpts),
		queryStep[query.UpdatedSerialsMessage, query.UpdatedSerials](bus, handlers.UpdatedSerials, runnerOpts),
		queryStep[query.PassArtifactMessage, query.PassArtifact](bus, handlers.PassArtifact, runnerOpts),
		queryStep[query.ResolveProgramMessage, core.Program](bus, handlers.ResolveProgram, runnerOpts),
		queryStep[query.RecentDiagnosticsMessage, []core.DiagnosticEntry](bus, handlers.RecentDiagnostics, runnerOpts),
		queryStep[query.StorageCapabilitiesMessage, map[string]bool](bus, handlers.StorageCapabilities, runnerOpts),
		queryStep[query.WebhookEventMessage, core.WebhookEvent](bus, handlers.WebhookEvent, runnerOpts),
	}
	for _, step := range steps {
		if step == nil {
			continue
		}
		sub, err := step()
		if err != nil {
			reg.Unsubscribe()
			return nil, core.InternalError(err, "gocommand: register walletsync handlers")
		}
		reg.subscriptions = append(reg.subscriptions, sub)
	}
	return reg, nil
}

type commander[T any] interface {
	comparable
	gocmd.Commander[T]
}

type querier[T any, R any] interface {
	comparable
	gocmd.Querier[T, R]
}

func commandStep[T any, C commander[T]](bus *Bus, cmd C, opts []runner.Option) func() (commanddispatcher.Subscription, error) {
	var zero C
	if cmd == zero {
		return nil
	}
	return func() (commanddispatcher.Subscription, error) {
		return subscribeCommand[T](bus, cmd, opts...)
	}
}

func queryStep[T any, R any, Q querier[T, R]](bus *Bus, qry Q, opts []runner.Option) func() (commanddispatcher.Subscription, error) {
	var zero Q
	if qry == zero {
		return nil
	}
	return func() (commanddispatcher.Subscription, error) {
		return subscribeQuery[T, R](bus, qry, opts...)
	}
}
