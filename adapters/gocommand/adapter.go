// Package gocommand puts the walletsync command and query handlers on the
// go-command dispatcher so hosts drive them by message type.
package gocommand

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/notify"
)

// Bus owns the go-command registry the walletsync handlers register on.
type Bus struct {
	registry *gocmd.Registry
}

func NewBus(registry *gocmd.Registry) *Bus {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &Bus{registry: registry}
}

// Initialize resolves every registered handler. Call it once after
// RegisterWalletSync.
func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// DispatchNotifications runs one notification pass through the bus and
// returns the stats the handler stored on the result collector.
func DispatchNotifications(ctx context.Context, limit int) (notify.Stats, error) {
	collector := gocmd.NewResult[notify.Stats]()
	err := Dispatch(gocmd.ContextWithResult(ctx, collector), command.DispatchNotificationsMessage{Limit: limit})
	stats, _ := collector.Load()
	return stats, err
}

func subscribeCommand[T any](bus *Bus, cmd gocmd.Commander[T], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeCommand(cmd, opts...)
	if err := bus.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func subscribeQuery[T any, R any](bus *Bus, qry gocmd.Querier[T, R], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeQuery(qry, opts...)
	if err := bus.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
