package gocommand

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/notify"
)

type failingDispatcher struct {
	stats notify.Stats
	err   error
}

func (f failingDispatcher) DispatchDue(context.Context, int) (notify.Stats, error) {
	return f.stats, f.err
}

func TestBus_InitializeRequiresRegistry(t *testing.T) {
	var bus *Bus
	if err := bus.Initialize(); err == nil {
		t.Fatalf("expected nil bus to fail initialization")
	}
	if err := NewBus(nil).Initialize(); err != nil {
		t.Fatalf("expected default registry to initialize, got %v", err)
	}
}

func TestDispatchNotifications_ReturnsHandlerStats(t *testing.T) {
	bus := NewBus(gocmd.NewRegistry())
	dispatcher := &stubDispatcher{}
	reg, err := RegisterWalletSync(bus, Handlers{
		DispatchNotifications: command.NewDispatchNotificationsCommand(dispatcher),
	})
	if err != nil {
		t.Fatalf("register walletsync: %v", err)
	}
	defer reg.Unsubscribe()
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize bus: %v", err)
	}

	stats, err := DispatchNotifications(context.Background(), 40)
	if err != nil {
		t.Fatalf("dispatch notifications: %v", err)
	}
	if stats.Claimed != 2 || stats.Sent != 2 {
		t.Fatalf("expected handler stats, got %#v", stats)
	}
	if len(dispatcher.limits) != 1 || dispatcher.limits[0] != 40 {
		t.Fatalf("expected limit 40 to reach the dispatcher, got %v", dispatcher.limits)
	}
}

func TestDispatchNotifications_KeepsStatsOnFailure(t *testing.T) {
	bus := NewBus(gocmd.NewRegistry())
	reg, err := RegisterWalletSync(bus, Handlers{
		DispatchNotifications: command.NewDispatchNotificationsCommand(failingDispatcher{
			stats: notify.Stats{Claimed: 3, Sent: 1, Failed: 2},
			err:   errors.New("apns unavailable"),
		}),
	})
	if err != nil {
		t.Fatalf("register walletsync: %v", err)
	}
	defer reg.Unsubscribe()
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize bus: %v", err)
	}

	stats, err := DispatchNotifications(context.Background(), 0)
	if err == nil {
		t.Fatalf("expected dispatcher failure to surface")
	}
	if stats.Failed != 2 || stats.Sent != 1 {
		t.Fatalf("expected partial stats alongside the error, got %#v", stats)
	}
}
