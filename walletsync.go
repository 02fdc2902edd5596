package walletsync

import (
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/store/memory"
	sqlstore "github.com/goliatone/go-walletsync/store/sql"
)

type Config = core.Config

type Program = core.Program
type Participant = core.Participant
type Pass = core.Pass
type UpsertProgramInput = core.UpsertProgramInput

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// DiagnosticLog stores doctor reports and lists the latest ones.
type DiagnosticLog interface {
	core.DiagnosticLogStore
	core.DiagnosticLogReader
}

// Stores is the persistence set a Runtime runs on.
type Stores struct {
	Programs     core.ProgramStore
	Participants core.ParticipantStore
	Passes       core.PassStore
	Events       core.WebhookEventStore
	Jobs         core.NotificationJobStore
	Diagnostics  DiagnosticLog
	Capabilities doctor.CapabilityProber
}

func (s Stores) complete() bool {
	return s.Programs != nil && s.Participants != nil && s.Passes != nil &&
		s.Events != nil && s.Jobs != nil && s.Diagnostics != nil
}

// MemoryStores returns process-local stores for tests and single-node demos.
func MemoryStores() Stores {
	stores := memory.NewStores()
	return Stores{
		Programs:     stores.Programs,
		Participants: stores.Participants,
		Passes:       stores.Passes,
		Events:       stores.Events,
		Jobs:         stores.Jobs,
		Diagnostics:  stores.Diagnostics,
		Capabilities: stores,
	}
}

// SQLStores exposes the bun-backed stores built by a repository factory.
func SQLStores(factory *sqlstore.RepositoryFactory) Stores {
	if factory == nil {
		return Stores{}
	}
	return Stores{
		Programs:     factory.Programs(),
		Participants: factory.Participants(),
		Passes:       factory.Passes(),
		Events:       factory.WebhookEvents(),
		Jobs:         factory.NotificationJobs(),
		Diagnostics:  factory.Diagnostics(),
		Capabilities: factory.Capabilities(),
	}
}
