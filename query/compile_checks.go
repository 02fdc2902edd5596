package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/install"
)

var (
	_ gocmd.Querier[UpdatedSerialsMessage, UpdatedSerials]            = (*UpdatedSerialsQuery)(nil)
	_ gocmd.Querier[PassArtifactMessage, PassArtifact]                = (*PassArtifactQuery)(nil)
	_ gocmd.Querier[ResolveProgramMessage, core.Program]              = (*ResolveProgramQuery)(nil)
	_ gocmd.Querier[RecentDiagnosticsMessage, []core.DiagnosticEntry] = (*RecentDiagnosticsQuery)(nil)
	_ gocmd.Querier[StorageCapabilitiesMessage, map[string]bool]      = (*StorageCapabilitiesQuery)(nil)
	_ gocmd.Querier[WebhookEventMessage, core.WebhookEvent]           = (*WebhookEventQuery)(nil)
	_ UpdatedSerialsReader                                            = (*devices.Service)(nil)
	_ ArtifactReader                                                  = (*install.Issuer)(nil)
	_ WebhookEventReader                                              = (core.WebhookEventStore)(nil)
	_ ProgramReader                                                   = (core.ProgramStore)(nil)
)
