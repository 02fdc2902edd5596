package sqlstore

import "github.com/goliatone/go-walletsync/core"

var (
	_ core.ProgramStore         = (*ProgramStore)(nil)
	_ core.ParticipantStore     = (*ParticipantStore)(nil)
	_ core.PassStore            = (*PassStore)(nil)
	_ core.WebhookEventStore    = (*WebhookEventStore)(nil)
	_ core.NotificationJobStore = (*NotificationJobStore)(nil)
	_ core.DiagnosticLogStore   = (*DiagnosticLogStore)(nil)
	_ core.DiagnosticLogReader  = (*DiagnosticLogStore)(nil)
)
