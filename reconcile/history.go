package reconcile

import (
	"strings"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

// AppendHistory appends one entry and keeps only the newest MaxEventHistory.
func AppendHistory(history []core.EventHistoryEntry, eventType string, at time.Time) []core.EventHistoryEntry {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return history
	}
	out := make([]core.EventHistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, core.EventHistoryEntry{Event: eventType, OccurredAt: at.UTC()})
	if len(out) > core.MaxEventHistory {
		out = out[len(out)-core.MaxEventHistory:]
	}
	return out
}
