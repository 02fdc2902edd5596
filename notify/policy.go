package notify

import (
	"sort"
	"time"

	"github.com/goliatone/go-walletsync/core"
)

// Policy holds the merge and throttle windows. Every method is pure.
type Policy struct {
	MergeWindow    time.Duration
	ThrottleWindow time.Duration
}

func PolicyFrom(cfg core.NotificationConfig) Policy {
	policy := Policy{MergeWindow: cfg.MergeWindow, ThrottleWindow: cfg.ThrottleWindow}
	if policy.MergeWindow <= 0 {
		policy.MergeWindow = core.DefaultNotificationMergeWindow
	}
	if policy.ThrottleWindow < 0 {
		policy.ThrottleWindow = 0
	}
	return policy
}

// DueAt is when a new job may fire: after the merge window, and no sooner
// than the throttle window after the last sent notification.
func (p Policy) DueAt(now time.Time, lastSent *time.Time) time.Time {
	due := now.Add(p.MergeWindow)
	if lastSent != nil {
		if throttled := lastSent.Add(p.ThrottleWindow); throttled.After(due) {
			due = throttled
		}
	}
	return due
}

// Merge folds a participant's deltas into one event spanning the earliest
// before and the latest after. It reports false for an empty log.
func (p Policy) Merge(events []core.NotificationEvent) (core.NotificationEvent, bool) {
	if len(events) == 0 {
		return core.NotificationEvent{}, false
	}
	ordered := append([]core.NotificationEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OccurredAt.Before(ordered[j].OccurredAt) })
	first := ordered[0]
	last := ordered[len(ordered)-1]
	merged := last
	merged.Before = first.Before
	return merged, true
}

// Batch is one notification the log would produce.
type Batch struct {
	Event  core.NotificationEvent
	Events []core.NotificationEvent
	DueAt  time.Time
}

// Plan replays an event log for one participant: events inside the merge
// window of a batch join it, and consecutive batches respect the throttle
// window. Batches with no net change are dropped.
func (p Policy) Plan(events []core.NotificationEvent, lastSent *time.Time) []Batch {
	if len(events) == 0 {
		return nil
	}
	ordered := append([]core.NotificationEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OccurredAt.Before(ordered[j].OccurredAt) })

	var batches []Batch
	var current *Batch
	previous := lastSent
	flush := func() {
		if current == nil {
			return
		}
		merged, _ := p.Merge(current.Events)
		current.Event = merged
		if merged.Delta() != 0 {
			batches = append(batches, *current)
			due := current.DueAt
			previous = &due
		}
		current = nil
	}
	for _, event := range ordered {
		if current != nil && event.OccurredAt.After(current.DueAt) {
			flush()
		}
		if current == nil {
			current = &Batch{DueAt: p.DueAt(event.OccurredAt, previous)}
		}
		current.Events = append(current.Events, event)
	}
	flush()
	return batches
}
