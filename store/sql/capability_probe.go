package sqlstore

import (
	"context"
	"fmt"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const capabilityCacheKey = "walletsync::storage_capabilities::v1"

const (
	CapabilityParticipantProfile  = "participants.profile"
	CapabilityPassGoogleObjectID  = "passes.google_object_id"
	CapabilityPassDeviceTokens    = "passes.device_tokens"
	CapabilityNotificationJobs    = "notification_jobs"
	CapabilityDiagnosticRuns      = "diagnostic_runs"
	CapabilityWebhookEventPayload = "webhook_events.payload"
)

type columnRef struct {
	name   string
	table  string
	column string
}

var probedColumns = []columnRef{
	{name: CapabilityParticipantProfile, table: "participants", column: "profile"},
	{name: CapabilityPassGoogleObjectID, table: "passes", column: "google_object_id"},
	{name: CapabilityPassDeviceTokens, table: "passes", column: "device_tokens"},
	{name: CapabilityNotificationJobs, table: "notification_jobs", column: "due_at"},
	{name: CapabilityDiagnosticRuns, table: "diagnostic_runs", column: "report"},
	{name: CapabilityWebhookEventPayload, table: "webhook_events", column: "payload"},
}

// CapabilityProbe reports which optional columns and tables the connected
// schema has. Results are cached for the configured TTL and only refreshed
// through Capabilities.
type CapabilityProbe struct {
	db    *bun.DB
	cache repositorycache.CacheService
}

func NewCapabilityProbe(db *bun.DB, ttl time.Duration) (*CapabilityProbe, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: capability cache: %w", err)
	}
	return &CapabilityProbe{db: db, cache: cacheService}, nil
}

func (p *CapabilityProbe) Capabilities(ctx context.Context) (map[string]bool, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("sqlstore: capability probe is not configured")
	}
	cached, err := repositorycache.GetOrFetch(ctx, p.cache, capabilityCacheKey, p.probe)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(cached))
	for key, value := range cached {
		out[key] = value
	}
	return out, nil
}

// Invalidate forces the next Capabilities call to probe the schema.
func (p *CapabilityProbe) Invalidate(ctx context.Context) error {
	if p == nil || p.cache == nil {
		return nil
	}
	return p.cache.Delete(ctx, capabilityCacheKey)
}

func (p *CapabilityProbe) probe(ctx context.Context) (map[string]bool, error) {
	columns := map[string]map[string]bool{}
	out := make(map[string]bool, len(probedColumns))
	for _, ref := range probedColumns {
		present, ok := columns[ref.table]
		if !ok {
			loaded, err := p.tableColumns(ctx, ref.table)
			if err != nil {
				return nil, err
			}
			columns[ref.table] = loaded
			present = loaded
		}
		out[ref.name] = present[ref.column]
	}
	return out, nil
}

func (p *CapabilityProbe) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	var names []string
	var err error
	switch p.db.Dialect().Name() {
	case dialect.SQLite:
		err = p.db.NewRaw("SELECT name FROM pragma_table_info(?)", table).Scan(ctx, &names)
	default:
		err = p.db.NewRaw(
			"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?",
			table,
		).Scan(ctx, &names)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: probe %s columns: %w", table, err)
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}
