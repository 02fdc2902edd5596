package query

import (
	"context"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/signing"
)

type UpdatedSerialsReader interface {
	UpdatedSerials(ctx context.Context, deviceID string, passTypeIdentifier string, since *time.Time) ([]string, time.Time, error)
}

type ArtifactReader interface {
	Artifact(ctx context.Context, serial string) (signing.Artifact, core.Pass, error)
}

type ProgramReader interface {
	Resolve(ctx context.Context, ref string) (core.Program, error)
}

type CapabilityReader interface {
	Capabilities(ctx context.Context) (map[string]bool, error)
}

type WebhookEventReader interface {
	Get(ctx context.Context, fingerprint string) (core.WebhookEvent, error)
}

type UpdatedSerialsQuery struct {
	reader UpdatedSerialsReader
}

func NewUpdatedSerialsQuery(reader UpdatedSerialsReader) *UpdatedSerialsQuery {
	return &UpdatedSerialsQuery{reader: reader}
}

func (q *UpdatedSerialsQuery) Query(ctx context.Context, msg UpdatedSerialsMessage) (UpdatedSerials, error) {
	if q == nil || q.reader == nil {
		return UpdatedSerials{}, queryDependencyError("query: device service is required")
	}
	serials, last, err := q.reader.UpdatedSerials(ctx, msg.DeviceID, msg.PassTypeIdentifier, msg.Since)
	if err != nil {
		return UpdatedSerials{}, err
	}
	return UpdatedSerials{Serials: serials, LastUpdated: last}, nil
}

type PassArtifactQuery struct {
	reader ArtifactReader
}

func NewPassArtifactQuery(reader ArtifactReader) *PassArtifactQuery {
	return &PassArtifactQuery{reader: reader}
}

func (q *PassArtifactQuery) Query(ctx context.Context, msg PassArtifactMessage) (PassArtifact, error) {
	if q == nil || q.reader == nil {
		return PassArtifact{}, queryDependencyError("query: pass issuer is required")
	}
	artifact, pass, err := q.reader.Artifact(ctx, msg.Serial)
	if err != nil {
		return PassArtifact{}, err
	}
	return PassArtifact{Artifact: artifact, Pass: pass}, nil
}

type ResolveProgramQuery struct {
	reader ProgramReader
}

func NewResolveProgramQuery(reader ProgramReader) *ResolveProgramQuery {
	return &ResolveProgramQuery{reader: reader}
}

func (q *ResolveProgramQuery) Query(ctx context.Context, msg ResolveProgramMessage) (core.Program, error) {
	if q == nil || q.reader == nil {
		return core.Program{}, queryDependencyError("query: program store is required")
	}
	program, err := q.reader.Resolve(ctx, msg.Ref)
	if err != nil {
		return core.Program{}, err
	}
	// Credentials never leave the process through a query.
	program.APICredential = ""
	return program, nil
}

type RecentDiagnosticsQuery struct {
	reader core.DiagnosticLogReader
}

func NewRecentDiagnosticsQuery(reader core.DiagnosticLogReader) *RecentDiagnosticsQuery {
	return &RecentDiagnosticsQuery{reader: reader}
}

func (q *RecentDiagnosticsQuery) Query(ctx context.Context, msg RecentDiagnosticsMessage) ([]core.DiagnosticEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: diagnostic log is required")
	}
	limit := msg.Limit
	if limit == 0 {
		limit = 20
	}
	return q.reader.Recent(ctx, limit)
}

type StorageCapabilitiesQuery struct {
	reader CapabilityReader
}

func NewStorageCapabilitiesQuery(reader CapabilityReader) *StorageCapabilitiesQuery {
	return &StorageCapabilitiesQuery{reader: reader}
}

func (q *StorageCapabilitiesQuery) Query(ctx context.Context, _ StorageCapabilitiesMessage) (map[string]bool, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: capability probe is required")
	}
	return q.reader.Capabilities(ctx)
}

type WebhookEventQuery struct {
	reader WebhookEventReader
}

func NewWebhookEventQuery(reader WebhookEventReader) *WebhookEventQuery {
	return &WebhookEventQuery{reader: reader}
}

func (q *WebhookEventQuery) Query(ctx context.Context, msg WebhookEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, queryDependencyError("query: webhook event store is required")
	}
	return q.reader.Get(ctx, msg.Fingerprint)
}
