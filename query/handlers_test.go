package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/signing"
	"github.com/goliatone/go-walletsync/store/memory"
)

type serialsFunc func(ctx context.Context, deviceID string, passType string, since *time.Time) ([]string, time.Time, error)

func (f serialsFunc) UpdatedSerials(ctx context.Context, deviceID string, passType string, since *time.Time) ([]string, time.Time, error) {
	return f(ctx, deviceID, passType, since)
}

type artifactFunc func(ctx context.Context, serial string) (signing.Artifact, core.Pass, error)

func (f artifactFunc) Artifact(ctx context.Context, serial string) (signing.Artifact, core.Pass, error) {
	return f(ctx, serial)
}

type staticCapabilities map[string]bool

func (c staticCapabilities) Capabilities(context.Context) (map[string]bool, error) {
	return c, nil
}

func TestUpdatedSerialsQuery_MapsReaderOutput(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewUpdatedSerialsQuery(serialsFunc(func(_ context.Context, deviceID string, passType string, since *time.Time) ([]string, time.Time, error) {
		if deviceID != "d1" || passType != "pass.x" || since != nil {
			t.Fatalf("unexpected query input %q %q %v", deviceID, passType, since)
		}
		return []string{"s1", "s2"}, last, nil
	}))

	out, err := q.Query(context.Background(), UpdatedSerialsMessage{DeviceID: "d1", PassTypeIdentifier: "pass.x"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out.Serials) != 2 || !out.LastUpdated.Equal(last) {
		t.Fatalf("unexpected output %#v", out)
	}
}

func TestPassArtifactQuery_ReturnsArtifactAndPass(t *testing.T) {
	q := NewPassArtifactQuery(artifactFunc(func(_ context.Context, serial string) (signing.Artifact, core.Pass, error) {
		return signing.Artifact{Identifier: serial, Bytes: []byte("zip")}, core.Pass{AppleSerial: serial, Version: 3}, nil
	}))
	out, err := q.Query(context.Background(), PassArtifactMessage{Serial: "s9"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Artifact.Identifier != "s9" || out.Pass.Version != 3 {
		t.Fatalf("unexpected artifact %#v", out)
	}
}

func TestResolveProgramQuery_StripsCredential(t *testing.T) {
	programs := memory.NewProgramStore()
	created, err := programs.Upsert(context.Background(), core.UpsertProgramInput{ExternalID: 77, Name: "Club", APICredential: "secret"})
	if err != nil {
		t.Fatalf("seed program: %v", err)
	}

	q := NewResolveProgramQuery(programs)
	program, err := q.Query(context.Background(), ResolveProgramMessage{Ref: "77"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if program.ID != created.ID || program.APICredential != "" {
		t.Fatalf("expected resolved program without credential, got %#v", program)
	}
}

func TestRecentDiagnosticsQuery_DefaultsLimit(t *testing.T) {
	log := &memory.DiagnosticLogStore{}
	for _, status := range []string{"ok", "warn", "fail"} {
		if err := log.Append(context.Background(), core.DiagnosticEntry{Status: status}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := NewRecentDiagnosticsQuery(log).Query(context.Background(), RecentDiagnosticsMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 3 || entries[0].Status != "fail" {
		t.Fatalf("expected newest first, got %#v", entries)
	}
	if err := (RecentDiagnosticsMessage{Limit: 500}).Validate(); !core.IsValidation(err) {
		t.Fatalf("expected oversized limit to fail validation, got %v", err)
	}
}

func TestStorageCapabilitiesQuery_DelegatesToProbe(t *testing.T) {
	out, err := NewStorageCapabilitiesQuery(staticCapabilities{"notification_jobs": true}).Query(context.Background(), StorageCapabilitiesMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !out["notification_jobs"] {
		t.Fatalf("expected capability to pass through, got %#v", out)
	}
}

func TestWebhookEventQuery_MissingEvent(t *testing.T) {
	_, err := NewWebhookEventQuery(memory.NewWebhookEventStore()).Query(context.Background(), WebhookEventMessage{Fingerprint: "sha256:none"})
	if err == nil {
		t.Fatalf("expected missing event error")
	}
}
