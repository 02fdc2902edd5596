package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/migrations"
	"github.com/goliatone/go-walletsync/security"
	sqlstore "github.com/goliatone/go-walletsync/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-walletsync-tests"
}

func TestProgramStore_SealsCredentialAndResolvesByExternalID(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)

	program, err := factory.Programs().Upsert(ctx, core.UpsertProgramInput{
		ExternalID:    1204,
		Name:          "Coffee Club",
		APICredential: "perk-api-key",
		Settings:      core.ProgramSettings{InstallGroup: []core.PassKind{core.PassKindLoyalty, core.PassKindRewards}},
	})
	if err != nil {
		t.Fatalf("upsert program: %v", err)
	}
	if program.APICredential != "perk-api-key" {
		t.Fatalf("expected decrypted credential, got %q", program.APICredential)
	}

	var raw string
	if err := factory.DB().NewRaw("SELECT api_credential FROM programs WHERE id = ?", program.ID).Scan(ctx, &raw); err != nil {
		t.Fatalf("read raw credential: %v", err)
	}
	if strings.Contains(raw, "perk-api-key") || !security.IsEnvelope([]byte(raw)) {
		t.Fatalf("expected sealed credential at rest, got %q", raw)
	}

	byExternal, err := factory.Programs().Resolve(ctx, "1204")
	if err != nil {
		t.Fatalf("resolve by external id: %v", err)
	}
	if byExternal.ID != program.ID || len(byExternal.Settings.InstallGroup) != 2 {
		t.Fatalf("unexpected program %+v", byExternal)
	}

	renamed, err := factory.Programs().Upsert(ctx, core.UpsertProgramInput{ExternalID: 1204, Name: "Coffee Club Plus", APICredential: "rotated"})
	if err != nil {
		t.Fatalf("re-upsert program: %v", err)
	}
	if renamed.ID != program.ID || renamed.Name != "Coffee Club Plus" || renamed.APICredential != "rotated" {
		t.Fatalf("expected upsert in place, got %+v", renamed)
	}

	if _, err := factory.Programs().Resolve(ctx, "9999"); !core.IsNotFound(err) {
		t.Fatalf("expected not found for unknown program, got %v", err)
	}
}

func TestProgramStore_RequiresSecretProviderForCredentials(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	_, err = factory.Programs().Upsert(context.Background(), core.UpsertProgramInput{ExternalID: 7, Name: "No Key", APICredential: "secret"})
	if !core.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParticipantStore_UpsertsOnExternalID(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	program := seedProgram(t, factory)

	first, err := factory.Participants().Save(ctx, core.Participant{
		ProgramID:  program.ID,
		ExternalID: 42,
		Email:      "Ada@Example.com",
		FirstName:  "Ada",
		Points:     100,
		Profile:    map[string]any{"city": "Lisbon"},
	})
	if err != nil {
		t.Fatalf("save participant: %v", err)
	}
	if first.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", first.Email)
	}

	second, err := factory.Participants().Save(ctx, core.Participant{
		ProgramID:  program.ID,
		ExternalID: 42,
		Email:      "ada@example.com",
		FirstName:  "Ada",
		Points:     250,
	})
	if err != nil {
		t.Fatalf("save participant again: %v", err)
	}
	if second.ID != first.ID || second.Points != 250 {
		t.Fatalf("expected upsert onto existing row, got %+v", second)
	}

	byEmail, err := factory.Participants().FindByEmail(ctx, program.ID, "ADA@example.com")
	if err != nil || byEmail == nil || byEmail.ID != first.ID {
		t.Fatalf("expected case-insensitive email lookup, got %+v err=%v", byEmail, err)
	}
	missing, err := factory.Participants().FindByExternalID(ctx, program.ID, 43)
	if err != nil || missing != nil {
		t.Fatalf("expected nil participant for unknown id, got %+v err=%v", missing, err)
	}
	if _, err := factory.Participants().Get(ctx, "00000000-0000-0000-0000-000000000000"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	var rows int
	if err := factory.DB().NewRaw("SELECT COUNT(*) FROM participants").Scan(ctx, &rows); err != nil {
		t.Fatalf("count participants: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one participant row, got %d", rows)
	}
}

func TestPassStore_CreateConflictAndVersionedUpdate(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	program := seedProgram(t, factory)
	participant := seedParticipant(t, factory, program.ID, 42)

	pass, err := factory.Passes().Create(ctx, core.Pass{
		ProgramID:     program.ID,
		ParticipantID: participant.ID,
		Kind:          core.PassKindLoyalty,
		AppleSerial:   "serial-1",
		ContentHash:   "hash-1",
	})
	if err != nil {
		t.Fatalf("create pass: %v", err)
	}
	if pass.Version != 1 {
		t.Fatalf("expected version 1, got %d", pass.Version)
	}

	_, err = factory.Passes().Create(ctx, core.Pass{ProgramID: program.ID, ParticipantID: participant.ID, Kind: core.PassKindLoyalty})
	if !errors.Is(err, core.ErrPassConflict) {
		t.Fatalf("expected pass conflict, got %v", err)
	}

	challenge, err := factory.Passes().Create(ctx, core.Pass{
		ProgramID:     program.ID,
		ParticipantID: participant.ID,
		Kind:          core.PassKindChallenge,
		Scope:         core.PassScope{ResourceType: "challenge", ResourceID: "7"},
	})
	if err != nil {
		t.Fatalf("create scoped pass: %v", err)
	}
	found, err := factory.Passes().Find(ctx, participant.ID, core.PassKindChallenge, core.PassScope{ResourceType: "Challenge", ResourceID: "7"})
	if err != nil || found == nil || found.ID != challenge.ID {
		t.Fatalf("expected scoped pass lookup, got %+v err=%v", found, err)
	}

	updated, err := factory.Passes().UpdateIssued(ctx, core.UpdateIssuedInput{
		PassID:          pass.ID,
		ExpectedVersion: 1,
		AppleSerial:     "serial-2",
		ContentHash:     "hash-2",
	})
	if err != nil {
		t.Fatalf("update issued: %v", err)
	}
	if updated.Version != 2 || updated.AppleSerial != "serial-2" || updated.LastSyncedAt == nil {
		t.Fatalf("unexpected updated pass %+v", updated)
	}

	_, err = factory.Passes().UpdateIssued(ctx, core.UpdateIssuedInput{PassID: pass.ID, ExpectedVersion: 1, ContentHash: "stale"})
	if !errors.Is(err, core.ErrPassConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
	_, err = factory.Passes().UpdateIssued(ctx, core.UpdateIssuedInput{PassID: "00000000-0000-0000-0000-000000000000", ExpectedVersion: 1})
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found for unknown pass, got %v", err)
	}

	if err := factory.Passes().RecordError(ctx, pass.ID, "google: upstream 500"); err != nil {
		t.Fatalf("record error: %v", err)
	}
	bySerial, err := factory.Passes().FindBySerial(ctx, "serial-2")
	if err != nil || bySerial == nil || bySerial.LastError != "google: upstream 500" {
		t.Fatalf("expected recorded error on pass, got %+v err=%v", bySerial, err)
	}

	all, err := factory.Passes().ListByParticipant(ctx, participant.ID)
	if err != nil {
		t.Fatalf("list passes: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected two passes, got %d", len(all))
	}
}

func TestPassStore_DeviceTokensAndListByDevice(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	program := seedProgram(t, factory)
	participant := seedParticipant(t, factory, program.ID, 42)

	pass, err := factory.Passes().Create(ctx, core.Pass{
		ProgramID:     program.ID,
		ParticipantID: participant.ID,
		Kind:          core.PassKindLoyalty,
		AppleSerial:   "serial-dev",
	})
	if err != nil {
		t.Fatalf("create pass: %v", err)
	}

	register := func(tokens []core.DeviceToken) ([]core.DeviceToken, bool) {
		for _, token := range tokens {
			if token.DeviceID == "device_1" {
				return tokens, false
			}
		}
		return append(tokens, core.DeviceToken{DeviceID: "device_1", PushToken: "push-a", RegisteredAt: time.Now().UTC()}), true
	}
	changed, err := factory.Passes().UpdateDeviceTokens(ctx, pass.ID, register)
	if err != nil || !changed {
		t.Fatalf("expected first registration to change tokens, changed=%v err=%v", changed, err)
	}
	changed, err = factory.Passes().UpdateDeviceTokens(ctx, pass.ID, register)
	if err != nil || changed {
		t.Fatalf("expected repeat registration to be a no-op, changed=%v err=%v", changed, err)
	}

	if _, err := factory.Passes().UpdateIssued(ctx, core.UpdateIssuedInput{
		PassID:          pass.ID,
		ExpectedVersion: 1,
		AppleSerial:     "serial-dev",
		ContentHash:     "hash",
		SyncedAt:        time.Now().UTC(),
	}); err != nil {
		t.Fatalf("update issued: %v", err)
	}

	listed, err := factory.Passes().ListByDevice(ctx, "device_1", nil)
	if err != nil {
		t.Fatalf("list by device: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != pass.ID {
		t.Fatalf("expected registered pass, got %+v", listed)
	}

	// A substring of a registered id is not a match.
	other, err := factory.Passes().ListByDevice(ctx, "device", nil)
	if err != nil {
		t.Fatalf("list by other device: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected exact device match, got %+v", other)
	}

	future := time.Now().UTC().Add(time.Hour)
	recent, err := factory.Passes().ListByDevice(ctx, "device_1", &future)
	if err != nil {
		t.Fatalf("list by device since: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected no passes updated after %s, got %d", future, len(recent))
	}
}

func TestWebhookEventStore_FingerprintIsUnique(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	events := factory.WebhookEvents()

	event := core.WebhookEvent{
		Fingerprint:           "sha256:abc",
		EventType:             "participant_points_updated",
		ExternalParticipantID: 42,
		Payload:               []byte(`{"event":"participant_points_updated"}`),
	}
	inserted, err := events.Insert(ctx, event)
	if err != nil || !inserted {
		t.Fatalf("expected first insert, inserted=%v err=%v", inserted, err)
	}
	inserted, err = events.Insert(ctx, event)
	if err != nil || inserted {
		t.Fatalf("expected duplicate to be skipped, inserted=%v err=%v", inserted, err)
	}

	stored, err := events.Get(ctx, "sha256:abc")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if stored.ExternalParticipantID != 42 || string(stored.Payload) != string(event.Payload) {
		t.Fatalf("unexpected stored event %+v", stored)
	}

	if stored.Released() {
		t.Fatalf("expected fresh event not to be released")
	}
	if _, err := events.Get(ctx, "sha256:missing"); !errors.Is(err, core.ErrWebhookEventMissing) {
		t.Fatalf("expected missing event, got %v", err)
	}

	if err := events.Release(ctx, "sha256:abc", time.Now().UTC()); err != nil {
		t.Fatalf("release event: %v", err)
	}
	released, err := events.Get(ctx, "sha256:abc")
	if err != nil || !released.Released() {
		t.Fatalf("expected released row to be kept, got %+v err=%v", released, err)
	}

	event.Payload = []byte(`{"event":"participant_points_updated","retry":true}`)
	inserted, err = events.Insert(ctx, event)
	if err != nil || !inserted {
		t.Fatalf("expected redelivery to reclaim released row, inserted=%v err=%v", inserted, err)
	}
	reclaimed, err := events.Get(ctx, "sha256:abc")
	if err != nil || reclaimed.Released() || reclaimed.ID != stored.ID || string(reclaimed.Payload) != string(event.Payload) {
		t.Fatalf("unexpected reclaimed row %+v err=%v", reclaimed, err)
	}
	inserted, err = events.Insert(ctx, event)
	if err != nil || inserted {
		t.Fatalf("expected reclaimed row to dedupe again, inserted=%v err=%v", inserted, err)
	}
}

func TestNotificationJobStore_MergeClaimAndRetry(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	program := seedProgram(t, factory)
	participant := seedParticipant(t, factory, program.ID, 42)
	jobs := factory.NotificationJobs()
	now := time.Now().UTC().Truncate(time.Second)

	job, err := jobs.Insert(ctx, core.NotificationJob{
		ProgramID:             program.ID,
		ParticipantID:         participant.ID,
		ExternalParticipantID: 42,
		Before:                100,
		After:                 150,
		SourceEvents:          []string{"evt-1"},
		DueAt:                 now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}

	pending, err := jobs.FindPending(ctx, participant.ID, now)
	if err != nil || pending == nil || pending.ID != job.ID {
		t.Fatalf("expected pending job, got %+v err=%v", pending, err)
	}
	if err := jobs.MergeInto(ctx, job.ID, 175, "evt-2"); err != nil {
		t.Fatalf("merge job: %v", err)
	}

	early, err := jobs.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim before due: %v", err)
	}
	if len(early) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(early))
	}

	claimed, err := jobs.ClaimDue(ctx, now.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed job, got %d", len(claimed))
	}
	got := claimed[0]
	if got.Status != core.NotificationJobProcessing || got.Attempts != 1 {
		t.Fatalf("unexpected claimed job %+v", got)
	}
	if got.Before != 100 || got.After != 175 || len(got.SourceEvents) != 2 {
		t.Fatalf("expected merged delta, got %+v", got)
	}
	if err := jobs.MergeInto(ctx, job.ID, 200, "evt-3"); !core.IsNotFound(err) {
		t.Fatalf("expected merge into claimed job to fail, got %v", err)
	}

	if err := jobs.Retry(ctx, job.ID, fmt.Errorf("notifier unavailable"), now.Add(3*time.Minute), false); err != nil {
		t.Fatalf("retry job: %v", err)
	}
	retried, err := jobs.ClaimDue(ctx, now.Add(4*time.Minute), 10)
	if err != nil {
		t.Fatalf("claim retried: %v", err)
	}
	if len(retried) != 1 || retried[0].Attempts != 2 || retried[0].LastError != "notifier unavailable" {
		t.Fatalf("unexpected retried claim %+v", retried)
	}

	sentAt := now.Add(4 * time.Minute)
	if err := jobs.Complete(ctx, job.ID, core.NotificationJobSent, sentAt); err != nil {
		t.Fatalf("complete job: %v", err)
	}
	last, err := jobs.LastSent(ctx, participant.ID)
	if err != nil || last == nil {
		t.Fatalf("expected last sent time, got %v err=%v", last, err)
	}
	if !last.Equal(sentAt) {
		t.Fatalf("expected last sent %s, got %s", sentAt, last)
	}
	if err := jobs.Complete(ctx, "00000000-0000-0000-0000-000000000000", core.NotificationJobSent, sentAt); !core.IsNotFound(err) {
		t.Fatalf("expected not found completing unknown job, got %v", err)
	}
}

func TestDiagnosticLogStore_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)

	for i, status := range []string{"ok", "warn"} {
		if err := factory.Diagnostics().Append(ctx, core.DiagnosticEntry{
			Status:    status,
			Warnings:  i,
			Report:    map[string]any{"status": status},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append diagnostic: %v", err)
		}
	}
	recent, err := factory.Diagnostics().Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent diagnostics: %v", err)
	}
	if len(recent) != 1 || recent[0].Status != "warn" || recent[0].Report["status"] != "warn" {
		t.Fatalf("expected newest diagnostic first, got %+v", recent)
	}
}

func TestCapabilityProbe_ReportsMigratedColumns(t *testing.T) {
	factory := newFactory(t)
	capabilities, err := factory.Capabilities().Capabilities(context.Background())
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	for _, name := range []string{
		sqlstore.CapabilityParticipantProfile,
		sqlstore.CapabilityPassGoogleObjectID,
		sqlstore.CapabilityPassDeviceTokens,
		sqlstore.CapabilityNotificationJobs,
		sqlstore.CapabilityDiagnosticRuns,
		sqlstore.CapabilityWebhookEventPayload,
	} {
		if !capabilities[name] {
			t.Fatalf("expected capability %s, got %+v", name, capabilities)
		}
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)

	cipher, err := security.NewCredentialCipherFromString("integration-test-key")
	if err != nil {
		t.Fatalf("new credential cipher: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(cipher))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func seedProgram(t *testing.T, factory *sqlstore.RepositoryFactory) core.Program {
	t.Helper()
	program, err := factory.Programs().Upsert(context.Background(), core.UpsertProgramInput{ExternalID: 1, Name: "Seed Program", APICredential: "key"})
	if err != nil {
		t.Fatalf("seed program: %v", err)
	}
	return program
}

func seedParticipant(t *testing.T, factory *sqlstore.RepositoryFactory, programID string, externalID core.ExternalParticipantID) core.Participant {
	t.Helper()
	participant, err := factory.Participants().Save(context.Background(), core.Participant{
		ProgramID:  programID,
		ExternalID: externalID,
		Email:      fmt.Sprintf("member-%d@example.com", externalID),
		Points:     100,
	})
	if err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	return participant
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:walletsync-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	err = migrations.Register(migrations.DialectSQLite, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
