package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/install"
	"github.com/goliatone/go-walletsync/query"
	"github.com/goliatone/go-walletsync/reconcile"
	"github.com/goliatone/go-walletsync/signing"
	"github.com/goliatone/go-walletsync/store/memory"
	"github.com/goliatone/go-walletsync/webhooks"
)

const (
	testPassType     = "pass.com.example.loyalty"
	testDeviceSecret = "device-secret"
	testAdminSecret  = "admin-secret"
)

type offlineUpstream struct{}

// FetchParticipant fails for the known participant so webhooks fall back to
// their payload, and reports every other id as missing upstream.
func (offlineUpstream) FetchParticipant(_ context.Context, _ core.Program, id core.ExternalParticipantID) (core.UpstreamParticipant, error) {
	if id == 42 {
		return core.UpstreamParticipant{}, core.ProviderError("perk", errors.New("connection refused"), "upstream unavailable")
	}
	return core.UpstreamParticipant{}, core.NotFoundError("participant", "participant not found upstream")
}

type fakeSigner struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSigner) Provider() core.WalletProvider { return core.WalletProviderApple }

func (s *fakeSigner) Sign(_ context.Context, req signing.Request) (signing.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	serial := req.Serial
	if serial == "" {
		serial = fmt.Sprintf("serial-%d", s.calls)
	}
	return signing.Artifact{Provider: core.WalletProviderApple, Identifier: serial, Bytes: []byte("PK-" + serial), ContentHash: "blake3:test"}, nil
}

type stubRunner struct {
	report doctor.Report
}

func (s stubRunner) Run(context.Context, doctor.Options) doctor.Report {
	return s.report
}

type fixture struct {
	stores  *memory.Stores
	signer  *fakeSigner
	server  *httptest.Server
	program core.Program
}

func newFixture(t *testing.T, report doctor.Report, overrides ...func(*Dependencies)) *fixture {
	t.Helper()
	ctx := context.Background()
	stores := memory.NewStores()
	program, err := stores.Programs.Upsert(ctx, core.UpsertProgramInput{ExternalID: 7, Name: "Example Coffee"})
	if err != nil {
		t.Fatalf("seed program: %v", err)
	}

	signer := &fakeSigner{}
	issuer := install.NewIssuer(stores.Passes, signing.NewRegistry(signer), install.WithLookups(stores.Programs, stores.Participants))
	reconciler := reconcile.New(offlineUpstream{}, stores.Participants)
	resolver := install.NewResolver(stores.Programs, stores.Participants, issuer,
		install.WithParticipantSource(reconciler),
		install.WithPublicBaseURL("https://wallet.example.com"),
	)
	processor := webhooks.NewProcessor(stores.Programs, webhooks.NewLedger(stores.Events), reconciler)
	processor.Events = stores.Events
	processor.Refresher = issuer
	deviceService := devices.NewService(stores.Passes, testDeviceSecret, testPassType)

	deps := Dependencies{
		IngestWebhook:     command.NewIngestWebhookCommand(processor),
		ReplayWebhook:     command.NewReplayWebhookCommand(processor),
		InstallPasses:     command.NewInstallPassesCommand(resolver),
		RegisterDevice:    command.NewRegisterDeviceCommand(deviceService),
		UnregisterDevice:  command.NewUnregisterDeviceCommand(deviceService),
		RunDiagnostics:    command.NewRunDiagnosticsCommand(stubRunner{report: report}),
		UpdatedSerials:    query.NewUpdatedSerialsQuery(deviceService),
		PassArtifact:      query.NewPassArtifactQuery(issuer),
		RecentDiagnostics: query.NewRecentDiagnosticsQuery(stores.Diagnostics),
		Devices:           deviceService,
		AdminSecret:       testAdminSecret,
	}
	for _, override := range overrides {
		override(&deps)
	}
	server := httptest.NewServer(NewHandler(deps).Router())
	t.Cleanup(server.Close)
	return &fixture{stores: stores, signer: signer, server: server, program: program}
}

func (f *fixture) do(t *testing.T, method string, path string, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

const pointsUpdated = `{"event":"participant_points_updated","data":{"participant":{"id":42,"email":"a@b.com","points":100,"unused_points":40}}}`

func (f *fixture) installLoyalty(t *testing.T) install.Result {
	t.Helper()
	resp := f.do(t, http.MethodGet, "/install/7/42/loyalty", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected install 200, got %d", resp.StatusCode)
	}
	return decode[install.Result](t, resp)
}

func TestWebhookThenInstallScenario(t *testing.T) {
	f := newFixture(t, doctor.Report{})

	resp := f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected webhook 200, got %d", resp.StatusCode)
	}
	ack := decode[webhookResponse](t, resp)
	if !ack.OK || ack.Status != webhooks.StatusProcessed || ack.ParticipantID != 42 {
		t.Fatalf("unexpected webhook response %+v", ack)
	}

	first := f.installLoyalty(t)
	if !first.OK || len(first.Installed) != 1 || first.Participant != 42 {
		t.Fatalf("unexpected install result %+v", first)
	}
	if first.Installed[0].Version != 1 || first.Installed[0].State != install.StatePassAbsent {
		t.Fatalf("expected fresh pass at version 1, got %+v", first.Installed[0])
	}

	second := f.installLoyalty(t)
	if second.Installed[0].Version != 1 || second.Installed[0].State != install.StatePassCurrent {
		t.Fatalf("expected current pass at version 1, got %+v", second.Installed[0])
	}

	participant, err := f.stores.Participants.FindByExternalID(context.Background(), f.program.ID, 42)
	if err != nil || participant == nil {
		t.Fatalf("expected participant row, err=%v", err)
	}
	if participant.Points != 100 || participant.UnusedPoints != 40 {
		t.Fatalf("unexpected participant balances %+v", participant)
	}
	rows, err := f.stores.Passes.ListByParticipant(context.Background(), participant.ID)
	if err != nil || len(rows) != 1 || rows[0].Version != 1 {
		t.Fatalf("expected one pass row at version 1, got %+v err=%v", rows, err)
	}
}

func TestWebhookDuplicateDeliveryIsSuccess(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)

	resp := f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected duplicate to acknowledge with 200, got %d", resp.StatusCode)
	}
	ack := decode[webhookResponse](t, resp)
	if ack.Status != webhooks.StatusDuplicate {
		t.Fatalf("expected duplicate status, got %q", ack.Status)
	}
	if f.stores.Events.Len() != 1 {
		t.Fatalf("expected one webhook event row, got %d", f.stores.Events.Len())
	}
}

func TestWebhookRejectsUnknownEvent(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	resp := f.do(t, http.MethodPost, "/webhooks/7", `{"event":"participant_deleted","data":{"participant":{"id":1,"email":"x@y.com"}}}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", resp.StatusCode)
	}
	envelope := decode[core.ErrorEnvelope](t, resp)
	if envelope.OK || envelope.Error != "validation" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestWebhookSignatureRequiredWhenSecretSet(t *testing.T) {
	verifier := webhooks.NewSignatureVerifier("whsec")
	f := newFixture(t, doctor.Report{}, func(deps *Dependencies) { deps.WebhookVerifier = verifier })

	unsigned := f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)
	if unsigned.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unsigned webhook to be rejected, got %d", unsigned.StatusCode)
	}
	if f.stores.Events.Len() != 0 {
		t.Fatalf("expected rejected webhook to leave no event row")
	}

	signed := f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, map[string]string{
		webhooks.SignatureHeader: "sha256=" + verifier.Sign([]byte(pointsUpdated)),
	})
	if signed.StatusCode != http.StatusOK {
		t.Fatalf("expected signed webhook to be accepted, got %d", signed.StatusCode)
	}
}

func TestInstallErrorEnvelopes(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	cases := []struct {
		path   string
		status int
		code   string
	}{
		{path: "/install/7/42/boarding", status: http.StatusBadRequest, code: install.CodeInvalidScope},
		{path: "/install/7/not-a-number/loyalty", status: http.StatusBadRequest, code: install.CodeInvalidScope},
		{path: "/install/7/999/loyalty", status: http.StatusNotFound, code: install.CodeParticipantNotFound},
		{path: "/install/404/42/loyalty", status: http.StatusNotFound, code: install.CodeParticipantNotFound},
	}
	for _, tc := range cases {
		resp := f.do(t, http.MethodGet, tc.path, "", nil)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
		envelope := decode[install.ErrorEnvelope](t, resp)
		if envelope.OK || envelope.Error != tc.code {
			t.Fatalf("%s: unexpected envelope %+v", tc.path, envelope)
		}
	}
}

func TestDeviceRegistrationLifecycle(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)
	serial := f.installLoyalty(t).Installed[0].AppleSerial
	path := "/wallet/v1/devices/device-1/registrations/" + testPassType + "/" + serial
	authHeader := map[string]string{"Authorization": "ApplePass " + testDeviceSecret}

	if resp := f.do(t, http.MethodPost, path, `{"pushToken":"tok-1"}`, map[string]string{"Authorization": "ApplePass wrong"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad secret, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, path, `{"pushToken":"tok-1"}`, authHeader); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on first registration, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, path, `{"pushToken":"tok-2"}`, authHeader); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on token replacement, got %d", resp.StatusCode)
	}
	pass, err := f.stores.Passes.FindBySerial(context.Background(), serial)
	if err != nil || pass == nil {
		t.Fatalf("expected pass by serial, err=%v", err)
	}
	if len(pass.DeviceTokens) != 1 || pass.DeviceTokens[0].PushToken != "tok-2" {
		t.Fatalf("expected one token for the device, got %+v", pass.DeviceTokens)
	}

	unknown := "/wallet/v1/devices/device-1/registrations/" + testPassType + "/missing-serial"
	if resp := f.do(t, http.MethodPost, unknown, `{"pushToken":"tok-3"}`, authHeader); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected success shaped response for unknown serial, got %d", resp.StatusCode)
	}

	listing := f.do(t, http.MethodGet, "/wallet/v1/devices/device-1/registrations/"+testPassType, "", nil)
	if listing.StatusCode != http.StatusOK {
		t.Fatalf("expected serial listing, got %d", listing.StatusCode)
	}
	serials := decode[updatedSerialsResponse](t, listing)
	if len(serials.SerialNumbers) != 1 || serials.SerialNumbers[0] != serial || serials.LastUpdated == "" {
		t.Fatalf("unexpected serial listing %+v", serials)
	}
	later := f.do(t, http.MethodGet, "/wallet/v1/devices/device-1/registrations/"+testPassType+"?passesUpdatedSince="+serials.LastUpdated, "", nil)
	if later.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 when nothing changed since the tag, got %d", later.StatusCode)
	}

	if resp := f.do(t, http.MethodDelete, path, "", authHeader); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on unregister, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, path, "", authHeader); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected idempotent unregister, got %d", resp.StatusCode)
	}
	pass, _ = f.stores.Passes.FindBySerial(context.Background(), serial)
	if len(pass.DeviceTokens) != 0 {
		t.Fatalf("expected device tokens cleared, got %+v", pass.DeviceTokens)
	}
}

func TestLatestPassAndDownload(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil)
	serial := f.installLoyalty(t).Installed[0].AppleSerial
	authHeader := map[string]string{"Authorization": "ApplePass " + testDeviceSecret}
	path := "/wallet/v1/passes/" + testPassType + "/" + serial

	if resp := f.do(t, http.MethodGet, path, "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without device auth, got %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, path, "", authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected latest pass, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != pkpassContentType || resp.Header.Get("Last-Modified") == "" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}

	conditional := map[string]string{
		"Authorization":     "ApplePass " + testDeviceSecret,
		"If-Modified-Since": time.Now().Add(time.Hour).UTC().Format(http.TimeFormat),
	}
	if resp := f.do(t, http.MethodGet, path, "", conditional); resp.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304 for unchanged pass, got %d", resp.StatusCode)
	}

	download := f.do(t, http.MethodGet, "/passes/"+serial+".pkpass", "", nil)
	if download.StatusCode != http.StatusOK {
		t.Fatalf("expected download, got %d", download.StatusCode)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(download.Body)
	if body.String() != "PK-"+serial {
		t.Fatalf("unexpected artifact bytes %q", body.String())
	}
	if missing := f.do(t, http.MethodGet, "/passes/nope.pkpass", "", nil); missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown serial, got %d", missing.StatusCode)
	}
}

func TestDiagnosticsGate(t *testing.T) {
	healthy := newFixture(t, doctor.Report{Status: doctor.StatusOK})
	if resp := healthy.do(t, http.MethodGet, "/admin/diagnostics", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin secret, got %d", resp.StatusCode)
	}
	admin := map[string]string{"Authorization": "Bearer " + testAdminSecret}
	if resp := healthy.do(t, http.MethodGet, "/admin/diagnostics", "", admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for healthy report, got %d", resp.StatusCode)
	}

	failing := newFixture(t, doctor.Report{Status: doctor.StatusFail, Failures: 1})
	resp := failing.do(t, http.MethodGet, "/admin/diagnostics", "", admin)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for failing report, got %d", resp.StatusCode)
	}
	report := decode[doctor.Report](t, resp)
	if report.Failures != 1 {
		t.Fatalf("expected report body, got %+v", report)
	}
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	handler := NewHandler(Dependencies{})
	server := httptest.NewServer(handler.Router())
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/admin/diagnostics")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected admin routes to be disabled, got %d", resp.StatusCode)
	}
}

func TestReplayWebhookReprocessesStoredPayload(t *testing.T) {
	f := newFixture(t, doctor.Report{})
	ack := decode[webhookResponse](t, f.do(t, http.MethodPost, "/webhooks/7", pointsUpdated, nil))

	admin := map[string]string{"Authorization": "Bearer " + testAdminSecret}
	resp := f.do(t, http.MethodPost, "/admin/webhooks/"+ack.Fingerprint+"/replay", "", admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected replay 200, got %d", resp.StatusCode)
	}
	replayed := decode[webhookResponse](t, resp)
	if replayed.Status != webhooks.StatusReplayed || replayed.ParticipantID != 42 {
		t.Fatalf("unexpected replay result %+v", replayed)
	}
	if missing := f.do(t, http.MethodPost, "/admin/webhooks/sha256:none/replay", "", admin); missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown fingerprint, got %d", missing.StatusCode)
	}
}

func TestParseUpdatedSince(t *testing.T) {
	if since, err := parseUpdatedSince(""); err != nil || since != nil {
		t.Fatalf("expected nil for empty tag")
	}
	since, err := parseUpdatedSince("1700000000")
	if err != nil || since.Unix() != 1700000000 {
		t.Fatalf("expected unix seconds, got %v err=%v", since, err)
	}
	if _, err := parseUpdatedSince("yesterday"); err == nil {
		t.Fatalf("expected validation error")
	}
}
