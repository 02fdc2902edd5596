package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/devices"
	"github.com/goliatone/go-walletsync/query"
)

const pkpassContentType = "application/vnd.apple.pkpass"

func (h *Handler) authorizeDevice(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Devices == nil {
		writeError(w, core.ConfigurationError("WALLETSYNC_APPLE_DEVICE_SECRET", "device web service is not configured"))
		return false
	}
	if err := h.deps.Devices.Authorize(r.Header.Get("Authorization")); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// RegisterDevice handles POST /wallet/v1/devices/{device}/registrations/{passType}/{serial}.
// Unknown serials answer 200 without touching storage.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDevice(w, r) {
		return
	}
	var body struct {
		PushToken string `json:"pushToken"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes)).Decode(&body); err != nil {
		writeError(w, core.WrapValidation(err, "body", "invalid JSON body"))
		return
	}
	outcome, err := execute[command.RegisterDeviceMessage, devices.RegisterOutcome](r.Context(), h.deps.RegisterDevice, command.RegisterDeviceMessage{
		Input: devices.RegisterInput{
			DeviceID:           chi.URLParam(r, "device"),
			PassTypeIdentifier: chi.URLParam(r, "passType"),
			Serial:             chi.URLParam(r, "serial"),
			PushToken:          body.PushToken,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome == devices.OutcomeCreated {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UnregisterDevice handles DELETE on the registration path.
func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDevice(w, r) {
		return
	}
	_, err := execute[command.UnregisterDeviceMessage, struct{}](r.Context(), h.deps.UnregisterDevice, command.UnregisterDeviceMessage{
		Input: devices.UnregisterInput{
			DeviceID:           chi.URLParam(r, "device"),
			PassTypeIdentifier: chi.URLParam(r, "passType"),
			Serial:             chi.URLParam(r, "serial"),
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type updatedSerialsResponse struct {
	SerialNumbers []string `json:"serialNumbers"`
	LastUpdated   string   `json:"lastUpdated"`
}

// UpdatedSerials handles GET /wallet/v1/devices/{device}/registrations/{passType}.
func (h *Handler) UpdatedSerials(w http.ResponseWriter, r *http.Request) {
	since, err := parseUpdatedSince(r.URL.Query().Get("passesUpdatedSince"))
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := ask[query.UpdatedSerialsMessage, query.UpdatedSerials](r.Context(), h.deps.UpdatedSerials, query.UpdatedSerialsMessage{
		DeviceID:           chi.URLParam(r, "device"),
		PassTypeIdentifier: chi.URLParam(r, "passType"),
		Since:              since,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(out.Serials) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, updatedSerialsResponse{
		SerialNumbers: out.Serials,
		LastUpdated:   out.LastUpdated.UTC().Format(time.RFC3339Nano),
	})
}

// parseUpdatedSince accepts the tag returned as lastUpdated, or unix seconds.
func parseUpdatedSince(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &parsed, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, core.WrapValidation(err, "passesUpdatedSince", "passesUpdatedSince must be a timestamp")
	}
	parsed := time.Unix(seconds, 0).UTC()
	return &parsed, nil
}

// LatestPass handles GET /wallet/v1/passes/{passType}/{serial}. A pass not
// synced after If-Modified-Since answers 304 without signing.
func (h *Handler) LatestPass(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeDevice(w, r) {
		return
	}
	passType := chi.URLParam(r, "passType")
	serial := chi.URLParam(r, "serial")
	pass, err := h.deps.Devices.Lookup(r.Context(), passType, serial)
	if err != nil {
		writeError(w, err)
		return
	}
	if pass == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if notModified(r, pass.LastSyncedAt) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.servePass(w, r, query.PassArtifactMessage{PassTypeIdentifier: passType, Serial: serial}, false)
}

// DownloadPass handles GET /passes/{serial}.pkpass, the link install visits
// hand out.
func (h *Handler) DownloadPass(w http.ResponseWriter, r *http.Request) {
	h.servePass(w, r, query.PassArtifactMessage{Serial: chi.URLParam(r, "serial")}, true)
}

func (h *Handler) servePass(w http.ResponseWriter, r *http.Request, msg query.PassArtifactMessage, attachment bool) {
	out, err := ask[query.PassArtifactMessage, query.PassArtifact](r.Context(), h.deps.PassArtifact, msg)
	if err != nil {
		h.deps.Telemetry.LogError(r.Context(), "pass artifact failed", map[string]any{"serial": msg.Serial, "error": err.Error()})
		writeError(w, err)
		return
	}
	if len(out.Artifact.Bytes) == 0 {
		writeError(w, core.ProviderError("apple", nil, "signer returned an empty artifact"))
		return
	}
	w.Header().Set("Content-Type", pkpassContentType)
	if out.Pass.LastSyncedAt != nil {
		w.Header().Set("Last-Modified", out.Pass.LastSyncedAt.UTC().Format(http.TimeFormat))
	}
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+out.Artifact.Identifier+`.pkpass"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Artifact.Bytes)
}

func notModified(r *http.Request, lastSynced *time.Time) bool {
	header := strings.TrimSpace(r.Header.Get("If-Modified-Since"))
	if header == "" || lastSynced == nil {
		return false
	}
	since, err := http.ParseTime(header)
	if err != nil {
		return false
	}
	return !lastSynced.UTC().Truncate(time.Second).After(since)
}

// DeviceLog handles POST /wallet/v1/log.
func (h *Handler) DeviceLog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Logs []string `json:"logs"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes)).Decode(&body); err != nil {
		writeError(w, core.WrapValidation(err, "body", "invalid JSON body"))
		return
	}
	for _, line := range body.Logs {
		h.deps.Telemetry.LogWarn(r.Context(), "wallet device log", map[string]any{"message": line})
	}
	w.WriteHeader(http.StatusOK)
}
