package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-walletsync/auth"
	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/query"
	"github.com/goliatone/go-walletsync/webhooks"
)

const defaultMaxBodyBytes = 1 << 20

// DeviceGate authenticates device callbacks and looks up the pass behind a
// serial without signing anything.
type DeviceGate interface {
	Authorize(header string) error
	Lookup(ctx context.Context, passTypeIdentifier string, serial string) (*core.Pass, error)
}

type Dependencies struct {
	IngestWebhook     *command.IngestWebhookCommand
	ReplayWebhook     *command.ReplayWebhookCommand
	InstallPasses     *command.InstallPassesCommand
	RegisterDevice    *command.RegisterDeviceCommand
	UnregisterDevice  *command.UnregisterDeviceCommand
	RunDiagnostics    *command.RunDiagnosticsCommand
	UpdatedSerials    *query.UpdatedSerialsQuery
	PassArtifact      *query.PassArtifactQuery
	RecentDiagnostics *query.RecentDiagnosticsQuery
	Devices           DeviceGate
	// WebhookVerifier checks inbound webhook signatures. Nil accepts all.
	WebhookVerifier *webhooks.SignatureVerifier

	// AdminSecret gates the admin routes. Empty disables them.
	AdminSecret  string
	MaxBodyBytes int64
	Telemetry    core.Telemetry
}

type Handler struct {
	deps Dependencies
}

func NewHandler(deps Dependencies) *Handler {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	deps.AdminSecret = strings.TrimSpace(deps.AdminSecret)
	return &Handler{deps: deps}
}

// Router builds a chi router with the common middleware stack and every
// walletsync route mounted.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.requestLog)
	h.Routes(r)
	return r
}

// Routes mounts the walletsync routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Post("/webhooks/{program}", h.IngestWebhook)

	r.Get("/install/{program}/{participant}/{kind}", h.Install)
	r.Get("/install/{program}/{participant}/{kind}/{resourceType}/{resourceID}", h.Install)
	r.Get("/passes/{serial}.pkpass", h.DownloadPass)

	r.Route("/wallet/v1", func(r chi.Router) {
		r.Post("/devices/{device}/registrations/{passType}/{serial}", h.RegisterDevice)
		r.Delete("/devices/{device}/registrations/{passType}/{serial}", h.UnregisterDevice)
		r.Get("/devices/{device}/registrations/{passType}", h.UpdatedSerials)
		r.Get("/passes/{passType}/{serial}", h.LatestPass)
		r.Post("/log", h.DeviceLog)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/diagnostics", h.Diagnostics)
		r.Get("/diagnostics/recent", h.RecentDiagnostics)
		r.Post("/webhooks/{fingerprint}/replay", h.ReplayWebhook)
	})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.AdminSecret == "" {
			writeError(w, core.NotFoundError("route", "admin routes are disabled"))
			return
		}
		if !auth.MatchScheme(r.Header.Get("Authorization"), "Bearer", h.deps.AdminSecret) {
			writeError(w, core.UnauthorizedError("admin secret required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		fields := map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			h.deps.Telemetry.LogError(r.Context(), "http request failed", fields)
			return
		}
		h.deps.Telemetry.LogInfo(r.Context(), "http request", fields)
	})
}
