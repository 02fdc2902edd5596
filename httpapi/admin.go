package httpapi

import (
	"net/http"
	"strconv"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/doctor"
	"github.com/goliatone/go-walletsync/query"
)

// Diagnostics handles GET /admin/diagnostics. The status code reflects
// failures so CI can probe it directly.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	report, err := execute[command.RunDiagnosticsMessage, doctor.Report](r.Context(), h.deps.RunDiagnostics, command.RunDiagnosticsMessage{
		Options: doctor.Options{
			Verbose:    boolParam(params.Get("verbose")),
			SkipRoutes: boolParam(params.Get("skip_routes")),
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if report.HasFailures() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// RecentDiagnostics handles GET /admin/diagnostics/recent.
func (h *Handler) RecentDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, core.WrapValidation(err, "limit", "limit must be a number"))
			return
		}
		limit = parsed
	}
	entries, err := ask[query.RecentDiagnosticsMessage, []core.DiagnosticEntry](r.Context(), h.deps.RecentDiagnostics, query.RecentDiagnosticsMessage{Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": entries})
}

func boolParam(raw string) bool {
	value, err := strconv.ParseBool(raw)
	return err == nil && value
}
