package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/install"
)

// Install handles GET /install/{program}/{participant}/{kind} and its
// resource scoped variant. Failures always use the install error envelope.
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	result, err := execute[command.InstallPassesMessage, install.Result](r.Context(), h.deps.InstallPasses, command.InstallPassesMessage{
		Request: install.Request{
			ProgramRef:    chi.URLParam(r, "program"),
			ParticipantID: chi.URLParam(r, "participant"),
			Kind:          chi.URLParam(r, "kind"),
			ResourceType:  chi.URLParam(r, "resourceType"),
			ResourceID:    chi.URLParam(r, "resourceID"),
		},
	})
	if err != nil {
		status, envelope := install.Envelope(err)
		h.deps.Telemetry.LogWarn(r.Context(), "install visit failed", map[string]any{
			"program":     chi.URLParam(r, "program"),
			"participant": chi.URLParam(r, "participant"),
			"kind":        chi.URLParam(r, "kind"),
			"error":       envelope.Error,
			"state":       string(install.StateOf(err)),
		})
		writeJSON(w, status, envelope)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
