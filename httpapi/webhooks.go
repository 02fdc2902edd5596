package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goliatone/go-walletsync/command"
	"github.com/goliatone/go-walletsync/core"
	"github.com/goliatone/go-walletsync/webhooks"
)

type webhookResponse struct {
	OK            bool                       `json:"ok"`
	Status        webhooks.Status            `json:"status"`
	Event         webhooks.EventType         `json:"event"`
	Fingerprint   string                     `json:"fingerprint"`
	ParticipantID core.ExternalParticipantID `json:"participant_id"`
}

func newWebhookResponse(result webhooks.Result) webhookResponse {
	return webhookResponse{
		OK:            true,
		Status:        result.Status,
		Event:         result.Event,
		Fingerprint:   result.Fingerprint,
		ParticipantID: result.ExternalParticipantID,
	}
}

// IngestWebhook handles POST /webhooks/{program}. The raw body is passed on
// untouched so the fingerprint and signature cover the exact bytes received.
func (h *Handler) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes))
	if err != nil {
		writeError(w, core.WrapValidation(err, "body", "webhook body could not be read"))
		return
	}
	if err := h.deps.WebhookVerifier.Verify(r.Header, raw); err != nil {
		writeError(w, err)
		return
	}
	result, err := execute[command.IngestWebhookMessage, webhooks.Result](r.Context(), h.deps.IngestWebhook, command.IngestWebhookMessage{
		ProgramRef: chi.URLParam(r, "program"),
		Payload:    raw,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookResponse(result))
}

// ReplayWebhook handles POST /admin/webhooks/{fingerprint}/replay.
func (h *Handler) ReplayWebhook(w http.ResponseWriter, r *http.Request) {
	result, err := execute[command.ReplayWebhookMessage, webhooks.Result](r.Context(), h.deps.ReplayWebhook, command.ReplayWebhookMessage{
		Fingerprint: chi.URLParam(r, "fingerprint"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookResponse(result))
}
