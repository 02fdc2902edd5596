package install

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-walletsync/core"
)

// Install error codes returned to visitors.
const (
	CodeInvalidScope        = "invalid_scope"
	CodeParticipantNotFound = "participant_not_found"
	CodeProviderError       = "provider_error"
)

const metadataState = "install_state"

type ErrorEnvelope struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func withState(err error, state State) error {
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		rich.WithMetadata(map[string]any{metadataState: string(state)})
	}
	return err
}

// StateOf reports the terminal state attached to a resolver error.
func StateOf(err error) State {
	var rich *goerrors.Error
	if !errors.As(err, &rich) {
		return ""
	}
	state, _ := rich.Metadata[metadataState].(string)
	return State(state)
}

// Envelope maps a resolver error onto the closed install error set. Anything
// that is neither bad input nor a missing entity is a provider error.
func Envelope(err error) (int, ErrorEnvelope) {
	rich := core.MapError(err)
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest, ErrorEnvelope{Error: CodeInvalidScope, Detail: rich.Message}
	case core.IsNotFound(err):
		return http.StatusNotFound, ErrorEnvelope{Error: CodeParticipantNotFound, Detail: rich.Message}
	case core.IsProvider(err), core.IsRateLimited(err), core.IsConfiguration(err):
		return http.StatusBadGateway, ErrorEnvelope{Error: CodeProviderError, Detail: rich.Message}
	default:
		return http.StatusBadGateway, ErrorEnvelope{Error: CodeProviderError, Detail: "provider call failed"}
	}
}
