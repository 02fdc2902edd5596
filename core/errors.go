package core

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorValidation    = "WALLET_VALIDATION"
	ErrorNotFound      = "WALLET_NOT_FOUND"
	ErrorProvider      = "WALLET_PROVIDER_ERROR"
	ErrorConfiguration = "WALLET_CONFIGURATION"
	ErrorUnauthorized  = "WALLET_UNAUTHORIZED"
	ErrorInternal      = "WALLET_INTERNAL_ERROR"
	ErrorRateLimited   = "WALLET_RATE_LIMITED"
)

// Metadata keys attached to taxonomy errors.
const (
	MetadataField       = "field"
	MetadataMissingItem = "missing"
	MetadataProvider    = "provider"
	MetadataEntity      = "entity"
	MetadataRetryAfter  = "retry_after_ms"
)

func ValidationError(field string, message string) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidation)
	if field = strings.TrimSpace(field); field != "" {
		err.WithMetadata(map[string]any{MetadataField: field})
	}
	return err
}

func WrapValidation(source error, field string, message string) *goerrors.Error {
	if source == nil {
		return ValidationError(field, message)
	}
	err := goerrors.Wrap(source, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidation)
	if field = strings.TrimSpace(field); field != "" {
		err.WithMetadata(map[string]any{MetadataField: field})
	}
	return err
}

func NotFoundError(entity string, message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorNotFound).
		WithMetadata(map[string]any{MetadataEntity: strings.TrimSpace(entity)})
}

func ProviderError(provider string, source error, message string) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryExternal, message)
	}
	return err.
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorProvider).
		WithMetadata(map[string]any{MetadataProvider: strings.TrimSpace(provider)})
}

func ConfigurationError(missing string, message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorConfiguration).
		WithMetadata(map[string]any{MetadataMissingItem: strings.TrimSpace(missing)})
}

func UnauthorizedError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(ErrorUnauthorized)
}

// RateLimitedError reports an outbound call refused locally because the
// provider asked callers to back off.
func RateLimitedError(provider string, retryAfter time.Duration, message string) *goerrors.Error {
	metadata := map[string]any{MetadataProvider: strings.TrimSpace(provider)}
	if retryAfter > 0 {
		metadata[MetadataRetryAfter] = retryAfter.Milliseconds()
	}
	return goerrors.New(message, goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ErrorRateLimited).
		WithMetadata(metadata)
}

func InternalError(source error, message string) *goerrors.Error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorInternal)
	}
	return goerrors.Wrap(source, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

func IsValidation(err error) bool {
	return hasTextCode(err, ErrorValidation)
}

func IsNotFound(err error) bool {
	return hasTextCode(err, ErrorNotFound)
}

func IsProvider(err error) bool {
	return hasTextCode(err, ErrorProvider)
}

func IsConfiguration(err error) bool {
	return hasTextCode(err, ErrorConfiguration)
}

func IsUnauthorized(err error) bool {
	return hasTextCode(err, ErrorUnauthorized)
}

func IsRateLimited(err error) bool {
	return hasTextCode(err, ErrorRateLimited)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

// ErrorEnvelope is the JSON error body returned to HTTP callers.
type ErrorEnvelope struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToEnvelope maps any error to a status code and a stable envelope; unknown
// errors become internal errors so raw causes are never echoed.
func ToEnvelope(err error) (int, ErrorEnvelope) {
	if err == nil {
		return http.StatusOK, ErrorEnvelope{OK: true}
	}
	rich := MapError(err)
	status := rich.Code
	if status == 0 {
		status = statusForCategory(rich.Category)
	}
	envelope := ErrorEnvelope{
		OK:     false,
		Error:  strings.ToLower(strings.TrimPrefix(rich.TextCode, "WALLET_")),
		Detail: rich.Message,
	}
	if rich.Category == goerrors.CategoryInternal && rich.TextCode != ErrorConfiguration {
		envelope.Detail = "An unexpected error occurred"
	}
	if len(rich.Metadata) > 0 {
		envelope.Metadata = cloneFields(rich.Metadata)
	}
	return status, envelope
}

func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if strings.TrimSpace(rich.TextCode) == "" {
			rich.TextCode = textCodeForCategory(rich.Category)
		}
		return rich
	}
	return InternalError(err, err.Error())
}

func textCodeForCategory(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryExternal:
		return ErrorProvider
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
