package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/matrix-outbox/internal/api/shared"
	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/service"
	"github.com/phrazzld/matrix-outbox/internal/service/auth"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/phrazzld/matrix-outbox/internal/task"
)

// MapErrorToStatusCode maps service and store errors to HTTP status codes.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongSession),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrLocalEchoNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, service.ErrNotPending),
		errors.Is(err, service.ErrNotUndelivered),
		errors.Is(err, service.ErrAlreadyQueued),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, task.ErrNotSendable),
		errors.Is(err, task.ErrNotRedaction),
		errors.Is(err, shared.ErrEmptyBody):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrQueueStopped),
		errors.Is(err, store.ErrStoreClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client facing message for err that never
// includes internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrWrongSession),
		errors.Is(err, auth.ErrMissingToken):
		return "Invalid token"

	case errors.Is(err, service.ErrLocalEchoNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Local echo not found"

	case errors.Is(err, service.ErrNotPending):
		return "Local echo is not pending"
	case errors.Is(err, service.ErrNotUndelivered):
		return "Only undelivered local echoes can be resent"
	case errors.Is(err, service.ErrAlreadyQueued):
		return "Local echo is already queued"
	case errors.Is(err, store.ErrDuplicate):
		return "Local echo already exists"

	case errors.Is(err, task.ErrNotSendable):
		return "Redactions must be sent through the redact endpoint"
	case errors.Is(err, task.ErrNotRedaction):
		return "Local echo is not a redaction"
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid identifier"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid event"

	case errors.Is(err, service.ErrQueueStopped),
		errors.Is(err, store.ErrStoreClosed):
		return "Send queue is not running"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message that
// names the offending JSON field without echoing its value.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		if errors.Is(err, domain.ErrValidation) {
			return "Validation error: " + strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		}
		return "Validation error"
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag())))
	}
	return strings.Join(messages, "; ")
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "startswith":
		return "must be an event id"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
