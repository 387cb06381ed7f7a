package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/task"
)

// MatrixError represents a structured error response from the homeserver.
// Callers can use errors.As to extract it from the errors returned by Client.
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_UNKNOWN_TOKEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// RetryAfterMS is the delay requested with M_LIMIT_EXCEEDED.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken  = "M_MISSING_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeTooLarge      = "M_TOO_LARGE"
)

// ErrEncryptionUnavailable is returned when an event must be encrypted but
// the client has no Encrypter.
var ErrEncryptionUnavailable = errors.New("matrix: room is encrypted but no encrypter is configured")

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// parseError builds the error for a non-2xx response. Bodies that are not
// Matrix errors still yield a MatrixError carrying the status code.
func parseError(response *http.Response, body []byte) *MatrixError {
	var matrixErr MatrixError
	if err := json.Unmarshal(body, &matrixErr); err != nil || matrixErr.Code == "" {
		matrixErr = MatrixError{
			Code:    ErrCodeUnknown,
			Message: fmt.Sprintf("unexpected response: %s", truncate(string(body), 200)),
		}
	}
	matrixErr.StatusCode = response.StatusCode

	if matrixErr.RetryAfterMS == 0 {
		if seconds, err := strconv.Atoi(response.Header.Get("Retry-After")); err == nil && seconds > 0 {
			matrixErr.RetryAfterMS = int64(seconds) * 1000
		}
	}
	return &matrixErr
}

// classify wraps a homeserver error in the retry class the send queue acts on.
func classify(matrixErr *MatrixError) error {
	switch {
	case matrixErr.Code == ErrCodeLimitExceeded || matrixErr.StatusCode == http.StatusTooManyRequests:
		return &task.RateLimitedError{
			RetryAfter: time.Duration(matrixErr.RetryAfterMS) * time.Millisecond,
			Err:        matrixErr,
		}
	case matrixErr.Code == ErrCodeUnknownToken || matrixErr.Code == ErrCodeMissingToken:
		return &task.UnretryableError{Err: fmt.Errorf("%w: %w", task.ErrSessionInvalid, matrixErr)}
	case matrixErr.StatusCode == http.StatusBadGateway,
		matrixErr.StatusCode == http.StatusServiceUnavailable,
		matrixErr.StatusCode == http.StatusGatewayTimeout:
		// Something answered, so these spend the counted retry budget
		// instead of waiting on the network gate.
		return &task.RateLimitedError{
			RetryAfter: time.Duration(matrixErr.RetryAfterMS) * time.Millisecond,
			Err:        matrixErr,
		}
	default:
		return &task.UnretryableError{Err: matrixErr}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
