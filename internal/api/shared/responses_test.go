package shared

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestWithLogger returns a request whose context carries a trace id and
// a debug-level logger writing into the returned builder.
func requestWithLogger(t *testing.T) (*http.Request, *strings.Builder) {
	t.Helper()
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	ctx := logger.WithLogger(WithTraceID(req.Context(), "test-trace-id"), log)
	return req.WithContext(ctx), &buf
}

func TestRespondWithJSON(t *testing.T) {
	req, _ := requestWithLogger(t)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusAccepted, map[string]any{"pending": 2})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"pending":2}`, w.Body.String())
}

func TestRespondWithJSON_EncodingError(t *testing.T) {
	req, logs := requestWithLogger(t)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusOK, math.Inf(1))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), "failed to encode JSON response")
}

func TestRespondWithError(t *testing.T) {
	req, _ := requestWithLogger(t)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusNotFound, "Local echo not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrorResponse{Error: "Local echo not found", TraceID: "test-trace-id"}, body)
}

func TestRespondWithError_NoTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusBadRequest, "Bad request")

	assert.NotContains(t, w.Body.String(), "trace_id")
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		elevate  bool
		wantLvl  string
		errInput error
	}{
		{"server error", http.StatusInternalServerError, false, "level=ERROR", errors.New("badger: closed")},
		{"client error", http.StatusBadRequest, false, "level=DEBUG", errors.New("invalid input")},
		{"elevated client error", http.StatusUnauthorized, true, "level=WARN", errors.New("bad signature")},
		{"rate limited", http.StatusTooManyRequests, false, "level=WARN", errors.New("slow down")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, logs := requestWithLogger(t)
			w := httptest.NewRecorder()

			var opts []ResponseOption
			if tc.elevate {
				opts = append(opts, WithElevatedLogLevel())
			}
			RespondWithErrorAndLog(w, req, tc.status, "Something failed", tc.errInput, opts...)

			assert.Equal(t, tc.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "Something failed", body.Error)
			assert.Equal(t, "test-trace-id", body.TraceID)

			out := logs.String()
			assert.Contains(t, out, tc.wantLvl)
			assert.Contains(t, out, "error_type=")
			assert.NotContains(t, w.Body.String(), tc.errInput.Error())
		})
	}
}

func TestRespondWithErrorAndLog_RedactsSecrets(t *testing.T) {
	req, logs := requestWithLogger(t)
	w := httptest.NewRecorder()

	err := errors.New("homeserver rejected access_token=syt_dXNlcg_abcdefghijklmnop_123456")
	RespondWithErrorAndLog(w, req, http.StatusInternalServerError, "Internal error", err)

	assert.NotContains(t, logs.String(), "syt_dXNlcg_abcdefghijklmnop_123456")
}
