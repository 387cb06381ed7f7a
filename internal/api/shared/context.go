package shared

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by the API layer.
type ContextKey string

const (
	// SubjectContextKey holds the subject of the validated bearer token.
	SubjectContextKey ContextKey = "subject"

	// TraceIDKey holds the trace id of the request.
	TraceIDKey ContextKey = "traceID"

	// TraceIDHeader carries a caller supplied trace id in, and the effective
	// trace id out.
	TraceIDHeader = "X-Trace-ID"

	// MaxTraceIDLength bounds caller supplied trace ids.
	MaxTraceIDLength = 64
)

// NewTraceID returns a random 32 character hex trace id.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SetTraceID adds a fresh trace id to ctx.
func SetTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// WithTraceID adds traceID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from ctx, or "" when there is none.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// IsValidTraceID reports whether a caller supplied trace id may be reused.
// Only short ids made of letters, digits, '-' and '_' are accepted so they
// are safe to echo into logs and headers.
func IsValidTraceID(s string) bool {
	if s == "" || len(s) > MaxTraceIDLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// WithSubject adds the authenticated token subject to ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}

// GetSubject returns the authenticated token subject stored in ctx.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok && subject != ""
}
