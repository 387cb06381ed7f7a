package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/matrix-outbox/internal/domain"
)

// Matrix identifiers are at most 255 bytes.
const maxIdentifierLength = 255

// pathIdentifier extracts a percent-decoded Matrix identifier from the URL
// path and checks its sigil.
func pathIdentifier(r *http.Request, paramName string, sigil byte) (string, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not a valid path segment", domain.ErrInvalidID, paramName)
	}
	if len(id) > maxIdentifierLength || id[0] != sigil || strings.ContainsAny(id, "/ \t\n") {
		return "", fmt.Errorf("%w: %s must start with %q", domain.ErrInvalidID, paramName, sigil)
	}
	return id, nil
}

func roomIDParam(r *http.Request) (string, error) {
	return pathIdentifier(r, "roomID", '!')
}

func eventIDParam(r *http.Request) (string, error) {
	return pathIdentifier(r, "eventID", '$')
}
