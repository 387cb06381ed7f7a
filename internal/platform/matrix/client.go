package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/task"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// DefaultRequestTimeout bounds a single homeserver request when the caller
// supplies no HTTP client.
const DefaultRequestTimeout = 30 * time.Second

// Encrypter turns a cleartext event into its m.room.encrypted form.
type Encrypter interface {
	Encrypt(ctx context.Context, roomID, eventType string, content json.RawMessage) (encryptedType string, encrypted json.RawMessage, err error)
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver (e.g., "https://matrix.example.org").
	HomeserverURL string
	// AccessToken authenticates every request.
	AccessToken string
	// HTTPClient is used for all requests. If nil, a client with
	// DefaultRequestTimeout is used.
	HTTPClient *http.Client
	// Encrypter is used for events of encrypted rooms. If nil, such events
	// fail permanently.
	Encrypter Encrypter
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client sends events for one authenticated session. It implements
// task.RemoteSender.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	encrypter   Encrypter
	logger      *slog.Logger
}

var _ task.RemoteSender = (*Client)(nil)

// SendEventResponse is the body of a successful send or redact request.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("matrix: AccessToken is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		encrypter:   config.Encrypter,
		logger:      logger.With("component", "matrix_client"),
	}, nil
}

// SendEvent sends echo to its room. The local echo id is the transaction id,
// so a retried send after a lost response does not duplicate the event.
func (c *Client) SendEvent(ctx context.Context, echo *domain.LocalEcho, encrypt bool) (string, error) {
	eventType := echo.Type
	content := echo.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	if encrypt {
		if c.encrypter == nil {
			return "", &task.UnretryableError{Err: ErrEncryptionUnavailable}
		}
		encryptedType, encrypted, err := c.encrypter.Encrypt(ctx, echo.RoomID, eventType, content)
		if err != nil {
			return "", fmt.Errorf("matrix: failed to encrypt event: %w", err)
		}
		eventType, content = encryptedType, encrypted
	}

	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(echo.RoomID),
		url.PathEscape(eventType),
		url.PathEscape(echo.EventID),
	)

	var response SendEventResponse
	if err := c.doRequest(ctx, http.MethodPut, path, content, &response); err != nil {
		return "", err
	}
	return response.EventID, nil
}

// Redact redacts targetEventID in roomID.
func (c *Client) Redact(ctx context.Context, txnID, targetEventID, roomID, reason string) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/%s",
		url.PathEscape(roomID),
		url.PathEscape(targetEventID),
		url.PathEscape(txnID),
	)

	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}

	var response SendEventResponse
	if err := c.doRequest(ctx, http.MethodPut, path, body, &response); err != nil {
		return "", err
	}
	return response.EventID, nil
}

// doRequest performs an authenticated request and decodes a 2xx body into
// out. Failures are returned classified for the send queue; a cancelled ctx
// is returned as is.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody, out any) error {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return &task.UnretryableError{Err: fmt.Errorf("matrix: failed to encode request body: %w", err)}
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return &task.UnretryableError{Err: fmt.Errorf("matrix: failed to create request: %w", err)}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.accessToken)

	startTime := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("homeserver request failed",
			"method", method,
			"path", path,
			"error", err)
		return &task.ConnectivityError{Err: fmt.Errorf("matrix: request to %s %s failed: %w", method, path, err)}
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return &task.ConnectivityError{Err: fmt.Errorf("matrix: failed to read response body: %w", err)}
	}

	c.logger.Debug("homeserver request completed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"duration_ms", time.Since(startTime).Milliseconds())

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return classify(parseError(response, responseBody))
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return &task.UnretryableError{Err: fmt.Errorf("matrix: failed to parse response: %w", err)}
	}
	return nil
}
