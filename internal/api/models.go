package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
)

// SendEventRequest is the body of POST /v1/rooms/{roomID}/send/{eventType}.
type SendEventRequest struct {
	// Content is the event content, a JSON object.
	Content json.RawMessage `json:"content" validate:"required"`

	// Encrypt overrides the room's encryption state when set.
	Encrypt *bool `json:"encrypt,omitempty"`
}

// Validate checks that Content is a JSON object.
func (r *SendEventRequest) Validate() error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r.Content, &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: content must be a JSON object", domain.ErrValidation)
	}
	return nil
}

// RedactRequest is the body of POST /v1/rooms/{roomID}/redact.
type RedactRequest struct {
	// TargetEventID is a server event id or the id of a local echo.
	TargetEventID string `json:"target_event_id" validate:"required,startswith=$,max=255"`
	Reason        string `json:"reason,omitempty" validate:"max=1024"`
}

// ResendRequest is the optional body of POST /v1/echoes/{eventID}/resend.
type ResendRequest struct {
	Encrypt *bool `json:"encrypt,omitempty"`
}

// LocalEchoResponse describes a local echo.
type LocalEchoResponse struct {
	EventID       string          `json:"event_id"`
	RoomID        string          `json:"room_id"`
	Type          string          `json:"type"`
	Content       json.RawMessage `json:"content,omitempty"`
	Redacts       string          `json:"redacts,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	RemoteEventID string          `json:"remote_event_id,omitempty"`
	SendState     string          `json:"send_state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// EchoListResponse is the body of GET /v1/rooms/{roomID}/echoes.
type EchoListResponse struct {
	RoomID string              `json:"room_id"`
	Echoes []LocalEchoResponse `json:"echoes"`
}

// CancelResponse is the body of DELETE /v1/rooms/{roomID}/echoes/{eventID}.
type CancelResponse struct {
	EventID string `json:"event_id"`
	// Found is false when no queued task existed; the request is still
	// remembered in case the event is restored later.
	Found bool `json:"found"`
}

// QueueRecordResponse describes one durable ledger record.
type QueueRecordResponse struct {
	Order       int64  `json:"order"`
	Type        string `json:"type"`
	LocalEchoID string `json:"local_echo_id,omitempty"`
	Encrypt     *bool  `json:"encrypt,omitempty"`
}

// QueueResponse is the body of GET /v1/queue.
type QueueResponse struct {
	Records []QueueRecordResponse `json:"records"`
}

func echoToResponse(echo *domain.LocalEcho) LocalEchoResponse {
	return LocalEchoResponse{
		EventID:       echo.EventID,
		RoomID:        echo.RoomID,
		Type:          echo.Type,
		Content:       echo.Content,
		Redacts:       echo.Redacts,
		Reason:        echo.Reason,
		RemoteEventID: echo.RemoteEventID,
		SendState:     string(echo.SendState),
		CreatedAt:     echo.CreatedAt,
		UpdatedAt:     echo.UpdatedAt,
	}
}

func recordToResponse(record sendqueue.Record) QueueRecordResponse {
	resp := QueueRecordResponse{
		Order: record.RecordOrder(),
		Type:  record.RecordType(),
	}
	switch r := record.(type) {
	case sendqueue.SendRecord:
		resp.LocalEchoID = r.LocalEchoID
		resp.Encrypt = r.Encrypt
	case sendqueue.RedactRecord:
		resp.LocalEchoID = r.LocalEchoID
	}
	return resp
}
