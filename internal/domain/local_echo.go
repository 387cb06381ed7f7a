package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SendState is the delivery state of a locally authored event.
type SendState string

// Possible send states. UNSENT, ENCRYPTING and SENDING are pending states:
// the event is still owned by the send queue.
const (
	SendStateUnsent      SendState = "unsent"
	SendStateEncrypting  SendState = "encrypting"
	SendStateSending     SendState = "sending"
	SendStateSent        SendState = "sent"
	SendStateUndelivered SendState = "undelivered"
)

// Event types the send queue treats specially.
const (
	EventTypeMessage   = "m.room.message"
	EventTypeReaction  = "m.reaction"
	EventTypeRedaction = "m.room.redaction"
)

// LocalEchoIDPrefix marks event ids generated on the client before the
// homeserver has assigned a real one.
const LocalEchoIDPrefix = "$local."

// Common validation errors for LocalEcho
var (
	ErrEmptyEventID       = errors.New("local echo event ID cannot be empty")
	ErrEmptyRoomID        = errors.New("local echo room ID cannot be empty")
	ErrEmptyEventType     = errors.New("local echo event type cannot be empty")
	ErrMissingRedactsID   = errors.New("redaction must reference a target event")
	ErrInvalidSendState   = errors.New("invalid send state")
	ErrInvalidEchoContent = errors.New("local echo content must be a JSON object")
)

// LocalEcho is the client-side placeholder for an event the user authored.
// It is created before the event reaches the homeserver and carries its
// delivery state until the server acknowledges it or delivery is abandoned.
type LocalEcho struct {
	EventID string          `json:"event_id"`
	RoomID  string          `json:"room_id"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`

	// Redacts is the target event id for m.room.redaction echoes.
	Redacts string `json:"redacts,omitempty"`
	// Reason is the optional redaction reason.
	Reason string `json:"reason,omitempty"`

	// RemoteEventID is set once the homeserver has accepted the event.
	RemoteEventID string    `json:"remote_event_id,omitempty"`
	SendState     SendState `json:"send_state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewLocalEchoID returns a fresh client-side event id.
func NewLocalEchoID() string {
	return LocalEchoIDPrefix + uuid.NewString()
}

// NewLocalEcho creates an unsent local echo for an event of the given type.
func NewLocalEcho(roomID, eventType string, content json.RawMessage) (*LocalEcho, error) {
	now := time.Now().UTC()
	echo := &LocalEcho{
		EventID:   NewLocalEchoID(),
		RoomID:    roomID,
		Type:      eventType,
		Content:   content,
		SendState: SendStateUnsent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := echo.Validate(); err != nil {
		return nil, err
	}

	return echo, nil
}

// NewRedactionEcho creates an unsent local echo for redacting targetEventID.
func NewRedactionEcho(roomID, targetEventID, reason string) (*LocalEcho, error) {
	content := json.RawMessage(`{}`)
	if reason != "" {
		encoded, err := json.Marshal(map[string]string{"reason": reason})
		if err != nil {
			return nil, err
		}
		content = encoded
	}

	now := time.Now().UTC()
	echo := &LocalEcho{
		EventID:   NewLocalEchoID(),
		RoomID:    roomID,
		Type:      EventTypeRedaction,
		Content:   content,
		Redacts:   targetEventID,
		Reason:    reason,
		SendState: SendStateUnsent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := echo.Validate(); err != nil {
		return nil, err
	}
	return echo, nil
}

// Validate checks if the LocalEcho has valid data.
func (e *LocalEcho) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return ErrEmptyEventID
	}
	if strings.TrimSpace(e.RoomID) == "" {
		return ErrEmptyRoomID
	}
	if strings.TrimSpace(e.Type) == "" {
		return ErrEmptyEventType
	}
	if e.Type == EventTypeRedaction && strings.TrimSpace(e.Redacts) == "" {
		return ErrMissingRedactsID
	}
	if len(e.Content) > 0 {
		var object map[string]json.RawMessage
		if err := json.Unmarshal(e.Content, &object); err != nil {
			return ErrInvalidEchoContent
		}
	}
	if !IsValidSendState(e.SendState) {
		return ErrInvalidSendState
	}
	return nil
}

// IsRedaction reports whether the echo is an m.room.redaction.
func (e *LocalEcho) IsRedaction() bool {
	return e.Type == EventTypeRedaction
}

// IsEphemeralAggregation reports whether a failed delivery should remove the
// echo instead of leaving it for manual retry. Reactions and redactions have
// no useful retry affordance.
func (e *LocalEcho) IsEphemeralAggregation() bool {
	return e.Type == EventTypeReaction || e.Type == EventTypeRedaction
}

// IsSending reports whether the state is one the send queue still owns.
func (s SendState) IsSending() bool {
	switch s {
	case SendStateUnsent, SendStateEncrypting, SendStateSending:
		return true
	default:
		return false
	}
}

// IsValidSendState checks if the given state is a known SendState.
func IsValidSendState(state SendState) bool {
	switch state {
	case SendStateUnsent, SendStateEncrypting, SendStateSending,
		SendStateSent, SendStateUndelivered:
		return true
	default:
		return false
	}
}
