package sendqueue

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/matrix-outbox/internal/task"
)

// Record is one decoded entry of the ledger snapshot: a SendRecord, a
// RedactRecord or an UnknownRecord.
type Record interface {
	RecordOrder() int64
	RecordType() string
}

// SendRecord describes a persisted send task.
type SendRecord struct {
	Order int64
	task.SendEventPayload
}

// RecordOrder implements Record.
func (r SendRecord) RecordOrder() int64 { return r.Order }

// RecordType implements Record.
func (r SendRecord) RecordType() string { return task.TaskTypeSendEvent }

// RedactRecord describes a persisted redaction task.
type RedactRecord struct {
	Order int64
	task.RedactPayload
}

// RecordOrder implements Record.
func (r RedactRecord) RecordOrder() int64 { return r.Order }

// RecordType implements Record.
func (r RedactRecord) RecordType() string { return task.TaskTypeRedact }

// UnknownRecord stands in for a record whose type or payload could not be
// understood. It keeps its position and is otherwise ignored.
type UnknownRecord struct {
	Order int64
	Type  string
}

// RecordOrder implements Record.
func (r UnknownRecord) RecordOrder() int64 { return r.Order }

// RecordType implements Record.
func (r UnknownRecord) RecordType() string { return r.Type }

// recordEnvelope is the stored JSON shape of every record.
type recordEnvelope struct {
	Type    string          `json:"type"`
	Order   int64           `json:"order"`
	Payload json.RawMessage `json:"payload"`
}

// encodeRecord serialises t at position order.
func encodeRecord(order int64, t task.Task) (string, error) {
	payload := t.Payload()
	if len(payload) == 0 {
		return "", fmt.Errorf("task %s has an empty payload", t.ID())
	}

	data, err := json.Marshal(recordEnvelope{
		Type:    t.Type(),
		Order:   order,
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger record: %w", err)
	}
	return string(data), nil
}

// decodeRecord parses a stored record. Only input that is not a record
// envelope at all is an error; anything else degrades to UnknownRecord.
func decodeRecord(s string) (Record, error) {
	var env recordEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("failed to parse ledger record: %w", err)
	}

	unknown := UnknownRecord{Order: env.Order, Type: env.Type}

	switch env.Type {
	case task.TaskTypeSendEvent:
		var p task.SendEventPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.LocalEchoID == "" {
			return unknown, nil
		}
		return SendRecord{Order: env.Order, SendEventPayload: p}, nil

	case task.TaskTypeRedact:
		var p task.RedactPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.LocalEchoID == "" {
			return unknown, nil
		}
		return RedactRecord{Order: env.Order, RedactPayload: p}, nil

	default:
		return unknown, nil
	}
}
