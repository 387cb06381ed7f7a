package task

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// MockTask is a configurable Task for testing queue behaviour.
type MockTask struct {
	TaskID     string
	TaskRoomID string
	TaskType   string

	ExecuteFn            func(ctx context.Context) error
	OnPermanentFailureFn func(ctx context.Context) error

	retryCount     atomic.Int32
	cancelled      atomic.Bool
	executions     atomic.Int32
	permanentCalls atomic.Int32
}

// NewMockTask creates a send-typed MockTask whose Execute succeeds.
func NewMockTask(id, roomID string) *MockTask {
	return &MockTask{
		TaskID:     id,
		TaskRoomID: roomID,
		TaskType:   TaskTypeSendEvent,
		ExecuteFn:  func(ctx context.Context) error { return nil },
	}
}

// ID implements Task.
func (t *MockTask) ID() string { return t.TaskID }

// RoomID implements Task.
func (t *MockTask) RoomID() string { return t.TaskRoomID }

// Type implements Task.
func (t *MockTask) Type() string { return t.TaskType }

// Payload implements Task.
func (t *MockTask) Payload() []byte {
	if t.TaskType == TaskTypeRedact {
		data, _ := json.Marshal(RedactPayload{LocalEchoID: t.TaskID})
		return data
	}
	data, _ := json.Marshal(SendEventPayload{LocalEchoID: t.TaskID})
	return data
}

// RetryCount implements Task.
func (t *MockTask) RetryCount() int { return int(t.retryCount.Load()) }

// IncrementRetryCount implements Task.
func (t *MockTask) IncrementRetryCount() int { return int(t.retryCount.Add(1)) }

// Execute counts the attempt and runs ExecuteFn unless cancelled.
func (t *MockTask) Execute(ctx context.Context) error {
	if t.IsCancelled() {
		return nil
	}
	t.executions.Add(1)
	if t.ExecuteFn != nil {
		return t.ExecuteFn(ctx)
	}
	return nil
}

// OnPermanentFailure implements Task.
func (t *MockTask) OnPermanentFailure(ctx context.Context) error {
	t.permanentCalls.Add(1)
	if t.OnPermanentFailureFn != nil {
		return t.OnPermanentFailureFn(ctx)
	}
	return nil
}

// Cancel implements Task.
func (t *MockTask) Cancel() { t.cancelled.Store(true) }

// IsCancelled implements Task.
func (t *MockTask) IsCancelled() bool { return t.cancelled.Load() }

// Executions returns how many non-cancelled Execute calls ran.
func (t *MockTask) Executions() int { return int(t.executions.Load()) }

// PermanentFailures returns how many times OnPermanentFailure ran.
func (t *MockTask) PermanentFailures() int { return int(t.permanentCalls.Load()) }
