package task

import (
	"log/slog"
	"sync/atomic"
)

// baseTask holds the identity and mutable queue state shared by every task
// variant. The send queue runs at most one attempt of a task at a time, so
// the atomics only guard against concurrent Cancel and inspection calls.
type baseTask struct {
	id         string
	roomID     string
	retryCount atomic.Int32
	cancelled  atomic.Bool
	tracker    CancelTracker
	logger     *slog.Logger
}

func newBaseTask(id, roomID, taskType string, tracker CancelTracker, logger *slog.Logger) baseTask {
	return baseTask{
		id:      id,
		roomID:  roomID,
		tracker: tracker,
		logger:  logger.With("task_id", id, "task_type", taskType, "room_id", roomID),
	}
}

// ID returns the local echo id the task delivers.
func (t *baseTask) ID() string {
	return t.id
}

// RoomID returns the room the task is sequenced in.
func (t *baseTask) RoomID() string {
	return t.roomID
}

// RetryCount returns the number of counted failed attempts.
func (t *baseTask) RetryCount() int {
	return int(t.retryCount.Load())
}

// IncrementRetryCount records a counted failure and returns the new count.
func (t *baseTask) IncrementRetryCount() int {
	return int(t.retryCount.Add(1))
}

// Cancel marks the task cancelled. Calling it more than once is harmless.
func (t *baseTask) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.logger.Debug("task cancelled")
	}
}

// IsCancelled reports the local flag or an out-of-band request recorded in
// the cancel tracker. The tracker is consulted on every call.
func (t *baseTask) IsCancelled() bool {
	if t.cancelled.Load() {
		return true
	}
	return t.tracker != nil && t.tracker.IsCancelRequested(t.id, t.roomID)
}
