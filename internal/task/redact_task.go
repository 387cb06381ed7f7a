package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// RedactPayload is the persisted form of a RedactTask.
type RedactPayload struct {
	LocalEchoID string `json:"local_echo_id"`
}

// RedactTask redacts an event. The task is identified by the local echo of
// the redaction itself, which carries the target event id and reason.
type RedactTask struct {
	baseTask
	targetEventID string
	reason        string
	echoes        EchoStore
	sender        RemoteSender
}

var _ Task = (*RedactTask)(nil)

// Type returns TaskTypeRedact.
func (t *RedactTask) Type() string {
	return TaskTypeRedact
}

// TargetEventID returns the event being redacted.
func (t *RedactTask) TargetEventID() string {
	return t.targetEventID
}

// Payload returns the JSON form of RedactPayload.
func (t *RedactTask) Payload() []byte {
	data, err := json.Marshal(RedactPayload{LocalEchoID: t.id})
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Execute sends the redaction.
func (t *RedactTask) Execute(ctx context.Context) error {
	if t.IsCancelled() {
		t.logger.Debug("skipping cancelled task")
		return nil
	}

	if _, err := t.echoes.Get(ctx, t.id); err != nil {
		if store.IsNotFoundError(err) {
			return &UnretryableError{Err: fmt.Errorf("redaction echo %s: %w", t.id, err)}
		}
		return fmt.Errorf("failed to load redaction echo: %w", err)
	}

	target, err := t.resolveTarget(ctx)
	if err != nil {
		return err
	}

	if err := t.echoes.UpdateSendState(ctx, t.id, domain.SendStateSending); err != nil {
		return fmt.Errorf("failed to mark redaction echo sending: %w", err)
	}

	if t.IsCancelled() {
		discardCancelled(ctx, t.echoes, t.id, t.logger)
		return ErrCancelled
	}

	t.logger.Debug("sending redaction", "target_event_id", target, "retry_count", t.RetryCount())
	remoteID, err := t.sender.Redact(ctx, t.id, target, t.roomID, t.reason)
	if err != nil {
		return err
	}

	if err := t.echoes.MarkSent(ctx, t.id, remoteID); err != nil {
		t.logger.Error("failed to mark redaction echo sent", "error", err, "remote_event_id", remoteID)
	}

	t.logger.Info("event redacted", "target_event_id", target, "remote_event_id", remoteID)
	return nil
}

// resolveTarget maps a target that is itself a local echo onto the event id
// the server assigned to it. Room ordering guarantees the target was sent
// before this task runs.
func (t *RedactTask) resolveTarget(ctx context.Context) (string, error) {
	if !strings.HasPrefix(t.targetEventID, domain.LocalEchoIDPrefix) {
		return t.targetEventID, nil
	}

	target, err := t.echoes.Get(ctx, t.targetEventID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return "", &UnretryableError{Err: fmt.Errorf("redaction target %s: %w", t.targetEventID, err)}
		}
		return "", fmt.Errorf("failed to load redaction target: %w", err)
	}
	if target.RemoteEventID == "" {
		return "", &UnretryableError{Err: fmt.Errorf("redaction target %s was never sent", t.targetEventID)}
	}
	return target.RemoteEventID, nil
}

// OnPermanentFailure deletes the redaction echo.
func (t *RedactTask) OnPermanentFailure(ctx context.Context) error {
	if err := t.echoes.Delete(ctx, t.id); err != nil {
		return fmt.Errorf("failed to delete redaction echo: %w", err)
	}
	t.logger.Info("deleted undeliverable redaction echo")
	return nil
}

func newRedactTask(
	echo *domain.LocalEcho,
	echoes EchoStore,
	sender RemoteSender,
	tracker CancelTracker,
	logger *slog.Logger,
) *RedactTask {
	return &RedactTask{
		baseTask:      newBaseTask(echo.EventID, echo.RoomID, TaskTypeRedact, tracker, logger),
		targetEventID: echo.Redacts,
		reason:        echo.Reason,
		echoes:        echoes,
		sender:        sender,
	}
}
