package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// SendEventPayload is the persisted form of a SendEventTask.
type SendEventPayload struct {
	LocalEchoID string `json:"local_echo_id"`
	Encrypt     *bool  `json:"encrypt"`
}

// SendEventTask delivers a local echo to its room.
type SendEventTask struct {
	baseTask
	ephemeral bool
	encrypt   bool
	echoes    EchoStore
	sender    RemoteSender
}

var _ Task = (*SendEventTask)(nil)

// Type returns TaskTypeSendEvent.
func (t *SendEventTask) Type() string {
	return TaskTypeSendEvent
}

// Encrypt reports whether the event is encrypted before sending.
func (t *SendEventTask) Encrypt() bool {
	return t.encrypt
}

// Payload returns the JSON form of SendEventPayload.
func (t *SendEventTask) Payload() []byte {
	encrypt := t.encrypt
	data, err := json.Marshal(SendEventPayload{LocalEchoID: t.id, Encrypt: &encrypt})
	if err != nil {
		t.logger.Error("failed to marshal task payload", "error", err)
		return []byte{}
	}
	return data
}

// Execute sends the local echo and records the server event id.
func (t *SendEventTask) Execute(ctx context.Context) error {
	if t.IsCancelled() {
		t.logger.Debug("skipping cancelled task")
		return nil
	}

	echo, err := t.echoes.Get(ctx, t.id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return &UnretryableError{Err: fmt.Errorf("local echo %s: %w", t.id, err)}
		}
		return fmt.Errorf("failed to load local echo: %w", err)
	}

	if t.encrypt {
		if err := t.echoes.UpdateSendState(ctx, t.id, domain.SendStateEncrypting); err != nil {
			return fmt.Errorf("failed to mark local echo encrypting: %w", err)
		}
	}
	if err := t.echoes.UpdateSendState(ctx, t.id, domain.SendStateSending); err != nil {
		return fmt.Errorf("failed to mark local echo sending: %w", err)
	}

	if t.IsCancelled() {
		discardCancelled(ctx, t.echoes, t.id, t.logger)
		return ErrCancelled
	}

	t.logger.Debug("sending event", "retry_count", t.RetryCount(), "encrypt", t.encrypt)
	remoteID, err := t.sender.SendEvent(ctx, echo, t.encrypt)
	if err != nil {
		return err
	}

	// The event is on the server now; bookkeeping failures are not send failures.
	if err := t.echoes.MarkSent(ctx, t.id, remoteID); err != nil {
		t.logger.Error("failed to mark local echo sent", "error", err, "remote_event_id", remoteID)
	}

	t.logger.Info("event sent", "remote_event_id", remoteID)
	return nil
}

// OnPermanentFailure deletes reaction echoes and marks every other echo
// undelivered so it can be retried by hand.
func (t *SendEventTask) OnPermanentFailure(ctx context.Context) error {
	if t.ephemeral {
		if err := t.echoes.Delete(ctx, t.id); err != nil {
			return fmt.Errorf("failed to delete reaction echo: %w", err)
		}
		t.logger.Info("deleted undeliverable reaction echo")
		return nil
	}

	if err := t.echoes.UpdateSendState(ctx, t.id, domain.SendStateUndelivered); err != nil {
		if store.IsNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to mark local echo undelivered: %w", err)
	}
	t.logger.Info("marked local echo undelivered")
	return nil
}

func newSendEventTask(
	echo *domain.LocalEcho,
	encrypt bool,
	echoes EchoStore,
	sender RemoteSender,
	tracker CancelTracker,
	logger *slog.Logger,
) *SendEventTask {
	return &SendEventTask{
		baseTask:  newBaseTask(echo.EventID, echo.RoomID, TaskTypeSendEvent, tracker, logger),
		ephemeral: echo.IsEphemeralAggregation(),
		encrypt:   encrypt,
		echoes:    echoes,
		sender:    sender,
	}
}
