package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/domain"
)

// Factory creates tasks wired to the collaborators they need.
type Factory struct {
	echoes     EchoStore
	encryption EncryptionChecker
	sender     RemoteSender
	tracker    CancelTracker
	logger     *slog.Logger
}

// NewFactory creates a task factory. tracker may be nil when no
// out-of-band cancellation source exists.
func NewFactory(
	echoes EchoStore,
	encryption EncryptionChecker,
	sender RemoteSender,
	tracker CancelTracker,
	logger *slog.Logger,
) (*Factory, error) {
	if echoes == nil {
		return nil, ErrNilEchoStore
	}
	if encryption == nil {
		return nil, ErrNilEncryption
	}
	if sender == nil {
		return nil, ErrNilSender
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &Factory{
		echoes:     echoes,
		encryption: encryption,
		sender:     sender,
		tracker:    tracker,
		logger:     logger,
	}, nil
}

// CreateSendTask builds a task that sends echo. When explicitEncrypt is nil
// the room's encryption state decides.
func (f *Factory) CreateSendTask(
	ctx context.Context,
	echo *domain.LocalEcho,
	explicitEncrypt *bool,
) (*SendEventTask, error) {
	if echo == nil {
		return nil, ErrNilEcho
	}
	if echo.IsRedaction() {
		return nil, ErrNotSendable
	}
	if err := echo.Validate(); err != nil {
		return nil, err
	}

	var encrypt bool
	if explicitEncrypt != nil {
		encrypt = *explicitEncrypt
	} else {
		encrypted, err := f.encryption.IsRoomEncrypted(ctx, echo.RoomID)
		if err != nil {
			return nil, fmt.Errorf("failed to check room encryption: %w", err)
		}
		encrypt = encrypted
	}

	return newSendEventTask(echo, encrypt, f.echoes, f.sender, f.tracker, f.logger), nil
}

// CreateRedactTask builds a task that sends the redaction described by echo.
func (f *Factory) CreateRedactTask(echo *domain.LocalEcho) (*RedactTask, error) {
	if echo == nil {
		return nil, ErrNilEcho
	}
	if !echo.IsRedaction() {
		return nil, ErrNotRedaction
	}
	if err := echo.Validate(); err != nil {
		return nil, err
	}

	return newRedactTask(echo, f.echoes, f.sender, f.tracker, f.logger), nil
}

// RestoreSendTask rebuilds a persisted send task. The echo must still be
// pending; it is reset to unsent before the new task is returned. Errors
// wrapping domain.ErrNotPending or store.ErrNotFound mean there is nothing
// left to send.
func (f *Factory) RestoreSendTask(ctx context.Context, payload SendEventPayload) (Task, error) {
	echo, err := f.loadPending(ctx, payload.LocalEchoID)
	if err != nil {
		return nil, err
	}
	if echo.IsRedaction() {
		return nil, ErrNotSendable
	}

	if err := f.echoes.UpdateSendState(ctx, echo.EventID, domain.SendStateUnsent); err != nil {
		return nil, fmt.Errorf("failed to reset local echo: %w", err)
	}
	echo.SendState = domain.SendStateUnsent

	return f.CreateSendTask(ctx, echo, payload.Encrypt)
}

// RestoreRedactTask rebuilds a persisted redaction task under the same
// rules as RestoreSendTask.
func (f *Factory) RestoreRedactTask(ctx context.Context, payload RedactPayload) (Task, error) {
	echo, err := f.loadPending(ctx, payload.LocalEchoID)
	if err != nil {
		return nil, err
	}
	if echo.Redacts == "" {
		return nil, fmt.Errorf("%w: redaction has no target", domain.ErrNotPending)
	}

	if err := f.echoes.UpdateSendState(ctx, echo.EventID, domain.SendStateUnsent); err != nil {
		return nil, fmt.Errorf("failed to reset redaction echo: %w", err)
	}
	echo.SendState = domain.SendStateUnsent

	return f.CreateRedactTask(echo)
}

func (f *Factory) loadPending(ctx context.Context, eventID string) (*domain.LocalEcho, error) {
	echo, err := f.echoes.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local echo %s: %w", eventID, err)
	}
	if !echo.SendState.IsSending() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotPending, eventID, echo.SendState)
	}
	if echo.EventID == "" || echo.RoomID == "" {
		return nil, fmt.Errorf("%w: %s lacks event or room id", domain.ErrNotPending, eventID)
	}
	return echo, nil
}
