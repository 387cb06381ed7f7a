package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/sendqueue"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/phrazzld/matrix-outbox/internal/task"
)

// TaskQueue is the send queue as seen by the service layer.
// *sendqueue.Processor satisfies it.
type TaskQueue interface {
	// PostTask records t and queues it behind earlier tasks of its room.
	PostTask(ctx context.Context, t task.Task) (sendqueue.CancelHandle, error)

	// Cancel cancels the queued task for taskID in roomID.
	Cancel(taskID, roomID string) bool

	// Pending returns the number of tasks owned by the queue.
	Pending() int

	// OnSessionStarted resubmits the tasks of the previous session.
	OnSessionStarted(ctx context.Context) error

	// OnSessionStopped rejects new tasks and interrupts waiting ones.
	OnSessionStopped(ctx context.Context) error
}

// PendingLister reads the durable list of queued tasks.
// *sendqueue.Ledger satisfies it.
type PendingLister interface {
	Records(ctx context.Context) ([]sendqueue.Record, error)
}

// TaskFactory builds tasks for local echoes. *task.Factory satisfies it.
type TaskFactory interface {
	CreateSendTask(ctx context.Context, echo *domain.LocalEcho, explicitEncrypt *bool) (*task.SendEventTask, error)
	CreateRedactTask(echo *domain.LocalEcho) (*task.RedactTask, error)
}

// CancelRegistry records out-of-band cancellation requests.
// *task.CancelRequests satisfies it.
type CancelRegistry interface {
	Request(eventID, roomID string)
	Clear(eventID string)
}

// SendService provides the outbound operations of one Matrix session.
type SendService interface {
	// SendEvent creates a local echo for an event and queues it.
	SendEvent(
		ctx context.Context,
		roomID, eventType string,
		content json.RawMessage,
		explicitEncrypt *bool,
	) (*domain.LocalEcho, error)

	// Redact creates a local echo for a redaction of targetEventID and
	// queues it. targetEventID may itself be a local echo id.
	Redact(ctx context.Context, roomID, targetEventID, reason string) (*domain.LocalEcho, error)

	// PostSend queues an existing pending local echo. When explicitEncrypt
	// is nil the room's encryption state decides.
	PostSend(ctx context.Context, localEchoID string, explicitEncrypt *bool) (sendqueue.CancelHandle, error)

	// PostRedact queues an existing pending redaction echo.
	PostRedact(ctx context.Context, localEchoID string) (sendqueue.CancelHandle, error)

	// Resend queues an undelivered local echo again.
	Resend(ctx context.Context, localEchoID string, explicitEncrypt *bool) (sendqueue.CancelHandle, error)

	// Cancel asks for the delivery of localEchoID in roomID to be
	// abandoned. It reports whether a queued task was found. A remote call
	// already in flight is not interrupted.
	Cancel(ctx context.Context, localEchoID, roomID string) bool

	// GetEcho returns a local echo.
	GetEcho(ctx context.Context, localEchoID string) (*domain.LocalEcho, error)

	// ListEchoes returns the local echoes of a room, oldest first.
	ListEchoes(ctx context.Context, roomID string) ([]*domain.LocalEcho, error)

	// Pending returns the durable records of every queued task.
	Pending(ctx context.Context) ([]sendqueue.Record, error)

	// OnSessionStarted resumes the work of the previous session.
	OnSessionStarted(ctx context.Context) error

	// OnSessionStopped stops the queue. Waiting work is kept for the next
	// session.
	OnSessionStopped(ctx context.Context) error
}

// sendServiceImpl implements the SendService interface
type sendServiceImpl struct {
	echoes  store.LocalEchoStore
	factory TaskFactory
	queue   TaskQueue
	pending PendingLister
	cancels CancelRegistry
	logger  *slog.Logger
}

// NewSendService creates a new SendService.
// It returns an error if any of the required dependencies are nil.
func NewSendService(
	echoes store.LocalEchoStore,
	factory TaskFactory,
	queue TaskQueue,
	pending PendingLister,
	cancels CancelRegistry,
	logger *slog.Logger,
) (SendService, error) {
	switch {
	case echoes == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "echoes cannot be nil"}
	case factory == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "factory cannot be nil"}
	case queue == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "queue cannot be nil"}
	case pending == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "pending cannot be nil"}
	case cancels == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "cancels cannot be nil"}
	case logger == nil:
		return nil, &SendServiceError{Operation: "create_service", Message: "logger cannot be nil"}
	}

	return &sendServiceImpl{
		echoes:  echoes,
		factory: factory,
		queue:   queue,
		pending: pending,
		cancels: cancels,
		logger:  logger.With("component", "send_service"),
	}, nil
}

// SendEvent implements SendService.
func (s *sendServiceImpl) SendEvent(
	ctx context.Context,
	roomID, eventType string,
	content json.RawMessage,
	explicitEncrypt *bool,
) (*domain.LocalEcho, error) {
	echo, err := domain.NewLocalEcho(roomID, eventType, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if echo.IsRedaction() {
		return nil, fmt.Errorf("%w: use Redact for redactions", domain.ErrValidation)
	}

	if err := s.echoes.Save(ctx, echo); err != nil {
		return nil, NewSendServiceError("send_event", "failed to save local echo", err)
	}

	if _, err := s.PostSend(ctx, echo.EventID, explicitEncrypt); err != nil {
		s.abandon(ctx, echo)
		return echo, err
	}
	return echo, nil
}

// Redact implements SendService.
func (s *sendServiceImpl) Redact(
	ctx context.Context,
	roomID, targetEventID, reason string,
) (*domain.LocalEcho, error) {
	echo, err := domain.NewRedactionEcho(roomID, targetEventID, reason)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if err := s.echoes.Save(ctx, echo); err != nil {
		return nil, NewSendServiceError("redact", "failed to save redaction echo", err)
	}

	if _, err := s.PostRedact(ctx, echo.EventID); err != nil {
		s.abandon(ctx, echo)
		return echo, err
	}
	return echo, nil
}

// abandon marks an echo that could not be queued as undelivered so that it
// can be resent later.
func (s *sendServiceImpl) abandon(ctx context.Context, echo *domain.LocalEcho) {
	if err := s.echoes.UpdateSendState(ctx, echo.EventID, domain.SendStateUndelivered); err != nil {
		logger.FromContext(ctx).Error("failed to mark unqueued echo undelivered",
			"error", err,
			"event_id", echo.EventID)
		return
	}
	echo.SendState = domain.SendStateUndelivered
}

// PostSend implements SendService.
func (s *sendServiceImpl) PostSend(
	ctx context.Context,
	localEchoID string,
	explicitEncrypt *bool,
) (sendqueue.CancelHandle, error) {
	echo, err := s.loadPending(ctx, localEchoID)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("post_send", "failed to load local echo", err)
	}

	t, err := s.factory.CreateSendTask(ctx, echo, explicitEncrypt)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("post_send", "failed to create send task", err)
	}
	return s.post(ctx, "post_send", t)
}

// PostRedact implements SendService.
func (s *sendServiceImpl) PostRedact(ctx context.Context, localEchoID string) (sendqueue.CancelHandle, error) {
	echo, err := s.loadPending(ctx, localEchoID)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("post_redact", "failed to load redaction echo", err)
	}

	t, err := s.factory.CreateRedactTask(echo)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("post_redact", "failed to create redact task", err)
	}
	return s.post(ctx, "post_redact", t)
}

// Resend implements SendService.
func (s *sendServiceImpl) Resend(
	ctx context.Context,
	localEchoID string,
	explicitEncrypt *bool,
) (sendqueue.CancelHandle, error) {
	echo, err := s.echoes.Get(ctx, localEchoID)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("resend", "failed to load local echo", err)
	}
	if echo.SendState != domain.SendStateUndelivered {
		return sendqueue.CancelHandle{}, ErrNotUndelivered
	}

	if err := s.echoes.UpdateSendState(ctx, localEchoID, domain.SendStateUnsent); err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError("resend", "failed to reset local echo", err)
	}

	var handle sendqueue.CancelHandle
	if echo.IsRedaction() {
		handle, err = s.PostRedact(ctx, localEchoID)
	} else {
		handle, err = s.PostSend(ctx, localEchoID, explicitEncrypt)
	}
	if err != nil {
		s.abandon(ctx, echo)
	}
	return handle, err
}

func (s *sendServiceImpl) loadPending(ctx context.Context, localEchoID string) (*domain.LocalEcho, error) {
	echo, err := s.echoes.Get(ctx, localEchoID)
	if err != nil {
		return nil, err
	}
	if !echo.SendState.IsSending() {
		return nil, fmt.Errorf("%w: state is %s", domain.ErrNotPending, echo.SendState)
	}
	return echo, nil
}

func (s *sendServiceImpl) post(ctx context.Context, operation string, t task.Task) (sendqueue.CancelHandle, error) {
	// A new post of the same echo supersedes an earlier cancellation.
	s.cancels.Clear(t.ID())

	handle, err := s.queue.PostTask(ctx, t)
	if err != nil {
		return sendqueue.CancelHandle{}, NewSendServiceError(operation, "failed to queue task", err)
	}

	logger.FromContext(ctx).Info("task queued",
		"task_id", t.ID(),
		"task_type", t.Type(),
		"room_id", t.RoomID())
	return handle, nil
}

// Cancel implements SendService.
func (s *sendServiceImpl) Cancel(ctx context.Context, localEchoID, roomID string) bool {
	s.cancels.Request(localEchoID, roomID)
	found := s.queue.Cancel(localEchoID, roomID)

	logger.FromContext(ctx).Info("cancellation requested",
		"task_id", localEchoID,
		"room_id", roomID,
		"found", found)
	return found
}

// GetEcho implements SendService.
func (s *sendServiceImpl) GetEcho(ctx context.Context, localEchoID string) (*domain.LocalEcho, error) {
	echo, err := s.echoes.Get(ctx, localEchoID)
	if err != nil {
		return nil, NewSendServiceError("get_echo", "failed to load local echo", err)
	}
	return echo, nil
}

// ListEchoes implements SendService.
func (s *sendServiceImpl) ListEchoes(ctx context.Context, roomID string) ([]*domain.LocalEcho, error) {
	echoes, err := s.echoes.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, NewSendServiceError("list_echoes", "failed to list local echoes", err)
	}
	return echoes, nil
}

// Pending implements SendService.
func (s *sendServiceImpl) Pending(ctx context.Context) ([]sendqueue.Record, error) {
	records, err := s.pending.Records(ctx)
	if err != nil {
		return nil, NewSendServiceError("pending", "failed to read ledger", err)
	}
	return records, nil
}

// OnSessionStarted implements SendService.
func (s *sendServiceImpl) OnSessionStarted(ctx context.Context) error {
	if err := s.queue.OnSessionStarted(ctx); err != nil {
		return NewSendServiceError("session_started", "failed to restore send queue", err)
	}
	s.logger.Info("send queue started", "pending_tasks", s.queue.Pending())
	return nil
}

// OnSessionStopped implements SendService.
func (s *sendServiceImpl) OnSessionStopped(ctx context.Context) error {
	err := s.queue.OnSessionStopped(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return NewSendServiceError("session_stopped", "failed to stop send queue", err)
	}
	if err != nil {
		s.logger.Warn("send queue did not drain before shutdown deadline", "error", err)
	}
	return nil
}
