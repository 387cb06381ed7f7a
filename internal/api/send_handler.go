package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/matrix-outbox/internal/api/shared"
	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/redact"
	"github.com/phrazzld/matrix-outbox/internal/service"
)

// SendHandler exposes the send service over HTTP.
type SendHandler struct {
	sendService service.SendService
	logger      *slog.Logger
}

// NewSendHandler creates a new SendHandler.
func NewSendHandler(sendService service.SendService, logger *slog.Logger) *SendHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SendHandler")
	}

	return &SendHandler{
		sendService: sendService,
		logger:      logger.With(slog.String("component", "send_handler")),
	}
}

// SendEvent handles POST /v1/rooms/{roomID}/send/{eventType}.
// It stores a local echo and queues it, answering 202 with the echo.
func (h *SendHandler) SendEvent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	roomID, err := roomIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	eventType := chi.URLParam(r, "eventType")
	if eventType == "" || len(eventType) > maxIdentifierLength || strings.ContainsAny(eventType, " /") {
		h.respondError(w, r, fmt.Errorf("%w: invalid event type", domain.ErrValidation))
		return
	}

	var req SendEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	echo, err := h.sendService.SendEvent(r.Context(), roomID, eventType, req.Content, req.Encrypt)
	if err != nil {
		if echo != nil {
			// The echo exists but could not be queued; it is undelivered now.
			log.Warn("local echo stored but not queued",
				"event_id", echo.EventID,
				"error", redact.Error(err))
		}
		h.respondError(w, r, err)
		return
	}

	log.Debug("event accepted",
		"event_id", echo.EventID,
		"room_id", roomID,
		"type", eventType)
	shared.RespondWithJSON(w, r, http.StatusAccepted, echoToResponse(echo))
}

// Redact handles POST /v1/rooms/{roomID}/redact.
func (h *SendHandler) Redact(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req RedactRequest
	if !h.decode(w, r, &req) {
		return
	}

	echo, err := h.sendService.Redact(r.Context(), roomID, req.TargetEventID, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Debug("redaction accepted",
		"event_id", echo.EventID,
		"room_id", roomID,
		"target_event_id", req.TargetEventID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, echoToResponse(echo))
}

// Resend handles POST /v1/echoes/{eventID}/resend. The body is optional.
func (h *SendHandler) Resend(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req ResendRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if _, err := h.sendService.Resend(r.Context(), eventID, req.Encrypt); err != nil {
		h.respondError(w, r, err)
		return
	}

	echo, err := h.sendService.GetEcho(r.Context(), eventID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, echoToResponse(echo))
}

// Cancel handles DELETE /v1/rooms/{roomID}/echoes/{eventID}.
func (h *SendHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	eventID, err := eventIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	found := h.sendService.Cancel(r.Context(), eventID, roomID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelResponse{EventID: eventID, Found: found})
}

// GetEcho handles GET /v1/echoes/{eventID}.
func (h *SendHandler) GetEcho(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	echo, err := h.sendService.GetEcho(r.Context(), eventID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, echoToResponse(echo))
}

// ListEchoes handles GET /v1/rooms/{roomID}/echoes.
func (h *SendHandler) ListEchoes(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	echoes, err := h.sendService.ListEchoes(r.Context(), roomID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := EchoListResponse{RoomID: roomID, Echoes: make([]LocalEchoResponse, 0, len(echoes))}
	for _, echo := range echoes {
		resp.Echoes = append(resp.Echoes, echoToResponse(echo))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Queue handles GET /v1/queue. It lists the durable records of every task
// the queue owns, in submission order.
func (h *SendHandler) Queue(w http.ResponseWriter, r *http.Request) {
	records, err := h.sendService.Pending(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := QueueResponse{Records: make([]QueueRecordResponse, 0, len(records))}
	for _, record := range records {
		resp.Records = append(resp.Records, recordToResponse(record))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// decode reads and validates a JSON body, writing a 400 response on failure.
func (h *SendHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		message := "Invalid request format"
		if errors.Is(err, shared.ErrEmptyBody) {
			message = GetSafeErrorMessage(err)
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, message, err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

func (h *SendHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusBadRequest && errors.Is(err, domain.ErrValidation) {
		message = SanitizeValidationError(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
