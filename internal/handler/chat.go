package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumeo-app/lumeo/internal/domain"
	"github.com/lumeo-app/lumeo/internal/middleware"
	"github.com/lumeo-app/lumeo/internal/service"
)

type chatRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id"`
	Text           string     `json:"text"`
}

// HandleChat runs one coaching turn and relays the assistant's tokens to
// the web client as a `data: <json>` event stream. The final event carries
// the terminal outcome, the conversation id (relevant when the turn lazily
// created one) and the safety flag.
func (h *Handler) HandleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctrl := h.registry.Get(middleware.GetUserID(c))

	if req.ConversationID != nil {
		active := ctrl.ActiveConversationID()
		if active == nil || *active != *req.ConversationID {
			if err := ctrl.SwitchTo(c.Request.Context(), *req.ConversationID); err != nil {
				c.JSON(errStatus(err), gin.H{"error": err.Error()})
				return
			}
		}
	}

	// Headers are deferred until the first event so that a turn rejected
	// before streaming still gets a plain JSON status.
	streaming := false
	writeEvent := func(v any) {
		if !streaming {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Writer.WriteHeader(http.StatusOK)
			streaming = true
		}
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	err := ctrl.SendTurn(c.Request.Context(), req.Text, func(delta string) {
		writeEvent(gin.H{"delta": delta})
	})
	if err != nil {
		h.writeTurnError(c, err, streaming, writeEvent)
		return
	}

	writeEvent(gin.H{
		"done":            true,
		"conversation_id": ctrl.ActiveConversationID(),
		"crisis":          ctrl.Flagged(),
	})
}

func (h *Handler) writeTurnError(c *gin.Context, err error, streaming bool, writeEvent func(any)) {
	if streaming {
		writeEvent(gin.H{"error": err.Error()})
		return
	}

	switch {
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrTurnInProgress):
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
	default:
		// Transport failures surface as one retryable error; the user's
		// own message is already persisted.
		status := http.StatusBadGateway
		var httpErr *service.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error(), "retryable": true})
	}
}

// HandleStop cancels the user's in-flight turn. The partial answer is kept
// and persisted by the engine.
func (h *Handler) HandleStop(c *gin.Context) {
	h.registry.Get(middleware.GetUserID(c)).Stop()
	c.Status(http.StatusNoContent)
}
