package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumeo-app/lumeo/internal/domain"
	"github.com/lumeo-app/lumeo/internal/service"
)

type Handler struct {
	registry *service.ControllerRegistry
	store    service.ConversationStore
}

func New(registry *service.ControllerRegistry, store service.ConversationStore) *Handler {
	return &Handler{registry: registry, store: store}
}

// Register mounts the API routes on the given (authenticated) router group.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/chat", h.HandleChat)
	r.POST("/chat/stop", h.HandleStop)
	r.GET("/conversations", h.HandleListConversations)
	r.POST("/conversations", h.HandleNewConversation)
	r.GET("/conversations/:id/messages", h.HandleGetMessages)
	r.PATCH("/conversations/:id", h.HandleUpdateConversation)
	r.DELETE("/conversations/:id", h.HandleDeleteConversation)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTurnInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
