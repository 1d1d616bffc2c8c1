package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumeo-app/lumeo/internal/middleware"
)

func (h *Handler) HandleListConversations(c *gin.Context) {
	convs, err := h.store.ListConversations(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// HandleNewConversation resets the user's session. The conversation row
// itself is created lazily, on the first turn.
func (h *Handler) HandleNewConversation(c *gin.Context) {
	if err := h.registry.Get(middleware.GetUserID(c)).NewConversation(); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleGetMessages(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	// Ownership check before touching messages.
	if _, err := h.store.GetConversation(c.Request.Context(), userID, id); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}

	msgs, err := h.store.LoadMessages(c.Request.Context(), id)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type updateConversationRequest struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

func (h *Handler) HandleUpdateConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Title != nil {
		if err := h.store.RenameConversation(c.Request.Context(), userID, id, *req.Title); err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
	}
	if req.Archived != nil && *req.Archived {
		if err := h.store.ArchiveConversation(c.Request.Context(), userID, id); err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleDeleteConversation(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	if err := h.store.DeleteConversation(c.Request.Context(), userID, id); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}

	h.registry.Get(userID).Forget(id)
	c.Status(http.StatusNoContent)
}
