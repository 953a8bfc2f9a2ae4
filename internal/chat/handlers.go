package chat

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eternisai/search-chat/internal/auth"
	apierrors "github.com/eternisai/search-chat/internal/errors"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, logger *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.WithComponent("chat-handler"),
	}
}

// RegisterRoutes mounts the conversation API on group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/chats", h.ListChats)
	group.DELETE("/chats", h.ClearChats)
	group.GET("/chats/:id", h.GetChat)
	group.DELETE("/chats/:id", h.DeleteChat)
	group.POST("/chats/:id/share", h.ShareChat)
	group.GET("/share/:id", h.GetSharedChat)
}

// OwnerID returns the authenticated owner of the request, or AnonymousOwner.
func OwnerID(c *gin.Context) string {
	if ownerID, ok := auth.GetOwnerID(c); ok {
		return ownerID
	}
	return AnonymousOwner
}

// ListChats handles GET /chats?limit=&offset=.
func (h *Handler) ListChats(c *gin.Context) {
	limit, err := queryInt(c, "limit", DefaultPageSize)
	if err != nil {
		apierrors.AbortWithBadRequest(c, "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		apierrors.AbortWithBadRequest(c, "offset must be an integer", nil)
		return
	}

	page, err := h.service.ListPage(c.Request.Context(), OwnerID(c), limit, offset)
	if err != nil {
		apierrors.AbortWithInternal(c, "Failed to list chats", nil)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetChat handles GET /chats/:id.
func (h *Handler) GetChat(c *gin.Context) {
	chatID := c.Param("id")

	conv, err := h.service.Get(c.Request.Context(), chatID, OwnerID(c))
	if err != nil {
		apierrors.AbortWithInternal(c, "Failed to get chat", nil)
		return
	}
	if conv == nil {
		apierrors.AbortWithNotFound(c, "Chat not found", map[string]any{"chat_id": chatID})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// DeleteChat handles DELETE /chats/:id.
func (h *Handler) DeleteChat(c *gin.Context) {
	chatID := c.Param("id")

	if err := h.service.Delete(c.Request.Context(), chatID, OwnerID(c)); err != nil {
		h.abortMutation(c, "delete", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ClearChats handles DELETE /chats.
func (h *Handler) ClearChats(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context(), OwnerID(c)); err != nil {
		h.abortMutation(c, "clear", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ShareChat handles POST /chats/:id/share.
func (h *Handler) ShareChat(c *gin.Context) {
	chatID := c.Param("id")
	ownerID := OwnerID(c)

	if ownerID == AnonymousOwner {
		apierrors.AbortWithForbidden(c, apierrors.AnonymousOwner("share"))
		return
	}

	conv, err := h.service.Publish(c.Request.Context(), chatID, ownerID)
	if err != nil {
		apierrors.AbortWithInternal(c, "Failed to share chat", nil)
		return
	}
	if conv == nil {
		apierrors.AbortWithNotFound(c, "Chat not found", map[string]any{"chat_id": chatID})
		return
	}

	h.logger.WithContext(c.Request.Context()).Info("chat shared",
		slog.String("chat_id", chatID),
		slog.String("share_path", *conv.SharePath))

	c.JSON(http.StatusOK, conv)
}

// GetSharedChat handles GET /share/:id. No owner is required.
func (h *Handler) GetSharedChat(c *gin.Context) {
	chatID := c.Param("id")

	conv, err := h.service.GetShared(c.Request.Context(), chatID)
	if err != nil {
		apierrors.AbortWithInternal(c, "Failed to get shared chat", nil)
		return
	}
	if conv == nil {
		apierrors.AbortWithNotFound(c, "Shared chat not found", map[string]any{"chat_id": chatID})
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *Handler) abortMutation(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, ErrAnonymousOwner):
		apierrors.AbortWithForbidden(c, apierrors.AnonymousOwner(operation))
	case errors.Is(err, ErrNotOwned):
		apierrors.AbortWithForbidden(c, apierrors.ChatNotOwned(c.Param("id")))
	default:
		apierrors.AbortWithInternal(c, "Failed to "+operation+" chats", nil)
	}
}

func queryInt(c *gin.Context, key string, defaultValue int) (int, error) {
	value := c.Query(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
