package finalizer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eternisai/search-chat/internal/chat"
	apierrors "github.com/eternisai/search-chat/internal/errors"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/streaming"
	"github.com/gin-gonic/gin"
)

// FinishRequest is the body of POST /chats/:id/finish.
type FinishRequest struct {
	Model                string               `json:"model" binding:"required"`
	Messages             []chat.ClientMessage `json:"messages"`
	ResponseMessages     []chat.ClientMessage `json:"responseMessages" binding:"required,min=1"`
	Annotations          []json.RawMessage    `json:"annotations,omitempty"`
	SkipRelatedQuestions bool                 `json:"skipRelatedQuestions,omitempty"`
}

type Handler struct {
	finalizer *Finalizer
	relay     *streaming.NATSRelay
	logger    *logger.Logger
}

// NewHandler creates the finish handler. relay may be nil when NATS is not configured.
func NewHandler(finalizer *Finalizer, relay *streaming.NATSRelay, logger *logger.Logger) *Handler {
	return &Handler{
		finalizer: finalizer,
		relay:     relay,
		logger:    logger.WithComponent("finalizer-handler"),
	}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/chats/:id/finish", h.FinishChat)
	group.GET("/chats/:id/annotations", h.FollowChat)
}

// FinishChat handles POST /chats/:id/finish. The response is an AI SDK data stream that
// carries the related-questions annotations and, on a failed save, an error part.
func (h *Handler) FinishChat(c *gin.Context) {
	var req FinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid request body", map[string]any{"error": err.Error()})
		return
	}

	turn := Turn{
		ChatID:               c.Param("id"),
		OwnerID:              chat.OwnerID(c),
		Model:                req.Model,
		OriginalMessages:     req.Messages,
		ResponseMessages:     req.ResponseMessages,
		Annotations:          chat.NewDataMessages(req.Annotations),
		SkipRelatedQuestions: req.SkipRelatedQuestions,
	}

	setDataStreamHeaders(c)

	stream := streaming.NewDataStreamWriter(c.Writer)
	var writer streaming.AnnotationWriter = stream
	if h.relay != nil {
		writer = streaming.NewMultiWriter(stream, h.relay.ForOwner(turn.OwnerID))
	}

	err := h.finalizer.Finalize(c.Request.Context(), turn, writer)
	if err == nil {
		return
	}

	message := "Failed to finish chat"
	if errors.Is(err, ErrSaveChatHistory) {
		message = err.Error()
	}

	if werr := stream.WriteError(message); werr != nil {
		h.logger.WithContext(c.Request.Context()).Warn("failed to write error part",
			slog.String("chat_id", turn.ChatID),
			slog.String("error", werr.Error()))
	}
}

// FollowChat handles GET /chats/:id/annotations. It streams the annotations of turns of
// the caller's chat finalized on any instance until the client disconnects.
func (h *Handler) FollowChat(c *gin.Context) {
	ownerID := chat.OwnerID(c)
	if ownerID == chat.AnonymousOwner {
		apierrors.AbortWithForbidden(c, apierrors.AnonymousOwner("follow"))
		return
	}
	if h.relay == nil {
		apierrors.AbortWithServiceUnavailable(c, "Annotation relay is not configured", nil)
		return
	}

	chatID := c.Param("id")
	ctx := c.Request.Context()
	log := h.logger.WithContext(ctx)

	events := make(chan streaming.AnnotationEvent, followBufferSize)
	sub, err := h.relay.Subscribe(chatID, func(event streaming.AnnotationEvent) {
		select {
		case events <- event:
		default:
			log.Warn("annotation follower is lagging, dropping event",
				slog.String("chat_id", event.ChatID))
		}
	})
	if err != nil {
		h.logger.LogError(ctx, err, "failed to follow chat", slog.String("chat_id", chatID))
		apierrors.AbortWithInternal(c, "Failed to follow chat", nil)
		return
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug("failed to unsubscribe follower", slog.String("error", err.Error()))
		}
	}()

	setDataStreamHeaders(c)
	c.Writer.Flush()

	if err := streaming.ForwardAnnotations(ctx, events, ownerID, streaming.NewDataStreamWriter(c.Writer)); err != nil {
		log.Debug("annotation follower disconnected",
			slog.String("chat_id", chatID),
			slog.String("error", err.Error()))
	}
}

const followBufferSize = 16

func setDataStreamHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Vercel-AI-Data-Stream", "v1")
	c.Status(http.StatusOK)
}
