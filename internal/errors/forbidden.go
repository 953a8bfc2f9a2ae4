package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonAnonymousOwner ForbiddenReason = "anonymous_owner"
	ReasonChatNotOwned   ForbiddenReason = "chat_not_owned"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Error     string          `json:"error"`             // Technical error message (for logs)
	UIMessage string          `json:"uiMessage"`         // User-friendly message (for UI display)
	Reason    ForbiddenReason `json:"reason"`            // Machine-readable reason code
	Details   map[string]any  `json:"details,omitempty"` // Optional context data
}

// NewForbiddenError creates a new ForbiddenError with the given parameters.
func NewForbiddenError(reason ForbiddenReason, errorMsg, uiMessage string, details map[string]any) *ForbiddenError {
	return &ForbiddenError{
		Error:     errorMsg,
		UIMessage: uiMessage,
		Reason:    reason,
		Details:   details,
	}
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// AnonymousOwner rejects an owner-scoped operation attempted without an authenticated owner.
func AnonymousOwner(operation string) *ForbiddenError {
	return NewForbiddenError(
		ReasonAnonymousOwner,
		"Anonymous users cannot "+operation+" chats",
		"Sign in to keep and manage your chat history.",
		map[string]any{
			"operation": operation,
		},
	)
}

// ChatNotOwned creates a ForbiddenError for a conversation that belongs to another owner.
func ChatNotOwned(chatID string) *ForbiddenError {
	return NewForbiddenError(
		ReasonChatNotOwned,
		"Forbidden: You don't own this chat",
		"You don't have permission to access this chat.",
		map[string]any{
			"chat_id": chatID,
		},
	)
}
