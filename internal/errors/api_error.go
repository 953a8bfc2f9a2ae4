package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the JSON body of every non-2xx response that has no specialized shape.
type APIError struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]any) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}

func abort(c *gin.Context, status int, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, NewAPIError(message, details))
}

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusBadRequest, message, details)
}

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusUnauthorized, message, details)
}

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusNotFound, message, details)
}

// AbortWithConflict sends a 409 Conflict response and aborts the request.
func AbortWithConflict(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusConflict, message, details)
}

// AbortWithServiceUnavailable sends a 503 Service Unavailable response and aborts the request.
func AbortWithServiceUnavailable(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusServiceUnavailable, message, details)
}

// AbortWithInternal sends a 500 Internal Server Error response and aborts the request.
// message must be safe to show to end users.
func AbortWithInternal(c *gin.Context, message string, details map[string]any) {
	abort(c, http.StatusInternalServerError, message, details)
}
