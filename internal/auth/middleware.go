package auth

import (
	"log/slog"
	"strings"

	apierrors "github.com/eternisai/search-chat/internal/errors"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/gin-gonic/gin"
)

// OwnerIDKey is the gin context key holding the authenticated owner identifier.
const OwnerIDKey = "owner_id"

type Middleware struct {
	validator TokenValidator
	logger    *logger.Logger
}

func NewMiddleware(validator TokenValidator, logger *logger.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger.WithComponent("auth"),
	}
}

// OptionalAuth attaches the owner ID when a bearer token is present. Requests without an
// Authorization header continue unauthenticated; malformed or invalid tokens are rejected.
func (m *Middleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierrors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token", nil)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			apierrors.AbortWithUnauthorized(c, "Bearer token is empty", nil)
			return
		}

		ownerID, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.WithContext(c.Request.Context()).Debug("token validation failed",
				slog.String("error", err.Error()))
			apierrors.AbortWithUnauthorized(c, "Invalid or expired token", nil)
			return
		}

		ctx := logger.WithOwnerID(c.Request.Context(), ownerID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(OwnerIDKey, ownerID)

		c.Next()
	}
}

// GetOwnerID extracts the owner ID set by OptionalAuth.
func GetOwnerID(c *gin.Context) (string, bool) {
	ownerID, exists := c.Get(OwnerIDKey)
	if !exists {
		return "", false
	}

	id, ok := ownerID.(string)
	return id, ok && id != ""
}
