package middleware

import (
	"net/http"
	"strings"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/services"
	apperrors "eventcast/pkg/errors"
	"eventcast/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// BearerToken returns the token of an "Authorization: Bearer" header,
// falling back to the access_token query parameter browsers use for
// websocket upgrades.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// IdentityMiddleware resolves the caller identity of every request. Missing
// or invalid tokens resolve to an anonymous guest.
func IdentityMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := authService.IdentityFromToken(BearerToken(c.Request))
		c.Set(identityKey, identity)

		if identity.Authenticated {
			ctx := logger.WithUserID(c.Request.Context(), string(identity.UserID))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireAuth rejects guests. It must run after IdentityMiddleware.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).Authenticated {
			appErr := apperrors.NewUnauthorizedError("authentication required")
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity resolved for the request, or a guest.
func IdentityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(domain.Identity); ok {
			return identity
		}
	}
	return domain.Identity{}
}
