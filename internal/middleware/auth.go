package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// IdentityResolver maps a bearer credential to a stable user identity.
// Verification of the credential itself lives in the auth service; the
// engine only consumes the resolved subject.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// GetUserID extracts the authenticated user id from the request context.
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// Auth returns middleware that resolves the Authorization bearer token to
// a user id and aborts unauthenticated requests.
func Auth(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OpaqueTokenResolver treats the token itself as the user identity. It is
// the standalone mode used behind a fronting auth proxy that has already
// verified the credential.
type OpaqueTokenResolver struct{}

func (OpaqueTokenResolver) Resolve(_ context.Context, token string) (string, error) {
	return token, nil
}
