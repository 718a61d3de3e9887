package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"canopy/backend/internal/auth"
)

// A private key for context access
type contextKey string

const userContextKey = contextKey("user")

// SessionUser is the authenticated identity stored in the request context.
type SessionUser struct {
	ID    string
	Email string
}

// AuthMiddleware verifies Bearer session tokens. WebSocket clients may
// pass the token as a query parameter instead, since browser websocket
// APIs cannot set headers.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.Request.Header.Get("Authorization"); authHeader != "" {
			tokenString = strings.Replace(authHeader, "Bearer ", "", 1)
		} else {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		claims, err := auth.ParseJWT(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid auth token"})
			return
		}

		user := &SessionUser{ID: claims.UserID, Email: claims.Email}
		ctx := context.WithValue(c.Request.Context(), userContextKey, user)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ForContext finds the user from the context.
func ForContext(ctx context.Context) *SessionUser {
	raw, _ := ctx.Value(userContextKey).(*SessionUser)
	return raw
}
