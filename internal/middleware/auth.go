package middleware

import (
	"net/http"
	"strings"

	"familyhub/internal/auth"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// JWTAuthMiddleware validates the bearer token in the Authorization header and
// stores the caller's identity in the context. Failures answer 401 with the
// {message} body the broadcast client library expects.
func JWTAuthMiddleware(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := ""
		if authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Unauthenticated.",
			})
			return
		}

		identity, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Unauthenticated.",
			})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// Identity returns the caller set by JWTAuthMiddleware, or nil.
func Identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}
