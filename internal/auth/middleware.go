package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const handleKey = "auth.handle"

// Middleware requires a valid "Authorization: Bearer <jwt>" header and stores
// the token's handle on the gin context.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth", "message": "missing authorization"})
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth", "message": "invalid authorization format"})
			return
		}

		claims, err := i.ParseToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth", "message": "invalid token"})
			return
		}
		c.Set(handleKey, claims.Handle)
		c.Next()
	}
}

// Handle returns the authenticated handle set by Middleware.
func Handle(c *gin.Context) string {
	return c.GetString(handleKey)
}
