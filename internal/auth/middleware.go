package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiKeyHeader carries the machine-client credential.
const apiKeyHeader = "X-API-Key"

// identityKey is the gin context key holding the verified dashboard user.
const identityKey = "auth.user"

// RequireAPIKey rejects requests whose X-API-Key header does not match
// key. Comparison is constant time.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(apiKeyHeader)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

// RequireToken rejects requests without a valid dashboard bearer token.
// On success the verified username is stored in the request context.
func RequireToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}
		user, err := m.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(identityKey, user)
		c.Next()
	}
}

// UserFrom returns the dashboard username set by RequireToken.
func UserFrom(c *gin.Context) string {
	return c.GetString(identityKey)
}
