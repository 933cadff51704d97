package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity binds the caller's user id from the X-User-Id header set by
// the authenticating gateway. Token validation itself happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
