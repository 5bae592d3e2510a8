package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const adminTokenHeader = "X-Admin-Token"

// GinRequireAdminToken guards the operator surface (duplicate scan,
// destructive merge). An empty configured token disables the surface
// entirely rather than leaving it open.
func GinRequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader(adminTokenHeader)
		if token == "" || supplied == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(supplied)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
