package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"amoreport/internal/authz"
)

func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(CtxScopes)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no scopes in context"})
			return
		}
		scopes, _ := v.([]string)
		if !authz.HasScope(scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
