package handlers

import (
	"github.com/gin-gonic/gin"

	"amoreport/internal/middleware"
)

func subjectFromCtx(c *gin.Context) string {
	v, ok := c.Get(middleware.CtxSubject)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
