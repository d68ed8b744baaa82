package routes

import (
	"github.com/gin-gonic/gin"

	"amoreport/internal/authz"
	"amoreport/internal/handlers"
	"amoreport/internal/middleware"
)

// SetupRoutes регистрирует ops-эндпоинты. POST /run публикуем только при
// заданном секрете.
func SetupRoutes(r *gin.Engine, reportHandler *handlers.ReportHandler, jwtSecret string) *gin.Engine {
	// ---- public
	r.GET("/healthz", reportHandler.Healthz)
	r.GET("/status", reportHandler.Status)

	// ---- protected
	if jwtSecret != "" {
		protected := r.Group("/", middleware.AuthMiddleware([]byte(jwtSecret)))
		protected.POST("/run", middleware.RequireScope(authz.ScopeReportRun), reportHandler.Run)
	}

	return r
}
