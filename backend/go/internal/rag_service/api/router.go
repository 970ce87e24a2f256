package api

import (
	"github.com/gin-gonic/gin"

	"ragcompare/backend/go/internal/config"
	"ragcompare/backend/go/pkg/httpmiddleware"
	"ragcompare/backend/go/pkg/logger"
)

// SetupRouter 配置和返回一个 Gin 引擎实例。
func SetupRouter(h *Handler, auth config.AuthConfig, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpmiddleware.RequestLogger(log))

	r.GET("/healthz", h.Health)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(AuthMiddleware(auth))
	{
		apiV1.GET("/models", h.ListModels)
		apiV1.POST("/sessions", h.CreateSession)

		sessions := apiV1.Group("/sessions/:id")
		sessions.Use(h.RequireOwner)
		{
			sessions.GET("", h.GetSession)
			sessions.DELETE("", h.EndSession)
			sessions.POST("/documents", h.UploadDocument)
			sessions.POST("/ask", h.Ask)
			sessions.GET("/history", h.History)
			sessions.DELETE("/history", h.ResetHistory)
			sessions.POST("/compare", h.Compare)
		}
	}
	return r
}
