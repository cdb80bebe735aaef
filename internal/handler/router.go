package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/repoqa/internal/metrics"
	"github.com/xxxsen/repoqa/internal/middleware"
)

type RouterDeps struct {
	Index     *IndexHandler
	Questions *QuestionHandler
	Sessions  *SessionHandler
	Health    *HealthHandler
	JWTSecret []byte
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", deps.Health.Healthz)
	api.GET("/metrics", gin.WrapH(metrics.Handler()))

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/index", deps.Index.Submit)
	authGroup.GET("/index", deps.Index.List)
	authGroup.GET("/index/:job_id", deps.Index.Status)

	authGroup.POST("/questions", deps.Questions.Ask)

	authGroup.GET("/sessions", deps.Sessions.List)
	authGroup.GET("/sessions/:session_id", deps.Sessions.Get)
}
