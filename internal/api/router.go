package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mystorage/mystorage/internal/common/logger"
	"github.com/mystorage/mystorage/internal/events/bus"
	"github.com/mystorage/mystorage/internal/history/repository"
	"github.com/mystorage/mystorage/internal/streaming"
)

// NewRouter builds the gin engine with middleware, API routes, and the
// WebSocket endpoint.
func NewRouter(
	sup SessionSupervisor,
	engine RepositoryEngine,
	history repository.Repository,
	creds CredentialSource,
	eventBus bus.EventBus,
	hub *streaming.Hub,
	log *logger.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestLogger(log))
	router.Use(ErrorHandler(log))
	router.Use(CORS())

	handler := NewHandler(sup, engine, history, creds, eventBus, log)

	router.GET("/health", handler.HealthCheck)
	router.GET("/ws", ServeWS(hub, log))

	v1Group := router.Group("/api/v1")
	SetupRoutes(v1Group, handler)

	return router
}

// SetupRoutes configures the zipper manager API routes
// router should be the /api/v1 group
func SetupRoutes(router *gin.RouterGroup, handler *Handler) {
	sessions := router.Group("/sessions")
	{
		sessions.POST("", handler.StartSession)
		sessions.GET("/current", handler.GetCurrentSession)
		sessions.DELETE("/current", handler.StopSession)
		sessions.POST("/reset", handler.ResetSession)
		sessions.GET("/history", handler.SessionHistory)
	}

	repo := router.Group("/repository")
	{
		repo.GET("/status", handler.RepositoryStatus)
		repo.POST("/publish", handler.PublishRepository)
		repo.GET("/history", handler.PushHistory)
	}
}
