package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/recap/internal/api/handler"
	"github.com/timmy/recap/internal/api/middleware"
	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/logger"
	"github.com/timmy/recap/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	coordinator *service.Coordinator,
	knowledge *service.KnowledgeService,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	batchHandler := handler.NewBatchHandler(coordinator)
	knowledgeHandler := handler.NewKnowledgeHandler(knowledge)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Batch processing
		v1.POST("/batches", batchHandler.Submit)
		v1.GET("/batches/:id", batchHandler.GetJob)

		// Knowledge store
		v1.GET("/search", knowledgeHandler.Search)
		v1.POST("/search", knowledgeHandler.SearchPost)
		v1.GET("/stats", knowledgeHandler.Stats)
	}

	return r
}
