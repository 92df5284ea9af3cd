package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sammy/pagelift/internal/api/handler"
	"github.com/sammy/pagelift/internal/api/middleware"
	"github.com/sammy/pagelift/internal/config"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/pipeline"
	"github.com/sammy/pagelift/internal/service"
)

// RouterDeps bundles what the routes need.
type RouterDeps struct {
	Jobs      *service.JobService
	Extractor pipeline.Extractor
	Log       *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, jwtSecret string, deps RouterDeps) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))
	r.Use(middleware.Auth(jwtSecret))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.Extractor)
	jobHandler := handler.NewJobHandler(deps.Jobs, cfg.MaxUploadSize)
	feedbackHandler := handler.NewFeedbackHandler(deps.Jobs)

	// Health check and metrics
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Job lifecycle
	r.POST("/extract", jobHandler.Extract)
	r.GET("/jobs/:id", jobHandler.Status)
	r.GET("/jobs/:id/result", jobHandler.Result)
	r.GET("/jobs/:id/result/components", jobHandler.Components)
	r.DELETE("/jobs/:id", jobHandler.Delete)
	r.PATCH("/jobs/:id/rename", jobHandler.Rename)

	// Feedback
	r.POST("/feedback", feedbackHandler.Submit)

	// Guest component images; everything else under the job data dir
	// stays unreachable
	r.GET("/static/guest/:id/:file", jobHandler.GuestAsset)

	return r
}
