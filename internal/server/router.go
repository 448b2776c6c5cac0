package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Spinnernicholas/cocoa-canvas/internal/handlers"
	"github.com/Spinnernicholas/cocoa-canvas/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware     *middleware.AuthMiddleware
	JobsHandler        *handlers.JobsHandler
	GeocodingHandler   *handlers.GeocodingHandler
	VoterImportHandler *handlers.VoterImportHandler
	ProviderHandler    *handlers.ProviderHandler
	AdminHandler       *handlers.AdminHandler
	AllowOrigins       []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Jobs
	api.POST("/jobs", cfg.JobsHandler.CreateJob)
	api.GET("/jobs", cfg.JobsHandler.ListJobs)
	api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
	api.POST("/jobs/:id/control", cfg.JobsHandler.ControlJob)
	api.DELETE("/jobs/:id", cfg.JobsHandler.DeleteJob)

	// Geocoding
	api.POST("/geocoding-jobs", cfg.GeocodingHandler.CreateGeocodingJob)
	api.GET("/geocoding-providers", cfg.ProviderHandler.ListProviders)
	api.POST("/geocoding-providers", cfg.ProviderHandler.CreateProvider)
	api.PATCH("/geocoding-providers/:providerId", cfg.ProviderHandler.UpdateProvider)
	api.POST("/geocoding-providers/:providerId/primary", cfg.ProviderHandler.SetPrimary)
	api.DELETE("/geocoding-providers/:providerId", cfg.ProviderHandler.DeleteProvider)

	// Imports
	api.GET("/import-formats", cfg.VoterImportHandler.ListFormats)
	api.POST("/voter-import-jobs", cfg.VoterImportHandler.CreateImportJob)

	// Queues / workers
	api.GET("/queues", cfg.AdminHandler.GetQueues)
	api.POST("/queues/:name/pause", cfg.AdminHandler.PauseQueue)
	api.POST("/queues/:name/resume", cfg.AdminHandler.ResumeQueue)
	api.POST("/admin/workers", cfg.AdminHandler.ReconfigureWorkers)

	return router
}
