package app

import (
	"github.com/gin-gonic/gin"

	"github.com/Spinnernicholas/cocoa-canvas/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthMiddleware:     mw.Auth,
		JobsHandler:        handlerset.Jobs,
		GeocodingHandler:   handlerset.Geocoding,
		VoterImportHandler: handlerset.VoterImport,
		ProviderHandler:    handlerset.Providers,
		AdminHandler:       handlerset.Admin,
		AllowOrigins:       cfg.AllowOrigins,
	})
}
