package app

import (
	"github.com/Spinnernicholas/cocoa-canvas/internal/handlers"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
)

type Handlers struct {
	Jobs        *handlers.JobsHandler
	Geocoding   *handlers.GeocodingHandler
	VoterImport *handlers.VoterImportHandler
	Providers   *handlers.ProviderHandler
	Admin       *handlers.AdminHandler
}

func wireHandlers(log *logger.Logger, cfg Config, reposet Repos, serviceset Services) Handlers {
	return Handlers{
		Jobs:        handlers.NewJobsHandler(serviceset.Orchestrator, serviceset.Runtime),
		Geocoding:   handlers.NewGeocodingHandler(serviceset.Orchestrator, serviceset.Geocoders, reposet.Households),
		VoterImport: handlers.NewVoterImportHandler(serviceset.Orchestrator, serviceset.Importers, cfg.UploadDir, log),
		Providers:   handlers.NewProviderHandler(reposet.Providers, serviceset.Geocoders),
		Admin:       handlers.NewAdminHandler(serviceset.Broker, serviceset.Workers),
	}
}
