package app

import (
	"fmt"

	"github.com/Spinnernicholas/cocoa-canvas/internal/geocode"
	"github.com/Spinnernicholas/cocoa-canvas/internal/importer"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/recovery"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/tasks"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/worker"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
)

type Services struct {
	Broker       queue.Broker
	Orchestrator *orchestrator.Orchestrator
	Runtime      *runtime.Registry
	Geocoders    *geocode.Registry
	Importers    *importer.Registry
	Workers      *worker.Manager
	Recovery     *recovery.Recovery
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	broker, err := queue.NewRedisBroker(log)
	if err != nil {
		return Services{}, fmt.Errorf("init redis broker: %w", err)
	}

	orc := orchestrator.New(reposet.Jobs, broker, log)
	rt := runtime.NewRegistry()

	geocoders := geocode.NewRegistry(reposet.Providers, log)
	for _, p := range []geocode.Provider{
		geocode.NewCensusProvider(log),
		geocode.NewNominatimProvider(log),
	} {
		if err := geocoders.Register(p); err != nil {
			return Services{}, fmt.Errorf("register geocoder %s: %w", p.ProviderID(), err)
		}
	}

	importers := importer.NewRegistry()
	for _, imp := range []importer.Importer{
		importer.NewSimpleCSVImporter(),
		importer.NewContraCostaImporter(),
	} {
		if err := importers.Register(imp); err != nil {
			return Services{}, fmt.Errorf("register importer %s: %w", imp.FormatID(), err)
		}
	}

	for _, h := range []runtime.Handler{
		geocode.NewPipeline(reposet.Households, geocoders, log),
		importer.NewRunner(importers, reposet.Voters, log),
		tasks.NewUploadCleanup(cfg.UploadDir, log),
	} {
		if err := rt.Register(h); err != nil {
			return Services{}, fmt.Errorf("register handler %s: %w", h.Type(), err)
		}
	}

	return Services{
		Broker:       broker,
		Orchestrator: orc,
		Runtime:      rt,
		Geocoders:    geocoders,
		Importers:    importers,
		Workers:      worker.NewManager(broker, orc, rt, reposet.Settings, log),
		Recovery:     recovery.New(reposet.Jobs, orc, rt, log),
	}, nil
}
