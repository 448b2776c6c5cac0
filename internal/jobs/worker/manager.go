package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

// Persisted pool-size setting keys. The env vars of the same spirit are the
// defaults when no row exists yet.
const (
	SettingMaxWorkers       = "workers.max"
	SettingImportWorkers    = "workers.import"
	SettingGeocodeWorkers   = "workers.geocode"
	SettingScheduledWorkers = "workers.scheduled"
)

type PoolSizes struct {
	Max       int `json:"max_workers"`
	Import    int `json:"import_workers"`
	Geocode   int `json:"geocode_workers"`
	Scheduled int `json:"scheduled_workers"`
}

// Manager owns the three pools. Sizes come from durable settings at startup;
// Reconfigure drains one pool and restarts it at the new size, persisting the
// change.
type Manager struct {
	broker   queue.Broker
	orc      *orchestrator.Orchestrator
	registry *runtime.Registry
	settings repos.SettingRepo
	log      *logger.Logger

	mu      sync.Mutex
	rootCtx context.Context
	pools   map[string]*Pool
}

func NewManager(broker queue.Broker, orc *orchestrator.Orchestrator, registry *runtime.Registry, settings repos.SettingRepo, baseLog *logger.Logger) *Manager {
	return &Manager{
		broker:   broker,
		orc:      orc,
		registry: registry,
		settings: settings,
		log:      baseLog.With("component", "WorkerManager"),
		pools:    map[string]*Pool{},
	}
}

// LoadSizes reads persisted pool sizes, falling back to env defaults. Each
// pool is capped by the max-workers knob.
func (m *Manager) LoadSizes(ctx context.Context) PoolSizes {
	dbc := dbctx.Context{Ctx: ctx}
	sizes := PoolSizes{
		Max:       utils.GetEnvAsInt("MAX_WORKERS", 8, m.log),
		Import:    utils.GetEnvAsInt("IMPORT_WORKERS", 2, m.log),
		Geocode:   utils.GetEnvAsInt("GEOCODE_WORKERS", 4, m.log),
		Scheduled: utils.GetEnvAsInt("SCHEDULED_WORKERS", 1, m.log),
	}
	if m.settings != nil {
		sizes.Max, _ = m.settings.GetInt(dbc, SettingMaxWorkers, sizes.Max)
		sizes.Import, _ = m.settings.GetInt(dbc, SettingImportWorkers, sizes.Import)
		sizes.Geocode, _ = m.settings.GetInt(dbc, SettingGeocodeWorkers, sizes.Geocode)
		sizes.Scheduled, _ = m.settings.GetInt(dbc, SettingScheduledWorkers, sizes.Scheduled)
	}
	sizes.Import = clampSize(sizes.Import, sizes.Max)
	sizes.Geocode = clampSize(sizes.Geocode, sizes.Max)
	sizes.Scheduled = clampSize(sizes.Scheduled, sizes.Max)
	return sizes
}

func clampSize(n, max int) int {
	if n < 1 {
		n = 1
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootCtx != nil {
		return
	}
	m.rootCtx = ctx

	sizes := m.LoadSizes(ctx)
	m.log.Info("Starting worker pools",
		"import_workers", sizes.Import,
		"geocode_workers", sizes.Geocode,
		"scheduled_workers", sizes.Scheduled,
	)
	for queueName, size := range map[string]int{
		queue.QueueVoterImport: sizes.Import,
		queue.QueueGeocode:     sizes.Geocode,
		queue.QueueScheduled:   sizes.Scheduled,
	} {
		p := NewPool(queueName, size, m.broker, m.orc, m.registry, m.log)
		m.pools[queueName] = p
		p.Start(ctx)
	}
}

func (m *Manager) Stop() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()
	for _, p := range pools {
		p.Stop()
	}
}

// Reconfigure drains the named pool, restarts it at the new size, and
// persists the size so the next boot starts there.
func (m *Manager) Reconfigure(ctx context.Context, queueName string, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.pools[queueName]
	if !ok {
		return fmt.Errorf("unknown queue: %s", queueName)
	}
	if size < 1 {
		return fmt.Errorf("pool size must be >= 1")
	}

	var key string
	switch queueName {
	case queue.QueueVoterImport:
		key = SettingImportWorkers
	case queue.QueueGeocode:
		key = SettingGeocodeWorkers
	case queue.QueueScheduled:
		key = SettingScheduledWorkers
	}
	if m.settings != nil && key != "" {
		if err := m.settings.Set(dbctx.Context{Ctx: ctx}, key, strconv.Itoa(size)); err != nil {
			return fmt.Errorf("persist pool size: %w", err)
		}
	}

	old.Stop()
	p := NewPool(queueName, size, m.broker, m.orc, m.registry, m.log)
	m.pools[queueName] = p
	p.Start(m.rootCtx)
	m.log.Info("Worker pool reconfigured", "queue", queueName, "size", size)
	return nil
}

func (m *Manager) Sizes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.pools))
	for q, p := range m.pools {
		out[q] = p.Size()
	}
	return out
}
