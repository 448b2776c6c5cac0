package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
)

// ErrNoProvider means no enabled, available provider could be selected; a
// geocoding job hitting this fails before its first batch.
var ErrNoProvider = errors.New("no geocoding provider available")

const batchFanOut = 4

// Registry pairs provider implementations with their durable configuration
// rows. Implementations are registered once at composition time; rows decide
// enablement, primacy and fallback order and are read-only here.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Provider
	repo  repos.GeocodingProviderRepo
	log   *logger.Logger
}

func NewRegistry(repo repos.GeocodingProviderRepo, baseLog *logger.Logger) *Registry {
	return &Registry{
		impls: make(map[string]Provider),
		repo:  repo,
		log:   baseLog.With("component", "GeocoderRegistry"),
	}
}

func (r *Registry) Register(p Provider) error {
	if p == nil || p.ProviderID() == "" {
		return fmt.Errorf("invalid provider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.impls[p.ProviderID()]; exists {
		return fmt.Errorf("provider already registered: %s", p.ProviderID())
	}
	r.impls[p.ProviderID()] = p
	return nil
}

func (r *Registry) Get(providerID string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.impls[providerID]
	return p, ok
}

// HasEnabled reports whether at least one enabled provider row has a
// registered implementation. The control plane refuses geocoding jobs when
// this is false.
func (r *Registry) HasEnabled(ctx context.Context) (bool, error) {
	rows, err := r.repo.ListEnabled(dbctx.Context{Ctx: ctx})
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if _, ok := r.Get(row.ProviderID); ok {
			return true, nil
		}
	}
	return false, nil
}

// Select picks the provider for a job: the pinned provider when given,
// enabled and available; otherwise the primary; otherwise the remaining
// enabled providers in priority order.
func (r *Registry) Select(ctx context.Context, pinned string) (Provider, error) {
	dbc := dbctx.Context{Ctx: ctx}

	if pinned != "" {
		row, err := r.repo.GetByProviderID(dbc, pinned)
		if err != nil {
			return nil, err
		}
		if row != nil && row.IsEnabled {
			if impl, ok := r.Get(row.ProviderID); ok && impl.IsAvailable(ctx) {
				return impl, nil
			}
		}
		r.log.Warn("Pinned provider unusable, falling back", "provider_id", pinned)
	}

	primary, err := r.repo.GetPrimary(dbc)
	if err != nil {
		return nil, err
	}
	if primary != nil && primary.IsEnabled {
		if impl, ok := r.Get(primary.ProviderID); ok && impl.IsAvailable(ctx) {
			return impl, nil
		}
	}

	rows, err := r.repo.ListEnabled(dbc)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if primary != nil && row.ProviderID == primary.ProviderID {
			continue
		}
		if impl, ok := r.Get(row.ProviderID); ok && impl.IsAvailable(ctx) {
			return impl, nil
		}
	}
	return nil, ErrNoProvider
}

// BatchGeocode resolves a batch through the provider's native batch API when
// it has one, or through a bounded parallel fan-out of single calls. The
// result slice is index-aligned with reqs; failed entries are nil.
func (r *Registry) BatchGeocode(ctx context.Context, p Provider, reqs []Request, perCallTimeout func(context.Context) (context.Context, context.CancelFunc)) ([]*Result, error) {
	if bg, ok := p.(BatchGeocoder); ok {
		return bg.BatchGeocode(ctx, reqs)
	}

	results := make([]*Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchFanOut)
	for i := range reqs {
		g.Go(func() error {
			callCtx := gctx
			cancel := context.CancelFunc(func() {})
			if perCallTimeout != nil {
				callCtx, cancel = perCallTimeout(gctx)
			}
			defer cancel()
			res, err := p.Geocode(callCtx, reqs[i])
			if err != nil {
				// Unit failures stay unit failures; the pipeline records them.
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
