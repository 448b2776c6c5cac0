package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

const (
	defaultBatchSize  = 100
	interBatchDelay   = 100 * time.Millisecond
	defaultJobTimeout = 5 * time.Second
)

// Payload is the durable state of one geocoding job. Static jobs carry their
// full work set in HouseholdIDs and resume from CheckpointIndex; dynamic jobs
// re-query at every start and rely on SkipGeocoded to avoid repeating work.
type Payload struct {
	Filters            repos.HouseholdFilter `json:"filters"`
	Limit              int                   `json:"limit,omitempty"`
	SkipGeocoded       *bool                 `json:"skipGeocoded,omitempty"`
	ProviderID         string                `json:"providerId,omitempty"`
	Dynamic            bool                  `json:"dynamic"`
	HouseholdIDs       []uuid.UUID           `json:"householdIds,omitempty"`
	CheckpointIndex    int                   `json:"checkpointIndex"`
	FailedHouseholdIDs []uuid.UUID           `json:"failedHouseholdIds,omitempty"`
}

// SkipGeocodedOrDefault defaults to true when the field is absent.
func (p *Payload) SkipGeocodedOrDefault() bool {
	return p.SkipGeocoded == nil || *p.SkipGeocoded
}

// Stats is the terminal output_stats shape.
type Stats struct {
	ProcessedCount int `json:"processedCount"`
	SuccessCount   int `json:"successCount"`
	FailureCount   int `json:"failureCount"`
}

// Pipeline is the geocoding job handler. It walks the household work set in
// fixed batches, checkpointing after every batch so pause, cancel, and crash
// recovery all resume at a batch boundary.
type Pipeline struct {
	households repos.HouseholdRepo
	providers  *Registry
	log        *logger.Logger

	batchSize   int
	batchDelay  time.Duration
	callTimeout time.Duration
}

func NewPipeline(households repos.HouseholdRepo, providers *Registry, baseLog *logger.Logger) *Pipeline {
	return &Pipeline{
		households:  households,
		providers:   providers,
		log:         baseLog.With("component", "GeocodePipeline"),
		batchSize:   defaultBatchSize,
		batchDelay:  interBatchDelay,
		callTimeout: defaultJobTimeout,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeGeocoding }

func (p *Pipeline) Run(jc *runtime.Context) (any, error) {
	var payload Payload
	if err := jc.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	provider, err := p.providers.Select(jc.Ctx, payload.ProviderID)
	if err != nil {
		return nil, err
	}
	log := jc.Log.With("provider", provider.ProviderID(), "job_id", jc.Job.ID)

	ids, start, err := p.workSet(jc.Ctx, &payload)
	if err != nil {
		return nil, fmt.Errorf("materialise work set: %w", err)
	}

	// Resumed counters. Successes are whatever part of the checkpoint was not
	// recorded as failed.
	failed := append([]uuid.UUID(nil), payload.FailedHouseholdIDs...)
	processed := start
	success := processed - len(failed)
	if success < 0 {
		success = 0
	}

	var totalPtr *int
	if !payload.Dynamic {
		total := len(ids)
		totalPtr = &total
	}
	jc.Progress(processed, totalPtr)

	for batchStart := start; batchStart < len(ids); batchStart += p.batchSize {
		if err := jc.CheckInterrupted(); err != nil {
			payload.CheckpointIndex = batchStart
			payload.FailedHouseholdIDs = failed
			if cerr := jc.Checkpoint(&payload); cerr != nil {
				log.Warn("Checkpoint on interrupt failed", "error", cerr)
			}
			return nil, err
		}

		batchEnd := batchStart + p.batchSize
		if batchEnd > len(ids) {
			batchEnd = len(ids)
		}
		batch := ids[batchStart:batchEnd]

		rows, err := p.households.GetByIDs(dbctx.Context{Ctx: jc.Ctx}, batch)
		if err != nil {
			return nil, fmt.Errorf("load households: %w", err)
		}
		byID := make(map[uuid.UUID]*types.Household, len(rows))
		for _, h := range rows {
			byID[h.ID] = h
		}

		// Settle what needs no provider call, then resolve the rest as one
		// batch so providers with a native batch API get it in one shot.
		var work []*types.Household
		for _, id := range batch {
			h := byID[id]
			switch {
			case h == nil:
				jc.AppendError(fmt.Sprintf("household %s: not found", id))
				failed = append(failed, id)
				processed++
			case payload.SkipGeocodedOrDefault() && h.Geocoded:
				success++
				processed++
			case h.FullAddress() == "":
				jc.AppendError(fmt.Sprintf("household %s: empty address", h.ID))
				failed = append(failed, h.ID)
				processed++
			default:
				work = append(work, h)
			}
		}

		if len(work) > 0 {
			reqs := make([]Request, len(work))
			for i, h := range work {
				reqs[i] = Request{Address: h.Address, City: h.City, State: h.State, ZipCode: h.ZipCode}
			}
			results, err := p.providers.BatchGeocode(jc.Ctx, provider, reqs, p.callScope)
			if err != nil {
				return nil, fmt.Errorf("batch geocode: %w", err)
			}
			for i, h := range work {
				processed++
				res := results[i]
				if res == nil {
					jc.AppendError(fmt.Sprintf("household %s: no result for %q", h.ID, h.FullAddress()))
					failed = append(failed, h.ID)
					continue
				}
				if err := p.households.MarkGeocoded(dbctx.Context{Ctx: jc.Ctx}, h.ID,
					res.Latitude, res.Longitude, res.Source, time.Now().UTC()); err != nil {
					log.Warn("Persisting geocode result failed", "household_id", h.ID, "error", err)
					jc.AppendError(fmt.Sprintf("household %s: persist: %v", h.ID, err))
					failed = append(failed, h.ID)
					continue
				}
				success++
			}
		}

		payload.CheckpointIndex = batchEnd
		payload.FailedHouseholdIDs = failed
		if err := jc.Checkpoint(&payload); err != nil {
			log.Warn("Checkpoint failed", "error", err)
		}
		jc.Progress(processed, totalPtr)

		if batchEnd < len(ids) {
			select {
			case <-jc.Ctx.Done():
				return nil, jc.Ctx.Err()
			case <-time.After(p.batchDelay):
			}
		}
	}

	stats := Stats{ProcessedCount: processed, SuccessCount: success, FailureCount: len(failed)}
	log.Info("Geocoding finished",
		"processed", stats.ProcessedCount,
		"succeeded", stats.SuccessCount,
		"failed", stats.FailureCount,
	)
	return stats, nil
}

// workSet resolves the household id sequence and the resume index. Static
// jobs walk their frozen id list from the checkpoint; dynamic jobs query
// fresh every run and always start at zero.
func (p *Pipeline) workSet(ctx context.Context, payload *Payload) ([]uuid.UUID, int, error) {
	if !payload.Dynamic {
		start := payload.CheckpointIndex
		if start < 0 {
			start = 0
		}
		if start > len(payload.HouseholdIDs) {
			start = len(payload.HouseholdIDs)
		}
		return payload.HouseholdIDs, start, nil
	}

	rows, err := p.households.FindForGeocoding(dbctx.Context{Ctx: ctx},
		payload.Filters, payload.SkipGeocodedOrDefault(), payload.Limit)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, h := range rows {
		ids = append(ids, h.ID)
	}
	payload.CheckpointIndex = 0
	return ids, 0, nil
}

// callScope bounds one provider call within the job context.
func (p *Pipeline) callScope(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}
