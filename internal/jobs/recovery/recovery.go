package recovery

import (
	"context"
	"encoding/json"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// Recovery reconciles durable job state with the broker at process startup.
// Jobs left pending or processing by a previous process are normalised to
// pending and re-enqueued under their job id; the Start CAS makes the
// redelivery safe and checkpointed handlers resume where they stopped.
type Recovery struct {
	repo     repos.JobRepo
	orc      *orchestrator.Orchestrator
	registry *runtime.Registry
	log      *logger.Logger
}

func New(repo repos.JobRepo, orc *orchestrator.Orchestrator, registry *runtime.Registry, baseLog *logger.Logger) *Recovery {
	return &Recovery{
		repo:     repo,
		orc:      orc,
		registry: registry,
		log:      baseLog.With("component", "Recovery"),
	}
}

func (r *Recovery) Run(ctx context.Context) error {
	stranded, err := r.repo.ListByStatuses(dbctx.Context{Ctx: ctx},
		[]string{types.JobStatusPending, types.JobStatusProcessing})
	if err != nil {
		return err
	}
	if len(stranded) == 0 {
		return nil
	}

	var requeued, failed int
	for _, job := range stranded {
		if _, ok := r.registry.Get(job.Type); !ok {
			r.log.Warn("Recovery found job with unknown type", "job_id", job.ID, "job_type", job.Type)
			_ = r.orc.Fail(ctx, job.ID, "recovery: no handler for job_type="+job.Type)
			failed++
			continue
		}
		if len(job.Payload) > 0 && !json.Valid(job.Payload) {
			r.log.Warn("Recovery found job with malformed payload", "job_id", job.ID)
			_ = r.orc.Fail(ctx, job.ID, "recovery: malformed payload")
			failed++
			continue
		}

		if job.Status == types.JobStatusProcessing {
			ok, err := r.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, job.ID,
				[]string{types.JobStatusProcessing},
				map[string]interface{}{"status": types.JobStatusPending})
			if err != nil {
				r.log.Warn("Recovery normalise failed", "job_id", job.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			job.Status = types.JobStatusPending
		}

		if err := r.orc.Enqueue(ctx, job, 0); err != nil {
			r.log.Warn("Recovery re-enqueue failed", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}

	r.log.Info("Startup recovery complete", "requeued", requeued, "failed", failed, "scanned", len(stranded))
	return nil
}
