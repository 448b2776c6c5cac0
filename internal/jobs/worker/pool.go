package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
)

const claimWait = 2 * time.Second

// Pool runs a fixed number of parallel consumers against one broker queue.
// Each worker claims a unit, wins (or loses) the Start CAS, runs the
// registered handler, and settles with the broker. Pause/cancel signals are
// observed inside handlers at suspension points, not here.
type Pool struct {
	queue    string
	size     int
	broker   queue.Broker
	orc      *orchestrator.Orchestrator
	registry *runtime.Registry
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(queueName string, size int, broker queue.Broker, orc *orchestrator.Orchestrator, registry *runtime.Registry, baseLog *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:    queueName,
		size:     size,
		broker:   broker,
		orc:      orc,
		registry: registry,
		log:      baseLog.With("component", "WorkerPool", "queue", queueName),
	}
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	poolCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.log.Info("Starting worker pool", "concurrency", p.size)
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-%d", p.queue, i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runLoop(poolCtx, workerID)
		}()
	}
}

// Stop drains the pool: cancels the pool context and waits for every worker
// to finish its current unit.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
}

func (p *Pool) runLoop(ctx context.Context, workerID string) {
	log := p.log.With("worker_id", workerID)
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.broker.Claim(ctx, p.queue, workerID, claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("Claim failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}
		p.handle(ctx, log, d)
	}
}

func (p *Pool) handle(ctx context.Context, log *logger.Logger, d *queue.Delivery) {
	jobID, err := uuid.Parse(d.JobKey)
	if err != nil {
		log.Error("Broker delivered a non-uuid job key", "job_key", d.JobKey)
		_ = p.broker.Ack(ctx, d)
		return
	}

	started, err := p.orc.Start(ctx, jobID)
	if err != nil {
		log.Warn("Start failed, returning unit to broker", "job_id", jobID, "error", err)
		_ = p.broker.Nack(ctx, d, true)
		return
	}
	if !started {
		// Redelivery of a unit that already ran (or was paused/cancelled
		// before dispatch). Dropping it here is what makes at-least-once
		// delivery safe.
		_ = p.broker.Ack(ctx, d)
		return
	}

	job, err := p.orc.Get(ctx, jobID)
	if err != nil {
		log.Error("Claimed job row vanished", "job_id", jobID, "error", err)
		_ = p.broker.Ack(ctx, d)
		return
	}

	h, ok := p.registry.Get(job.Type)
	if !ok {
		log.Warn("No handler registered for job type", "job_id", jobID, "job_type", job.Type)
		_ = p.orc.Fail(ctx, jobID, "no handler registered for job_type="+job.Type)
		_ = p.broker.Ack(ctx, d)
		return
	}

	jc := runtime.NewContext(ctx, job, p.orc, log)
	result, runErr := p.runGuarded(h, jc, log)

	switch {
	case runErr == nil:
		if err := p.orc.Complete(ctx, jobID, result); err != nil {
			// Usually a cancel that won the race during the last batch.
			log.Debug("Complete refused", "job_id", jobID, "error", err)
		}
	case errors.Is(runErr, runtime.ErrYield):
		log.Info("Job yielded", "job_id", jobID, "job_type", job.Type)
	case errors.Is(runErr, context.Canceled):
		// Process shutdown mid-run. Leave the row processing; startup
		// recovery re-enqueues it.
		log.Info("Job interrupted by shutdown", "job_id", jobID)
	default:
		if err := p.orc.Fail(ctx, jobID, runErr.Error()); err != nil {
			log.Warn("Fail refused", "job_id", jobID, "error", err)
		}
	}

	// Always ack: a fatal handler error must not loop through redelivery.
	_ = p.broker.Ack(ctx, d)
}

func (p *Pool) runGuarded(h runtime.Handler, jc *runtime.Context, log *logger.Logger) (result any, runErr error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "job_id", jc.Job.ID, "job_type", jc.Job.Type, "panic", r)
			runErr = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(jc)
}
