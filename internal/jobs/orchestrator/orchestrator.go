package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrIllegalTransition = errors.New("illegal job transition")
)

// ErrorLogCap bounds the per-job error log; overflow discards the oldest
// entries. Appending never fails the job.
const ErrorLogCap = 1000

// CreateInput is everything needed to mint a job row. TotalItems seeds the
// counter for static jobs; dynamic jobs discover their work set at start.
type CreateInput struct {
	Type       string
	CreatedBy  uuid.UUID
	Payload    any
	TotalItems int
	IsDynamic  bool
	Delay      time.Duration
	// SkipEnqueue creates the row without broker handoff. Used by tests and
	// by callers that enqueue themselves after extra validation.
	SkipEnqueue bool
}

// Orchestrator owns the job lifecycle: it is the single mutator of job
// status, counters and error logs, and the only component that talks to both
// the durable store and the broker. Transitions are serialised per job id by
// a keyed mutex on top of conditional store updates.
type Orchestrator struct {
	repo   repos.JobRepo
	broker queue.Broker
	log    *logger.Logger
	locks  sync.Map // job id -> *sync.Mutex
}

func New(repo repos.JobRepo, broker queue.Broker, baseLog *logger.Logger) *Orchestrator {
	return &Orchestrator{
		repo:   repo,
		broker: broker,
		log:    baseLog.With("component", "Orchestrator"),
	}
}

func (o *Orchestrator) lock(id uuid.UUID) func() {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func marshalJSON(v any) (datatypes.JSON, error) {
	switch t := v.(type) {
	case nil:
		return datatypes.JSON([]byte("{}")), nil
	case datatypes.JSON:
		return t, nil
	case []byte:
		if len(t) == 0 {
			return datatypes.JSON([]byte("{}")), nil
		}
		return datatypes.JSON(t), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return datatypes.JSON(b), nil
	}
}

func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (*types.Job, error) {
	if in.Type == "" {
		return nil, fmt.Errorf("job type required")
	}
	payload, err := marshalJSON(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now()
	job := &types.Job{
		ID:          uuid.New(),
		Type:        in.Type,
		Status:      types.JobStatusPending,
		IsDynamic:   in.IsDynamic,
		TotalItems:  in.TotalItems,
		Payload:     payload,
		ErrorLog:    datatypes.JSON([]byte("[]")),
		CreatedByID: in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := o.repo.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		return nil, err
	}

	if in.SkipEnqueue {
		return job, nil
	}
	if err := o.Enqueue(ctx, job, in.Delay); err != nil {
		// The row exists but nothing will ever claim it; cancel so it does
		// not sit pending forever.
		_, _ = o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, job.ID,
			[]string{types.JobStatusPending},
			map[string]interface{}{
				"status":       types.JobStatusCancelled,
				"completed_at": time.Now(),
			})
		job.Status = types.JobStatusCancelled
		return job, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Enqueue hands a job to its broker queue, keyed by the job id.
func (o *Orchestrator) Enqueue(ctx context.Context, job *types.Job, delay time.Duration) error {
	if job == nil {
		return nil
	}
	return o.broker.Enqueue(ctx, jobs.QueueForType(job.Type), job.ID.String(), []byte(job.Payload), queue.EnqueueOptions{Delay: delay})
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	job, err := o.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

func (o *Orchestrator) List(ctx context.Context, filter repos.JobFilter) ([]*types.Job, int64, error) {
	return o.repo.List(dbctx.Context{Ctx: ctx}, filter)
}

// Start claims a pending job for execution: a CAS pending -> processing that
// sets started_at. Returns false without error when the job is already
// processing or terminal, which is how at-least-once broker redelivery
// collapses to exactly-one execution.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := o.lock(id)
	defer unlock()

	ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusPending},
		map[string]interface{}{
			"status":     types.JobStatusProcessing,
			"started_at": time.Now(),
		})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// UpdateProgress writes counters. total, when non-nil, revises total_items
// (dynamic jobs discover it late). Terminal rows are never touched.
func (o *Orchestrator) UpdateProgress(ctx context.Context, id uuid.UUID, processed int, total *int) error {
	updates := map[string]interface{}{
		"processed_items": processed,
	}
	if total != nil {
		updates["total_items"] = *total
	}
	_, err := o.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
		updates)
	return err
}

// AppendError pushes an entry onto the bounded error log. The error log is
// the one field that may still change after a terminal transition, and an
// append can never fail the job.
func (o *Orchestrator) AppendError(ctx context.Context, id uuid.UUID, message string) error {
	unlock := o.lock(id)
	defer unlock()
	return o.appendErrorLocked(ctx, id, message)
}

func (o *Orchestrator) appendErrorLocked(ctx context.Context, id uuid.UUID, message string) error {
	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}

	var entries []types.JobErrorEntry
	if len(job.ErrorLog) > 0 {
		// A corrupt log is replaced rather than propagated.
		_ = json.Unmarshal(job.ErrorLog, &entries)
	}
	entries = append(entries, types.JobErrorEntry{Timestamp: time.Now(), Message: message})
	if len(entries) > ErrorLogCap {
		entries = entries[len(entries)-ErrorLogCap:]
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return o.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, map[string]interface{}{
		"error_log": datatypes.JSON(raw),
	})
}

// UpdatePayload persists a checkpoint snapshot into the job payload. At most
// one worker holds a job at a time, so this read-modify-write is safe.
func (o *Orchestrator) UpdatePayload(ctx context.Context, id uuid.UUID, payload any) error {
	raw, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	_, err = o.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
		map[string]interface{}{"payload": raw})
	return err
}

func (o *Orchestrator) Complete(ctx context.Context, id uuid.UUID, outputStats any) error {
	unlock := o.lock(id)
	defer unlock()

	updates := map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"completed_at": time.Now(),
	}
	if outputStats != nil {
		raw, err := marshalJSON(outputStats)
		if err != nil {
			return err
		}
		updates["output_stats"] = raw
	}
	ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusProcessing}, updates)
	if err != nil {
		return err
	}
	if !ok {
		return o.transitionRefused(ctx, id, types.JobStatusCompleted)
	}
	return nil
}

// Fail is terminal from any non-terminal state. The message becomes the final
// error-log entry.
func (o *Orchestrator) Fail(ctx context.Context, id uuid.UUID, message string) error {
	unlock := o.lock(id)
	defer unlock()

	if message != "" {
		if err := o.appendErrorLocked(ctx, id, message); err != nil && !errors.Is(err, ErrNotFound) {
			o.log.Warn("Failed to append final error", "job_id", id, "error", err)
		}
	}
	ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusPending, types.JobStatusProcessing, types.JobStatusPaused},
		map[string]interface{}{
			"status":       types.JobStatusFailed,
			"completed_at": time.Now(),
		})
	if err != nil {
		return err
	}
	if !ok {
		return o.transitionRefused(ctx, id, types.JobStatusFailed)
	}
	return nil
}

// Pause removes a pending job from the broker and marks it paused, or flags a
// processing job so the worker yields at its next suspension point.
func (o *Orchestrator) Pause(ctx context.Context, id uuid.UUID, reason string) error {
	unlock := o.lock(id)
	defer unlock()

	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}

	switch job.Status {
	case types.JobStatusPending:
		if _, err := o.broker.Remove(ctx, jobs.QueueForType(job.Type), id.String()); err != nil {
			return err
		}
		ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
			[]string{types.JobStatusPending},
			map[string]interface{}{"status": types.JobStatusPaused})
		if err != nil {
			return err
		}
		if !ok {
			return o.transitionRefused(ctx, id, types.JobStatusPaused)
		}
	case types.JobStatusProcessing:
		ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
			[]string{types.JobStatusProcessing},
			map[string]interface{}{"status": types.JobStatusPaused})
		if err != nil {
			return err
		}
		if !ok {
			return o.transitionRefused(ctx, id, types.JobStatusPaused)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, types.JobStatusPaused)
	}

	if reason != "" {
		_ = o.appendErrorLocked(ctx, id, "paused: "+reason)
	}
	o.log.Info("Job paused", "job_id", id, "reason", reason)
	return nil
}

// Resume re-queues a paused job: paused -> pending, completed_at cleared, and
// the job id handed back to the broker.
func (o *Orchestrator) Resume(ctx context.Context, id uuid.UUID) error {
	unlock := o.lock(id)
	defer unlock()

	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrNotFound
	}
	ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusPaused},
		map[string]interface{}{
			"status":       types.JobStatusPending,
			"completed_at": nil,
		})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.Status, types.JobStatusPending)
	}

	job.Status = types.JobStatusPending
	if err := o.Enqueue(ctx, job, 0); err != nil {
		return fmt.Errorf("re-enqueue job: %w", err)
	}
	o.log.Info("Job resumed", "job_id", id, "type", job.Type)
	return nil
}

// Cancel is idempotent: cancelling an already-terminal job is a no-op that
// reports the current status. Pending and paused jobs are evicted from the
// broker; processing jobs are flagged and the worker yields at its next
// suspension point.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, reason string) (string, error) {
	unlock := o.lock(id)
	defer unlock()

	job, err := o.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrNotFound
	}
	if types.JobStatusTerminal(job.Status) {
		return job.Status, nil
	}

	if job.Status == types.JobStatusPending || job.Status == types.JobStatusPaused {
		if _, err := o.broker.Remove(ctx, jobs.QueueForType(job.Type), id.String()); err != nil {
			return "", err
		}
	}

	ok, err := o.repo.UpdateFieldsWhereStatus(dbctx.Context{Ctx: ctx}, id,
		[]string{types.JobStatusPending, types.JobStatusProcessing, types.JobStatusPaused},
		map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": time.Now(),
		})
	if err != nil {
		return "", err
	}
	if !ok {
		// Lost a race with a terminal transition; report what won.
		current, err := o.GetStatus(ctx, id)
		if err != nil {
			return "", err
		}
		return current, nil
	}

	if reason != "" {
		_ = o.appendErrorLocked(ctx, id, "cancelled: "+reason)
	}
	o.log.Info("Job cancelled", "job_id", id, "reason", reason)
	return types.JobStatusCancelled, nil
}

// transitionRefused turns a failed CAS into a precise error carrying the
// current status.
func (o *Orchestrator) transitionRefused(ctx context.Context, id uuid.UUID, to string) error {
	current, err := o.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, to)
}
