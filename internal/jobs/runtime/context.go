package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// ErrYield marks a clean cooperative stop: the handler observed a pause or
// cancel at a suspension point, persisted its checkpoint, and returned. The
// worker acks the broker unit without touching the job status.
var ErrYield = errors.New("job yielded")

// YieldError carries the status that triggered the yield.
type YieldError struct {
	Status string
}

func (e *YieldError) Error() string { return "job yielded: status=" + e.Status }
func (e *YieldError) Is(target error) bool {
	return target == ErrYield
}

// Context is the execution contract between the worker pool and handler code:
// the job row in memory, the only sanctioned ways to report progress or
// checkpoint, and the suspension-point poll. Handlers never write job rows
// directly.
type Context struct {
	Ctx context.Context
	Job *types.Job
	Orc *orchestrator.Orchestrator
	Log *logger.Logger

	payload map[string]any
}

func NewContext(ctx context.Context, job *types.Job, orc *orchestrator.Orchestrator, log *logger.Logger) *Context {
	c := &Context{Ctx: ctx, Job: job, Orc: orc, Log: log}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload returns the decoded payload map. Never nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// DecodePayload unmarshals the raw payload into a typed struct.
func (c *Context) DecodePayload(v any) error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(c.Job.Payload, v)
}

// Progress reports counters through the orchestrator. total revises the
// job's total_items when non-nil.
func (c *Context) Progress(processed int, total *int) {
	if c.Job == nil {
		return
	}
	if err := c.Orc.UpdateProgress(c.Ctx, c.Job.ID, processed, total); err != nil {
		c.Log.Warn("Progress update failed", "job_id", c.Job.ID, "error", err)
		return
	}
	c.Job.ProcessedItems = processed
	if total != nil {
		c.Job.TotalItems = *total
	}
}

// Checkpoint persists a payload snapshot so a resumed or recovered job
// restarts from here instead of from zero.
func (c *Context) Checkpoint(payload any) error {
	if c.Job == nil {
		return nil
	}
	if err := c.Orc.UpdatePayload(c.Ctx, c.Job.ID, payload); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err == nil {
		c.Job.Payload = raw
		_ = c.decodePayload()
	}
	return nil
}

// AppendError records a transient unit failure. Never fails the job.
func (c *Context) AppendError(message string) {
	if c.Job == nil {
		return
	}
	if err := c.Orc.AppendError(c.Ctx, c.Job.ID, message); err != nil {
		c.Log.Warn("Error-log append failed", "job_id", c.Job.ID, "error", err)
	}
}

// CheckInterrupted is the suspension-point poll. It returns a YieldError when
// the store says paused/cancelled, or the scoped context error when the
// process is shutting down. Handlers call this between sub-batches and must
// not swallow the result.
func (c *Context) CheckInterrupted() error {
	if err := c.Ctx.Err(); err != nil {
		return err
	}
	if c.Job == nil {
		return nil
	}
	status, err := c.Orc.GetStatus(c.Ctx, c.Job.ID)
	if err != nil {
		// A transient status read failure must not kill the job.
		c.Log.Warn("Status poll failed", "job_id", c.Job.ID, "error", err)
		return nil
	}
	switch status {
	case types.JobStatusPaused, types.JobStatusCancelled:
		return &YieldError{Status: status}
	}
	return nil
}
