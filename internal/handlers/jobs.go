package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/runtime"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/ctxutil"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

const maxListLimit = 200

type JobsHandler struct {
	orc      *orchestrator.Orchestrator
	registry *runtime.Registry
}

func NewJobsHandler(orc *orchestrator.Orchestrator, registry *runtime.Registry) *JobsHandler {
	return &JobsHandler{orc: orc, registry: registry}
}

// jobView is the API shape of a job row: the row plus the derived progress
// percentage.
type jobView struct {
	*types.Job
	ProgressPercent int `json:"progress_percent"`
}

func viewOf(job *types.Job) jobView {
	return jobView{Job: job, ProgressPercent: job.ProgressPercent()}
}

type createJobRequest struct {
	Type         string         `json:"type" binding:"required"`
	Data         map[string]any `json:"data"`
	IsDynamic    *bool          `json:"isDynamic"`
	DelaySeconds int            `json:"delay_seconds"`
}

// POST /api/jobs
//
// Generic creation for scheduled task types. Imports and geocoding have their
// own endpoints that build the payload; this one only accepts types with a
// registered handler so a typo cannot strand a row.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if _, ok := h.registry.Get(req.Type); !ok {
		RespondError(c, http.StatusBadRequest, "unknown_job_type", fmt.Errorf("no handler for job type %q", req.Type))
		return
	}

	// Scheduled tasks rarely know their total up front, so dynamic is the
	// default unless the caller says otherwise.
	dynamic := true
	if req.IsDynamic != nil {
		dynamic = *req.IsDynamic
	}
	job, err := h.orc.Create(c.Request.Context(), orchestrator.CreateInput{
		Type:      req.Type,
		CreatedBy: callerID(c),
		Payload:   req.Data,
		IsDynamic: dynamic,
		Delay:     time.Duration(req.DelaySeconds) * time.Second,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondAccepted(c, gin.H{"job": viewOf(job)})
}

// GET /api/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	filter := repos.JobFilter{
		Type:   c.Query("type"),
		Status: c.Query("status"),
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if mine := c.Query("created_by"); mine != "" {
		id, err := uuid.Parse(mine)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_created_by", err)
			return
		}
		filter.CreatedByID = id
	}

	jobs, total, err := h.orc.List(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	RespondOK(c, gin.H{"jobs": views, "total": total})
}

// GET /api/jobs/:id
func (h *JobsHandler) GetJobByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.orc.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "get_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": viewOf(job)})
}

type controlJobRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

// POST /api/jobs/:id/control
func (h *JobsHandler) ControlJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req controlJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ctx := c.Request.Context()
	switch req.Action {
	case "pause":
		err = h.orc.Pause(ctx, jobID, req.Reason)
	case "resume":
		err = h.orc.Resume(ctx, jobID)
	case "cancel":
		var status string
		status, err = h.orc.Cancel(ctx, jobID, req.Reason)
		if err == nil {
			RespondOK(c, gin.H{"status": status})
			return
		}
	default:
		RespondError(c, http.StatusBadRequest, "unknown_action", fmt.Errorf("action must be pause, resume, or cancel"))
		return
	}

	if err != nil {
		h.respondControlError(c, err)
		return
	}
	status, err := h.orc.GetStatus(ctx, jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "get_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": status})
}

// DELETE /api/jobs/:id
//
// Legacy cancel kept for older clients and deliberately narrower than
// /control: it only cancels jobs that have not started.
func (h *JobsHandler) DeleteJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	ctx := c.Request.Context()
	current, err := h.orc.GetStatus(ctx, jobID)
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	if current != types.JobStatusPending {
		RespondError(c, http.StatusBadRequest, "not_pending",
			fmt.Errorf("only pending jobs can be deleted; job is %s", current))
		return
	}
	status, err := h.orc.Cancel(ctx, jobID, "cancelled via DELETE")
	if err != nil {
		h.respondControlError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": status})
}

func (h *JobsHandler) respondControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, orchestrator.ErrIllegalTransition):
		RespondError(c, http.StatusBadRequest, "illegal_transition", err)
	default:
		RespondError(c, http.StatusInternalServerError, "control_failed", err)
	}
}

func callerID(c *gin.Context) uuid.UUID {
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		return rd.UserID
	}
	return uuid.Nil
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
