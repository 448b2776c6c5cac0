package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/worker"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
)

var knownQueues = []string{queue.QueueVoterImport, queue.QueueGeocode, queue.QueueScheduled}

type AdminHandler struct {
	broker  queue.Broker
	manager *worker.Manager
}

func NewAdminHandler(broker queue.Broker, manager *worker.Manager) *AdminHandler {
	return &AdminHandler{broker: broker, manager: manager}
}

// GET /api/queues
func (h *AdminHandler) GetQueues(c *gin.Context) {
	ctx := c.Request.Context()
	sizes := h.manager.Sizes()

	type queueView struct {
		Name    string          `json:"name"`
		Counts  queue.JobCounts `json:"counts"`
		Workers int             `json:"workers"`
	}
	out := make([]queueView, 0, len(knownQueues))
	for _, name := range knownQueues {
		counts, err := h.broker.JobCounts(ctx, name)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "counts_failed", err)
			return
		}
		out = append(out, queueView{Name: name, Counts: counts, Workers: sizes[name]})
	}
	RespondOK(c, gin.H{"queues": out})
}

// POST /api/queues/:name/pause
func (h *AdminHandler) PauseQueue(c *gin.Context) {
	name := c.Param("name")
	if !queueKnown(name) {
		RespondError(c, http.StatusNotFound, "unknown_queue", fmt.Errorf("unknown queue %q", name))
		return
	}
	if err := h.broker.PauseQueue(c.Request.Context(), name); err != nil {
		RespondError(c, http.StatusInternalServerError, "pause_failed", err)
		return
	}
	RespondOK(c, gin.H{"queue": name, "paused": true})
}

// POST /api/queues/:name/resume
func (h *AdminHandler) ResumeQueue(c *gin.Context) {
	name := c.Param("name")
	if !queueKnown(name) {
		RespondError(c, http.StatusNotFound, "unknown_queue", fmt.Errorf("unknown queue %q", name))
		return
	}
	if err := h.broker.ResumeQueue(c.Request.Context(), name); err != nil {
		RespondError(c, http.StatusInternalServerError, "resume_failed", err)
		return
	}
	RespondOK(c, gin.H{"queue": name, "paused": false})
}

type reconfigureRequest struct {
	Queue string `json:"queue" binding:"required"`
	Size  int    `json:"size" binding:"required"`
}

// POST /api/admin/workers
func (h *AdminHandler) ReconfigureWorkers(c *gin.Context) {
	var req reconfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.manager.Reconfigure(c.Request.Context(), req.Queue, req.Size); err != nil {
		RespondError(c, http.StatusBadRequest, "reconfigure_failed", err)
		return
	}
	RespondOK(c, gin.H{"workers": h.manager.Sizes()})
}

func queueKnown(name string) bool {
	for _, q := range knownQueues {
		if q == name {
			return true
		}
	}
	return false
}
