package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Spinnernicholas/cocoa-canvas/internal/geocode"
	"github.com/Spinnernicholas/cocoa-canvas/internal/jobs/orchestrator"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// maxGeocodeLimit caps one job's work set. Larger requests are clamped, not
// rejected.
const maxGeocodeLimit = 50000

type GeocodingHandler struct {
	orc        *orchestrator.Orchestrator
	providers  *geocode.Registry
	households repos.HouseholdRepo
}

func NewGeocodingHandler(orc *orchestrator.Orchestrator, providers *geocode.Registry, households repos.HouseholdRepo) *GeocodingHandler {
	return &GeocodingHandler{orc: orc, providers: providers, households: households}
}

type createGeocodingJobRequest struct {
	Filters struct {
		City    string `json:"city"`
		State   string `json:"state"`
		ZipCode string `json:"zipCode"`
	} `json:"filters"`
	Limit        int    `json:"limit"`
	SkipGeocoded *bool  `json:"skipGeocoded"`
	ProviderID   string `json:"providerId"`
	Dynamic      bool   `json:"dynamic"`
}

// POST /api/geocoding-jobs
func (h *GeocodingHandler) CreateGeocodingJob(c *gin.Context) {
	var req createGeocodingJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()

	ok, err := h.providers.HasEnabled(ctx)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "provider_check_failed", err)
		return
	}
	if !ok {
		RespondError(c, http.StatusBadRequest, "no_geocoding_provider",
			fmt.Errorf("no enabled geocoding provider is configured"))
		return
	}
	if req.ProviderID != "" {
		if _, registered := h.providers.Get(req.ProviderID); !registered {
			RespondError(c, http.StatusBadRequest, "unknown_provider",
				fmt.Errorf("geocoding provider %q is not registered", req.ProviderID))
			return
		}
	}

	limit := req.Limit
	if limit <= 0 || limit > maxGeocodeLimit {
		limit = maxGeocodeLimit
	}
	payload := geocode.Payload{
		Filters: repos.HouseholdFilter{
			City:    req.Filters.City,
			State:   req.Filters.State,
			ZipCode: req.Filters.ZipCode,
		},
		Limit:        limit,
		SkipGeocoded: req.SkipGeocoded,
		ProviderID:   req.ProviderID,
		Dynamic:      req.Dynamic,
	}

	totalItems := 0
	if !req.Dynamic {
		// Static jobs freeze their work set now; the payload is the durable
		// record of exactly which households this job owns.
		rows, err := h.households.FindForGeocoding(dbctx.Context{Ctx: ctx},
			payload.Filters, payload.SkipGeocodedOrDefault(), limit)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "materialise_failed", err)
			return
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		payload.HouseholdIDs = ids
		totalItems = len(ids)
	}

	job, err := h.orc.Create(ctx, orchestrator.CreateInput{
		Type:       types.JobTypeGeocoding,
		CreatedBy:  callerID(c),
		Payload:    payload,
		TotalItems: totalItems,
		IsDynamic:  req.Dynamic,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondAccepted(c, gin.H{"jobId": job.ID, "job": viewOf(job)})
}
