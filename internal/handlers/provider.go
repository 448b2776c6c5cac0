package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/geocode"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"

	"github.com/google/uuid"
)

type ProviderHandler struct {
	repo      repos.GeocodingProviderRepo
	geocoders *geocode.Registry
}

func NewProviderHandler(repo repos.GeocodingProviderRepo, geocoders *geocode.Registry) *ProviderHandler {
	return &ProviderHandler{repo: repo, geocoders: geocoders}
}

// providerView is the row plus the live registration state of its backend.
type providerView struct {
	*types.GeocodingProvider
	Registered bool              `json:"registered"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (h *ProviderHandler) view(row *types.GeocodingProvider) providerView {
	v := providerView{GeocodingProvider: row}
	if impl, ok := h.geocoders.Get(row.ProviderID); ok {
		v.Registered = true
		if pd, ok := impl.(geocode.PropertyDescriber); ok {
			v.Properties = pd.CustomProperties()
		}
	}
	return v
}

// GET /api/geocoding-providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	rows, err := h.repo.List(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	views := make([]providerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, h.view(row))
	}
	RespondOK(c, gin.H{"providers": views})
}

type createProviderRequest struct {
	ProviderID   string         `json:"provider_id" binding:"required"`
	ProviderName string         `json:"provider_name"`
	IsEnabled    *bool          `json:"is_enabled"`
	IsPrimary    bool           `json:"is_primary"`
	Priority     *int           `json:"priority"`
	Config       map[string]any `json:"config"`
}

// POST /api/geocoding-providers
func (h *ProviderHandler) CreateProvider(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	impl, registered := h.geocoders.Get(req.ProviderID)
	if !registered {
		RespondError(c, http.StatusBadRequest, "unknown_provider",
			fmt.Errorf("no geocoder backend registered as %q", req.ProviderID))
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if existing, err := h.repo.GetByProviderID(dbc, req.ProviderID); err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	} else if existing != nil {
		RespondError(c, http.StatusConflict, "provider_exists",
			fmt.Errorf("provider %q already configured", req.ProviderID))
		return
	}

	row := &types.GeocodingProvider{
		ID:           uuid.New(),
		ProviderID:   req.ProviderID,
		ProviderName: impl.ProviderName(),
		IsEnabled:    req.IsEnabled == nil || *req.IsEnabled,
		Priority:     100,
	}
	if req.ProviderName != "" {
		row.ProviderName = req.ProviderName
	}
	if req.Priority != nil {
		row.Priority = *req.Priority
	}
	if req.Config != nil {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_config", err)
			return
		}
		row.Config = datatypes.JSON(raw)
	}

	if _, err := h.repo.Create(dbc, row); err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	if req.IsPrimary {
		if err := h.repo.SetPrimary(dbc, row.ProviderID); err != nil {
			RespondError(c, http.StatusInternalServerError, "set_primary_failed", err)
			return
		}
		row.IsPrimary = true
	}
	RespondCreated(c, gin.H{"provider": h.view(row)})
}

type updateProviderRequest struct {
	ProviderName *string        `json:"provider_name"`
	IsEnabled    *bool          `json:"is_enabled"`
	Priority     *int           `json:"priority"`
	Config       map[string]any `json:"config"`
}

// PATCH /api/geocoding-providers/:providerId
func (h *ProviderHandler) UpdateProvider(c *gin.Context) {
	var req updateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	row, err := h.repo.GetByProviderID(dbc, c.Param("providerId"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if row == nil {
		RespondError(c, http.StatusNotFound, "provider_not_found",
			fmt.Errorf("provider %q not configured", c.Param("providerId")))
		return
	}

	updates := map[string]interface{}{}
	if req.ProviderName != nil {
		updates["provider_name"] = *req.ProviderName
	}
	if req.IsEnabled != nil {
		updates["is_enabled"] = *req.IsEnabled
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Config != nil {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_config", err)
			return
		}
		updates["config"] = datatypes.JSON(raw)
	}
	if len(updates) == 0 {
		RespondOK(c, gin.H{"provider": h.view(row)})
		return
	}

	if err := h.repo.UpdateFields(dbc, row.ID, updates); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	row, err = h.repo.GetByProviderID(dbc, row.ProviderID)
	if err != nil || row == nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"provider": h.view(row)})
}

// POST /api/geocoding-providers/:providerId/primary
func (h *ProviderHandler) SetPrimary(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	err := h.repo.SetPrimary(dbc, c.Param("providerId"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "provider_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "set_primary_failed", err)
		return
	}
	row, err := h.repo.GetByProviderID(dbc, c.Param("providerId"))
	if err != nil || row == nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"provider": h.view(row)})
}

// DELETE /api/geocoding-providers/:providerId
func (h *ProviderHandler) DeleteProvider(c *gin.Context) {
	err := h.repo.Delete(dbctx.Context{Ctx: c.Request.Context()}, c.Param("providerId"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			RespondError(c, http.StatusNotFound, "provider_not_found", err)
		case errors.Is(err, repos.ErrPrimaryProvider):
			RespondError(c, http.StatusConflict, "primary_provider", err)
		default:
			RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"deleted": c.Param("providerId")})
}
