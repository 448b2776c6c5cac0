package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// ErrPrimaryProvider is returned when a delete would remove the primary
// provider row. Callers must demote it first.
var ErrPrimaryProvider = errors.New("cannot delete the primary geocoding provider")

type GeocodingProviderRepo interface {
	Create(dbc dbctx.Context, provider *types.GeocodingProvider) (*types.GeocodingProvider, error)
	GetByProviderID(dbc dbctx.Context, providerID string) (*types.GeocodingProvider, error)
	// List returns all rows ordered by priority (smaller first).
	List(dbc dbctx.Context) ([]*types.GeocodingProvider, error)
	ListEnabled(dbc dbctx.Context) ([]*types.GeocodingProvider, error)
	GetPrimary(dbc dbctx.Context) (*types.GeocodingProvider, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// SetPrimary promotes one provider and demotes every other row in the
	// same transaction, preserving the single-primary invariant.
	SetPrimary(dbc dbctx.Context, providerID string) error
	Delete(dbc dbctx.Context, providerID string) error
}

type geocodingProviderRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGeocodingProviderRepo(db *gorm.DB, baseLog *logger.Logger) GeocodingProviderRepo {
	return &geocodingProviderRepo{db: db, log: baseLog.With("repo", "GeocodingProviderRepo")}
}

func (r *geocodingProviderRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *geocodingProviderRepo) Create(dbc dbctx.Context, provider *types.GeocodingProvider) (*types.GeocodingProvider, error) {
	if provider == nil {
		return nil, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(provider).Error; err != nil {
		return nil, err
	}
	return provider, nil
}

func (r *geocodingProviderRepo) GetByProviderID(dbc dbctx.Context, providerID string) (*types.GeocodingProvider, error) {
	if providerID == "" {
		return nil, nil
	}
	var p types.GeocodingProvider
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("provider_id = ?", providerID).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *geocodingProviderRepo) List(dbc dbctx.Context) ([]*types.GeocodingProvider, error) {
	var out []*types.GeocodingProvider
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Order("priority ASC, provider_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *geocodingProviderRepo) ListEnabled(dbc dbctx.Context) ([]*types.GeocodingProvider, error) {
	var out []*types.GeocodingProvider
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("is_enabled = ?", true).
		Order("priority ASC, provider_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *geocodingProviderRepo) GetPrimary(dbc dbctx.Context) (*types.GeocodingProvider, error) {
	var p types.GeocodingProvider
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("is_primary = ?", true).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *geocodingProviderRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.GeocodingProvider{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *geocodingProviderRepo) SetPrimary(dbc dbctx.Context, providerID string) error {
	if providerID == "" {
		return errors.New("provider_id required")
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var p types.GeocodingProvider
		if err := tx.Where("provider_id = ?", providerID).Limit(1).Find(&p).Error; err != nil {
			return err
		}
		if p.ID == uuid.Nil {
			return gorm.ErrRecordNotFound
		}
		now := time.Now()
		if err := tx.Model(&types.GeocodingProvider{}).
			Where("is_primary = ?", true).
			Updates(map[string]interface{}{"is_primary": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&types.GeocodingProvider{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{"is_primary": true, "updated_at": now}).Error
	})
}

func (r *geocodingProviderRepo) Delete(dbc dbctx.Context, providerID string) error {
	if providerID == "" {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var p types.GeocodingProvider
		if err := tx.Where("provider_id = ?", providerID).Limit(1).Find(&p).Error; err != nil {
			return err
		}
		if p.ID == uuid.Nil {
			return gorm.ErrRecordNotFound
		}
		if p.IsPrimary {
			return ErrPrimaryProvider
		}
		return tx.Delete(&types.GeocodingProvider{}, "id = ?", p.ID).Error
	})
}
