package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

// HouseholdFilter narrows the geocoding work set.
type HouseholdFilter struct {
	City    string
	State   string
	ZipCode string
}

type HouseholdRepo interface {
	Create(dbc dbctx.Context, households []*types.Household) ([]*types.Household, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Household, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Household, error)
	// FindForGeocoding materialises the work set for a geocoding job. The
	// order is deterministic (created_at, id) so static payloads and resumed
	// dynamic jobs walk the same sequence.
	FindForGeocoding(dbc dbctx.Context, filter HouseholdFilter, skipGeocoded bool, limit int) ([]*types.Household, error)
	FindByAddress(dbc dbctx.Context, address, city, state, zip string) (*types.Household, error)
	// MarkGeocoded writes the geocoding result columns for a single row.
	MarkGeocoded(dbc dbctx.Context, id uuid.UUID, lat, lng float64, source string, at time.Time) error
}

type householdRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHouseholdRepo(db *gorm.DB, baseLog *logger.Logger) HouseholdRepo {
	return &householdRepo{db: db, log: baseLog.With("repo", "HouseholdRepo")}
}

func (r *householdRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *householdRepo) Create(dbc dbctx.Context, households []*types.Household) ([]*types.Household, error) {
	if len(households) == 0 {
		return []*types.Household{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&households).Error; err != nil {
		return nil, err
	}
	return households, nil
}

func (r *householdRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Household, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var h types.Household
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&h).Error
	if err != nil {
		return nil, err
	}
	if h.ID == uuid.Nil {
		return nil, nil
	}
	return &h, nil
}

func (r *householdRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Household, error) {
	var out []*types.Household
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *householdRepo) FindForGeocoding(dbc dbctx.Context, filter HouseholdFilter, skipGeocoded bool, limit int) ([]*types.Household, error) {
	q := r.conn(dbc).WithContext(dbc.Ctx).Model(&types.Household{})
	if filter.City != "" {
		q = q.Where("city = ?", filter.City)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.ZipCode != "" {
		q = q.Where("zip_code = ?", filter.ZipCode)
	}
	if skipGeocoded {
		q = q.Where("geocoded = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Household
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *householdRepo) FindByAddress(dbc dbctx.Context, address, city, state, zip string) (*types.Household, error) {
	var h types.Household
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("address = ? AND city = ? AND state = ? AND zip_code = ?", address, city, state, zip).
		Limit(1).
		Find(&h).Error
	if err != nil {
		return nil, err
	}
	if h.ID == uuid.Nil {
		return nil, nil
	}
	return &h, nil
}

func (r *householdRepo) MarkGeocoded(dbc dbctx.Context, id uuid.UUID, lat, lng float64, source string, at time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Household{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"geocoded":           true,
			"latitude":           lat,
			"longitude":          lng,
			"geocoded_at":        at,
			"geocoding_provider": source,
			"updated_at":         at,
		}).Error
}
