package repos

import (
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

type SettingRepo interface {
	Get(dbc dbctx.Context, key string) (string, bool, error)
	GetInt(dbc dbctx.Context, key string, def int) (int, error)
	Set(dbc dbctx.Context, key, value string) error
}

type settingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSettingRepo(db *gorm.DB, baseLog *logger.Logger) SettingRepo {
	return &settingRepo{db: db, log: baseLog.With("repo", "SettingRepo")}
}

func (r *settingRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *settingRepo) Get(dbc dbctx.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	var s types.Setting
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&s).Error
	if err != nil {
		return "", false, err
	}
	if s.Key == "" {
		return "", false, nil
	}
	return s.Value, true, nil
}

func (r *settingRepo) GetInt(dbc dbctx.Context, key string, def int) (int, error) {
	raw, ok, err := r.Get(dbc, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	i, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return def, nil
	}
	return i, nil
}

func (r *settingRepo) Set(dbc dbctx.Context, key, value string) error {
	if key == "" {
		return nil
	}
	s := types.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&s).Error
}
