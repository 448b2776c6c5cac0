package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GeocodingProvider is durable configuration for one geocoder backend. At most
// one row has IsPrimary set; the configuration surface owns these rows and the
// pipeline reads them only.
type GeocodingProvider struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProviderID   string         `gorm:"column:provider_id;not null;uniqueIndex" json:"provider_id"`
	ProviderName string         `gorm:"column:provider_name;not null" json:"provider_name"`
	IsEnabled    bool           `gorm:"column:is_enabled;not null;default:true" json:"is_enabled"`
	IsPrimary    bool           `gorm:"column:is_primary;not null;default:false" json:"is_primary"`
	Priority     int            `gorm:"column:priority;not null;default:100" json:"priority"`
	Config       datatypes.JSON `gorm:"column:config;type:jsonb" json:"config,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (GeocodingProvider) TableName() string { return "geocoding_provider" }
