package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Household is the canvassing unit tied to one street address. The geocoding
// pipeline reads the address fields and writes the geocoded* columns; all
// other fields belong to the app's CRUD surface.
type Household struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Address           string     `gorm:"column:address" json:"address"`
	City              string     `gorm:"column:city;index" json:"city"`
	State             string     `gorm:"column:state;index" json:"state"`
	ZipCode           string     `gorm:"column:zip_code;index" json:"zip_code"`
	Geocoded          bool       `gorm:"column:geocoded;not null;default:false;index" json:"geocoded"`
	Latitude          *float64   `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude         *float64   `gorm:"column:longitude" json:"longitude,omitempty"`
	GeocodedAt        *time.Time `gorm:"column:geocoded_at" json:"geocoded_at,omitempty"`
	GeocodingProvider string     `gorm:"column:geocoding_provider" json:"geocoding_provider,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (Household) TableName() string { return "household" }

// FullAddress joins the non-empty address components for a geocoder query.
func (h *Household) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{h.Address, h.City, h.State, h.ZipCode} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
