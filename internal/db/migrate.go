package db

import (
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// People + registrations
		&types.Household{},
		&types.Person{},
		&types.Voter{},
		&types.Phone{},
		&types.Email{},

		// Background jobs + configuration
		&types.Job{},
		&types.GeocodingProvider{},
		&types.Setting{},
	)
}
