package app

import (
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
)

type Repos struct {
	Jobs       repos.JobRepo
	Households repos.HouseholdRepo
	Voters     repos.VoterRepo
	Providers  repos.GeocodingProviderRepo
	Settings   repos.SettingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	households := repos.NewHouseholdRepo(db, log)
	return Repos{
		Jobs:       repos.NewJobRepo(db, log),
		Households: households,
		Voters:     repos.NewVoterRepo(db, log, households),
		Providers:  repos.NewGeocodingProviderRepo(db, log),
		Settings:   repos.NewSettingRepo(db, log),
	}
}
