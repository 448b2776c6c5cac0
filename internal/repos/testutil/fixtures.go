package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Spinnernicholas/cocoa-canvas/internal/types"
)

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, jobType, status string) *types.Job {
	tb.Helper()
	now := time.Now().UTC()
	j := &types.Job{
		ID:          uuid.New(),
		Type:        jobType,
		Status:      status,
		Payload:     datatypes.JSON([]byte("{}")),
		ErrorLog:    datatypes.JSON([]byte("[]")),
		CreatedByID: uuid.New(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedHousehold(tb testing.TB, ctx context.Context, tx *gorm.DB, address, city string) *types.Household {
	tb.Helper()
	now := time.Now().UTC()
	h := &types.Household{
		ID:        uuid.New(),
		Address:   address,
		City:      city,
		State:     "CA",
		ZipCode:   "94520",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(h).Error; err != nil {
		tb.Fatalf("seed household: %v", err)
	}
	return h
}

func SeedProvider(tb testing.TB, ctx context.Context, tx *gorm.DB, providerID string, enabled, primary bool, priority int) *types.GeocodingProvider {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.GeocodingProvider{
		ID:           uuid.New(),
		ProviderID:   providerID,
		ProviderName: providerID,
		IsEnabled:    enabled,
		IsPrimary:    primary,
		Priority:     priority,
		Config:       datatypes.JSON([]byte("{}")),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed provider: %v", err)
	}
	return p
}
