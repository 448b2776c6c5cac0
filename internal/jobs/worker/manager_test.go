package worker

import (
	"context"
	"testing"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/dbctx"
	"github.com/Spinnernicholas/cocoa-canvas/internal/queue"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
)

func TestLoadSizesFallsBackToEnvDefaults(t *testing.T) {
	log := testutil.Logger(t)
	settings := repos.NewSettingRepo(testutil.DB(t), log)
	m := NewManager(nil, nil, nil, settings, log)

	sizes := m.LoadSizes(context.Background())
	if sizes.Max != 8 || sizes.Import != 2 || sizes.Geocode != 4 || sizes.Scheduled != 1 {
		t.Fatalf("sizes = %+v", sizes)
	}
}

func TestLoadSizesPrefersPersistedAndClamps(t *testing.T) {
	ctx := context.Background()
	log := testutil.Logger(t)
	settings := repos.NewSettingRepo(testutil.DB(t), log)
	dbc := dbctx.Context{Ctx: ctx}

	if err := settings.Set(dbc, SettingMaxWorkers, "3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := settings.Set(dbc, SettingGeocodeWorkers, "10"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := settings.Set(dbc, SettingScheduledWorkers, "0"); err != nil {
		t.Fatalf("set: %v", err)
	}

	m := NewManager(nil, nil, nil, settings, log)
	sizes := m.LoadSizes(ctx)
	if sizes.Geocode != 3 {
		t.Fatalf("geocode = %d, want clamped to max 3", sizes.Geocode)
	}
	if sizes.Scheduled != 1 {
		t.Fatalf("scheduled = %d, want floor of 1", sizes.Scheduled)
	}
	if sizes.Import != 2 {
		t.Fatalf("import = %d, want env default", sizes.Import)
	}
}

func TestReconfigureUnknownQueue(t *testing.T) {
	log := testutil.Logger(t)
	m := NewManager(nil, nil, nil, nil, log)
	if err := m.Reconfigure(context.Background(), "no-such-queue", 2); err == nil {
		t.Fatal("expected error for unknown queue")
	}
}

func TestReconfigurePersistsSize(t *testing.T) {
	f := newPoolFixture(t)
	log := testutil.Logger(t)
	settings := repos.NewSettingRepo(f.db, log)

	m := NewManager(f.broker, f.orc, f.registry, settings, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	t.Cleanup(m.Stop)

	if err := m.Reconfigure(ctx, queue.QueueGeocode, 2); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if got := m.Sizes()[queue.QueueGeocode]; got != 2 {
		t.Fatalf("size = %d, want 2", got)
	}

	persisted, err := settings.GetInt(dbctx.Context{Ctx: ctx}, SettingGeocodeWorkers, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted != 2 {
		t.Fatalf("persisted = %d, want 2", persisted)
	}
}
