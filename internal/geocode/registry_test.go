package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Spinnernicholas/cocoa-canvas/internal/repos"
	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
)

type stubProvider struct {
	id        string
	available bool

	mu    sync.Mutex
	calls map[string]int
	fn    func(req Request) (*Result, error)
}

func newStubProvider(id string) *stubProvider {
	return &stubProvider{id: id, available: true, calls: map[string]int{}}
}

func (p *stubProvider) ProviderID() string                   { return p.id }
func (p *stubProvider) ProviderName() string                 { return "stub " + p.id }
func (p *stubProvider) IsAvailable(ctx context.Context) bool { return p.available }

func (p *stubProvider) Geocode(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	p.calls[req.Address]++
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(req)
	}
	return &Result{Latitude: 37.97, Longitude: -122.03, Confidence: 1, MatchType: "exact", Source: p.id}, nil
}

func (p *stubProvider) callCount(address string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[address]
}

func TestSelectPinnedProviderWins(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))
	ctx := context.Background()

	testutil.SeedProvider(t, ctx, db, "census", true, true, 10)
	testutil.SeedProvider(t, ctx, db, "nominatim", true, false, 20)
	if err := reg.Register(newStubProvider("census")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(newStubProvider("nominatim")); err != nil {
		t.Fatalf("register: %v", err)
	}

	p, err := reg.Select(ctx, "nominatim")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.ProviderID() != "nominatim" {
		t.Fatalf("selected %s, want pinned nominatim", p.ProviderID())
	}
}

func TestSelectFallsBackToPrimary(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))
	ctx := context.Background()

	testutil.SeedProvider(t, ctx, db, "census", true, true, 10)
	testutil.SeedProvider(t, ctx, db, "nominatim", false, false, 20)
	if err := reg.Register(newStubProvider("census")); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Pinned provider is disabled, so selection falls back to the primary.
	p, err := reg.Select(ctx, "nominatim")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.ProviderID() != "census" {
		t.Fatalf("selected %s, want census", p.ProviderID())
	}
}

func TestSelectWalksPriorityOrderPastUnavailablePrimary(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))
	ctx := context.Background()

	testutil.SeedProvider(t, ctx, db, "census", true, true, 10)
	testutil.SeedProvider(t, ctx, db, "nominatim", true, false, 20)
	testutil.SeedProvider(t, ctx, db, "fallback", true, false, 30)

	down := newStubProvider("census")
	down.available = false
	for _, p := range []Provider{down, newStubProvider("nominatim"), newStubProvider("fallback")} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	p, err := reg.Select(ctx, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if p.ProviderID() != "nominatim" {
		t.Fatalf("selected %s, want nominatim (lowest priority after down primary)", p.ProviderID())
	}
}

func TestSelectNoProvider(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))

	_, err := reg.Select(context.Background(), "")
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("select on empty registry = %v, want ErrNoProvider", err)
	}
}

func TestHasEnabledRequiresRowAndImpl(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))
	ctx := context.Background()

	ok, err := reg.HasEnabled(ctx)
	if err != nil || ok {
		t.Fatalf("empty registry HasEnabled = (%v, %v)", ok, err)
	}

	// A row without a registered backend does not count.
	testutil.SeedProvider(t, ctx, db, "census", true, true, 10)
	ok, err = reg.HasEnabled(ctx)
	if err != nil || ok {
		t.Fatalf("row without impl HasEnabled = (%v, %v)", ok, err)
	}

	if err := reg.Register(newStubProvider("census")); err != nil {
		t.Fatalf("register: %v", err)
	}
	ok, err = reg.HasEnabled(ctx)
	if err != nil || !ok {
		t.Fatalf("HasEnabled = (%v, %v), want true", ok, err)
	}
}

type batchStub struct {
	*stubProvider
}

func (b *batchStub) BatchGeocode(ctx context.Context, reqs []Request) ([]*Result, error) {
	out := make([]*Result, len(reqs))
	for i := range reqs {
		out[i] = &Result{Latitude: float64(i), Longitude: float64(i), Source: b.id}
	}
	return out, nil
}

func TestBatchGeocodePrefersNativeBatch(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))

	native := &batchStub{newStubProvider("census")}
	reqs := []Request{{Address: "1 Main St"}, {Address: "2 Main St"}}
	results, err := reg.BatchGeocode(context.Background(), native, reqs, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 2 || results[1] == nil || results[1].Latitude != 1 {
		t.Fatalf("results = %+v", results)
	}
	if native.callCount("1 Main St") != 0 {
		t.Fatal("native batch must not fall back to unit calls")
	}
}

func TestBatchGeocodeFanOutAlignsResults(t *testing.T) {
	db := testutil.DB(t)
	repo := repos.NewGeocodingProviderRepo(db, testutil.Logger(t))
	reg := NewRegistry(repo, testutil.Logger(t))

	stub := newStubProvider("census")
	stub.fn = func(req Request) (*Result, error) {
		if req.Address == "2 Main St" {
			return nil, fmt.Errorf("upstream hiccup")
		}
		return &Result{Latitude: 1, Longitude: 2, Source: "census"}, nil
	}
	reqs := []Request{{Address: "1 Main St"}, {Address: "2 Main St"}, {Address: "3 Main St"}}
	results, err := reg.BatchGeocode(context.Background(), stub, reqs, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results[0] == nil || results[2] == nil {
		t.Fatalf("successful entries missing: %+v", results)
	}
	if results[1] != nil {
		t.Fatalf("failed entry should be nil, got %+v", results[1])
	}
}
