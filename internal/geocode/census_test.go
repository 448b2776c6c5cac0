package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/repos/testutil"
)

const censusMatchBody = `{
	"result": {
		"addressMatches": [
			{
				"matchedAddress": "123 OAK ST, CONCORD, CA, 94520",
				"coordinates": {"x": -122.031, "y": 37.978}
			}
		]
	}
}`

func TestCensusGeocodeParsesMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/geocoder/locations/onelineaddress" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("benchmark"); got != censusBenchmark {
			t.Errorf("benchmark = %q", got)
		}
		if got := r.URL.Query().Get("address"); got == "" {
			t.Error("address query missing")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(censusMatchBody))
	}))
	defer srv.Close()

	t.Setenv("CENSUS_GEOCODER_URL", srv.URL)
	p := NewCensusProvider(testutil.Logger(t))

	res, err := p.Geocode(context.Background(), Request{
		Address: "123 Oak St", City: "Concord", State: "CA", ZipCode: "94520",
	})
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if res == nil {
		t.Fatal("expected a match")
	}
	if res.Latitude != 37.978 || res.Longitude != -122.031 || res.Source != censusProviderID {
		t.Fatalf("result = %+v", res)
	}
}

func TestCensusGeocodeNoMatchIsNilNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": {"addressMatches": []}}`))
	}))
	defer srv.Close()

	t.Setenv("CENSUS_GEOCODER_URL", srv.URL)
	p := NewCensusProvider(testutil.Logger(t))

	res, err := p.Geocode(context.Background(), Request{Address: "1 Nowhere Ln"})
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil for no match", res)
	}
}

func TestCensusGeocodeServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Setenv("CENSUS_GEOCODER_URL", srv.URL)
	p := NewCensusProvider(testutil.Logger(t))

	if _, err := p.Geocode(context.Background(), Request{Address: "123 Oak St"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestCensusRetryWaitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("CENSUS_GEOCODER_URL", srv.URL)
	p := NewCensusProvider(testutil.Logger(t))

	// The retry backoff after a 429 is ~500ms; a cancelled context must cut
	// it short instead of sleeping it out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := p.Geocode(ctx, Request{Address: "123 Oak St"})
	if err == nil {
		t.Fatal("expected error when rate limited")
	}
	if elapsed := time.Since(begin); elapsed > 350*time.Millisecond {
		t.Fatalf("geocode took %v, backoff ignored the context", elapsed)
	}
}

func TestCensusIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The health check tolerates anything short of a server error.
		http.NotFound(w, r)
	}))
	defer srv.Close()

	t.Setenv("CENSUS_GEOCODER_URL", srv.URL)
	p := NewCensusProvider(testutil.Logger(t))
	if !p.IsAvailable(context.Background()) {
		t.Fatal("expected available")
	}

	srv.Close()
	if p.IsAvailable(context.Background()) {
		t.Fatal("expected unavailable once the endpoint is gone")
	}
}
