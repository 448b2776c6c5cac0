package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

const (
	censusProviderID   = "census"
	censusProviderName = "US Census Geocoder"
	censusBenchmark    = "Public_AR_Current"
)

// CensusProvider resolves addresses through the US Census Bureau's free
// onelineaddress endpoint. No API key, US addresses only.
type CensusProvider struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

func NewCensusProvider(baseLog *logger.Logger) *CensusProvider {
	log := baseLog.With("component", "CensusProvider")
	return &CensusProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: utils.GetEnv("CENSUS_GEOCODER_URL", "https://geocoding.geo.census.gov", log),
		log:     log,
	}
}

func (p *CensusProvider) ProviderID() string   { return censusProviderID }
func (p *CensusProvider) ProviderName() string { return censusProviderName }

func (p *CensusProvider) CustomProperties() map[string]string {
	return map[string]string{
		"benchmark": "Census benchmark dataset, default " + censusBenchmark,
	}
}

// IsAvailable probes the endpoint with a short timeout. Any response that is
// not a server error counts as available.
func (p *CensusProvider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/geocoder", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

func (p *CensusProvider) Geocode(ctx context.Context, r Request) (*Result, error) {
	q := url.Values{}
	q.Set("address", r.OneLine())
	q.Set("benchmark", censusBenchmark)
	q.Set("format", "json")

	endpoint := p.baseURL + "/geocoder/locations/onelineaddress?" + q.Encode()
	resp, err := doWithRetry(p.client, censusProviderID, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("census decode: %w", err)
	}
	if len(body.Result.AddressMatches) == 0 {
		return nil, nil
	}

	m := body.Result.AddressMatches[0]
	return &Result{
		Latitude:   m.Coordinates.Y,
		Longitude:  m.Coordinates.X,
		Confidence: 1.0,
		MatchType:  "exact",
		Source:     censusProviderID,
	}, nil
}
