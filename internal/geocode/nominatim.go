package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

const (
	nominatimProviderID   = "nominatim"
	nominatimProviderName = "OpenStreetMap Nominatim"
	nominatimUserAgent    = "cocoa-canvas/1.0"
)

// NominatimProvider resolves addresses through an OSM Nominatim instance.
// The public instance rate-limits to one request per second, so this provider
// is usually a fallback unless a self-hosted base URL is configured.
type NominatimProvider struct {
	client  *http.Client
	baseURL string
	log     *logger.Logger
}

func NewNominatimProvider(baseLog *logger.Logger) *NominatimProvider {
	log := baseLog.With("component", "NominatimProvider")
	return &NominatimProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: utils.GetEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org", log),
		log:     log,
	}
}

func (p *NominatimProvider) ProviderID() string   { return nominatimProviderID }
func (p *NominatimProvider) ProviderName() string { return nominatimProviderName }

func (p *NominatimProvider) CustomProperties() map[string]string {
	return map[string]string{
		"base_url": "Nominatim instance URL; point at a self-hosted instance to lift the public rate limit",
	}
}

func (p *NominatimProvider) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", nominatimUserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

type nominatimPlace struct {
	Lat        string  `json:"lat"`
	Lon        string  `json:"lon"`
	Importance float64 `json:"importance"`
	Type       string  `json:"type"`
}

func (p *NominatimProvider) Geocode(ctx context.Context, r Request) (*Result, error) {
	q := url.Values{}
	q.Set("q", r.OneLine())
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	endpoint := p.baseURL + "/search?" + q.Encode()
	resp, err := doWithRetry(p.client, nominatimProviderID, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", nominatimUserAgent)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("nominatim decode: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim latitude %q: %w", places[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim longitude %q: %w", places[0].Lon, err)
	}
	return &Result{
		Latitude:   lat,
		Longitude:  lng,
		Confidence: places[0].Importance,
		MatchType:  places[0].Type,
		Source:     nominatimProviderID,
	}, nil
}
