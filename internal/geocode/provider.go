package geocode

import (
	"context"
	"strings"
)

// Request is one address to resolve, already split into components.
type Request struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
}

// OneLine joins the non-empty components into a single query string.
func (r Request) OneLine() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Address, r.City, r.State, r.ZipCode} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Result is a successful resolution. Source is the provider id that produced
// it and is persisted onto the household row.
type Result struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Confidence float64 `json:"confidence"`
	MatchType  string  `json:"matchType"`
	Source     string  `json:"source"`
}

// Provider is one geocoder backend. Geocode returns (nil, nil) for a clean
// no-match; errors are reserved for transport/endpoint failures.
type Provider interface {
	ProviderID() string
	ProviderName() string
	IsAvailable(ctx context.Context) bool
	Geocode(ctx context.Context, req Request) (*Result, error)
}

// BatchGeocoder is the optional native-batch capability. Providers without it
// go through the registry's bounded fan-out instead.
type BatchGeocoder interface {
	BatchGeocode(ctx context.Context, reqs []Request) ([]*Result, error)
}

// PropertyDescriber optionally documents a provider's config shape for the
// configuration surface.
type PropertyDescriber interface {
	CustomProperties() map[string]string
}
