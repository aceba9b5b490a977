package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Point is a resolved coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Provider resolves a free-form address query to coordinates. A nil point
// with nil error means "no result"; errors cover transport failures only.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (*Point, error)
}

// TwoGISClient is the commercial primary provider.
type TwoGISClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTwoGISClient creates the primary geocoder client. An empty API key
// disables it: Geocode returns no result without a network call.
func NewTwoGISClient(baseURL, apiKey string, timeout time.Duration) *TwoGISClient {
	return &TwoGISClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider in cache rows and explanations.
func (c *TwoGISClient) Name() string { return "2gis" }

// Geocode queries the catalog geocode endpoint.
func (c *TwoGISClient) Geocode(ctx context.Context, query string) (*Point, error) {
	if c.apiKey == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("fields", "items.point")
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build 2gis request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("2gis request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("2gis returned HTTP %d", resp.StatusCode)
	}

	var body struct {
		Result struct {
			Items []struct {
				Point *struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"point"`
			} `json:"items"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode 2gis response: %w", err)
	}
	if len(body.Result.Items) == 0 || body.Result.Items[0].Point == nil {
		return nil, nil
	}
	p := body.Result.Items[0].Point
	return &Point{Lat: p.Lat, Lon: p.Lon}, nil
}

// NominatimClient is the free OSM-based fallback provider.
type NominatimClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNominatimClient creates the fallback geocoder client.
func NewNominatimClient(baseURL string, timeout time.Duration) *NominatimClient {
	return &NominatimClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider in cache rows and explanations.
func (c *NominatimClient) Name() string { return "nominatim" }

// Geocode queries the search endpoint. Coordinates come back as strings.
func (c *NominatimClient) Geocode(ctx context.Context, query string) (*Point, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", "fireroute-geocoder/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned HTTP %d", resp.StatusCode)
	}

	var body []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(body[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim returned bad latitude %q: %w", body[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(body[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim returned bad longitude %q: %w", body[0].Lon, err)
	}
	return &Point{Lat: lat, Lon: lon}, nil
}
