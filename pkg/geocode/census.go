package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// CensusClient geocodes US addresses with the Census Geocoder one-line API.
type CensusClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

var _ Client = (*CensusClient)(nil)

// NewCensusClient creates a Census client. Default rate limit: 50 req/s.
func NewCensusClient(opts ...Option) *CensusClient {
	o := buildOptions(50, opts)
	base := o.baseURL
	if base == "" {
		base = censusOneLineURL
	}
	return &CensusClient{httpClient: o.httpClient, limiter: o.limiter, baseURL: base}
}

// Name implements Client.
func (c *CensusClient) Name() string { return ProviderCensus }

// Geocode implements Client.
func (c *CensusClient) Geocode(ctx context.Context, key AddressKey) (Coordinate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: census rate limit"), 0)
	}

	params := url.Values{
		"address":   {string(key)},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Coordinate{}, eris.Wrap(err, "geocode: census build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: census request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Coordinate{}, transient(eris.Errorf("geocode: census returned status %d", resp.StatusCode), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinate{}, transient(eris.Wrap(err, "geocode: census read body"), resp.StatusCode)
	}

	var censusResp censusOneLineResponse
	if err := json.Unmarshal(body, &censusResp); err != nil {
		return Coordinate{}, transient(eris.Wrap(err, "geocode: census parse response"), resp.StatusCode)
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return Coordinate{}, notFound(ProviderCensus)
	}

	match := censusResp.Result.AddressMatches[0]
	return checkCoordinate(ProviderCensus, match.Coordinates.Y, match.Coordinates.X)
}
