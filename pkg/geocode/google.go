package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleClient geocodes with the Google Geocoding API.
type GoogleClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string

	deniedOnce sync.Once
}

var _ Client = (*GoogleClient)(nil)

// NewGoogleClient creates a Google client. WithAPIKey is required.
func NewGoogleClient(opts ...Option) (*GoogleClient, error) {
	o := buildOptions(50, opts)
	if o.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	base := o.baseURL
	if base == "" {
		base = googleGeocodeURL
	}
	return &GoogleClient{httpClient: o.httpClient, limiter: o.limiter, baseURL: base, apiKey: o.apiKey}, nil
}

// Name implements Client.
func (c *GoogleClient) Name() string { return ProviderGoogle }

// Geocode implements Client.
func (c *GoogleClient) Geocode(ctx context.Context, key AddressKey) (Coordinate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: google rate limit"), 0)
	}

	params := url.Values{
		"address": {string(key)},
		"key":     {c.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Coordinate{}, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: google request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Coordinate{}, transient(eris.Errorf("geocode: google returned status %d", resp.StatusCode), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinate{}, transient(eris.Wrap(err, "geocode: google read body"), resp.StatusCode)
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return Coordinate{}, transient(eris.Wrap(err, "geocode: google parse response"), resp.StatusCode)
	}

	switch googleResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Coordinate{}, notFound(ProviderGoogle)
	case "REQUEST_DENIED":
		c.deniedOnce.Do(func() {
			zap.L().Warn("google: request denied; check geocode.google_api_key and that the Geocoding API is enabled for it",
				zap.String("error_message", googleResp.ErrorMessage))
		})
		return Coordinate{}, transient(eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage), resp.StatusCode)
	default:
		// OVER_QUERY_LIMIT, UNKNOWN_ERROR, INVALID_REQUEST and friends.
		return Coordinate{}, transient(eris.Errorf("geocode: google status %s: %s", googleResp.Status, googleResp.ErrorMessage), resp.StatusCode)
	}

	if len(googleResp.Results) == 0 {
		return Coordinate{}, notFound(ProviderGoogle)
	}

	loc := googleResp.Results[0].Geometry.Location
	return checkCoordinate(ProviderGoogle, loc.Lat, loc.Lng)
}
