package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	geo "github.com/codingsince1985/geo-golang"
	"github.com/codingsince1985/geo-golang/osm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-mapper/internal/resilience"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/"

const nominatimUserAgent = "address-mapper/1.0"

// nominatimPlace is one entry of a /search answer.
type nominatimPlace struct {
	DisplayName string      `json:"display_name"`
	Lat         string      `json:"lat"`
	Lon         string      `json:"lon"`
	Addr        osm.Address `json:"address"`
}

func (p nominatimPlace) location() geo.Location {
	return geo.Location{Lat: geo.ParseFloat(p.Lat), Lng: geo.ParseFloat(p.Lon)}
}

// NominatimClient geocodes through OpenStreetMap Nominatim. The public
// instance allows one request per second, which is the default rate limit.
type NominatimClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	searchURL  string
}

var _ Client = (*NominatimClient)(nil)

// NewNominatimClient creates a Nominatim client. WithBaseURL points it at a
// self-hosted instance.
func NewNominatimClient(opts ...Option) *NominatimClient {
	o := buildOptions(1, opts)
	base := o.baseURL
	if base == "" {
		base = DefaultNominatimURL
	}
	return &NominatimClient{
		httpClient: o.httpClient,
		limiter:    o.limiter,
		searchURL:  strings.TrimSuffix(base, "/") + "/search",
	}
}

// Name implements Client.
func (c *NominatimClient) Name() string { return ProviderNominatim }

// Geocode implements Client. Only a 200 answer with an empty result list is
// a permanent "not found"; every other status is transient.
func (c *NominatimClient) Geocode(ctx context.Context, key AddressKey) (Coordinate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: nominatim rate limit"), 0)
	}

	params := url.Values{
		"q":              {string(key)},
		"format":         {"jsonv2"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return Coordinate{}, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", nominatimUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		return Coordinate{}, transient(eris.Wrap(err, "geocode: nominatim request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			zap.L().Warn("nominatim: unexpected status", zap.Int("status", resp.StatusCode), zap.String("url", c.searchURL))
		}
		return Coordinate{}, transient(statusErr, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Coordinate{}, transient(eris.Wrap(err, "geocode: nominatim read body"), resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		// Nominatim reports failures as {"error": ...}, sometimes with a 200.
		return Coordinate{}, transient(eris.Wrapf(err, "geocode: nominatim parse response %q", truncateBody(body)), resp.StatusCode)
	}
	if len(places) == 0 {
		zap.L().Debug("nominatim: no match", zap.String("address", string(key)))
		return Coordinate{}, notFound(ProviderNominatim)
	}

	p := places[0]
	zap.L().Debug("nominatim: match",
		zap.String("address", string(key)),
		zap.String("display_name", p.DisplayName),
		zap.String("locality", p.Addr.Locality()),
	)
	loc := p.location()
	return checkCoordinate(ProviderNominatim, loc.Lat, loc.Lng)
}

func truncateBody(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
