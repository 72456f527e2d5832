package geocode

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-mapper/internal/resilience"
)

// Provider names accepted by New.
const (
	ProviderNominatim = "nominatim"
	ProviderCensus    = "census"
	ProviderGoogle    = "google"
)

// Option configures a provider client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
}

// WithHTTPClient sets a custom HTTP client for the provider's requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit. rps <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(o *options) {
		o.limiter = newLimiter(rps)
	}
}

// WithBaseURL overrides the provider endpoint (self-hosted Nominatim, tests).
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithAPIKey sets the provider API key (Google).
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func buildOptions(defaultRPS float64, opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newLimiter(defaultRPS),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates the client for a single named provider.
func New(provider string, opts ...Option) (Client, error) {
	switch provider {
	case ProviderNominatim:
		return NewNominatimClient(opts...), nil
	case ProviderCensus:
		return NewCensusClient(opts...), nil
	case ProviderGoogle:
		return NewGoogleClient(opts...)
	default:
		return nil, eris.Errorf("geocode: unknown provider %q", provider)
	}
}

// notFound wraps ErrNotFound as a permanent error for the named provider.
func notFound(provider string) error {
	return resilience.NewPermanentError(eris.Wrapf(ErrNotFound, "geocode: %s", provider))
}

// transient wraps err as retryable, keeping an HTTP status when there was one.
func transient(err error, statusCode int) error {
	return resilience.NewTransientError(err, statusCode)
}

// checkCoordinate turns an out-of-range service answer into a permanent failure:
// asking again returns the same bad point.
func checkCoordinate(provider string, lat, lon float64) (Coordinate, error) {
	c, err := NewCoordinate(lat, lon)
	if err != nil {
		return Coordinate{}, resilience.NewPermanentError(eris.Wrapf(err, "geocode: %s", provider))
	}
	return c, nil
}
