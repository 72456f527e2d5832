package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/internal/resolve"
)

// Fetcher saves a remote input file locally so it can be loaded like any
// other table.
type Fetcher interface {
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// HTTPOptions tunes HTTPFetcher. Zero fields take the defaults noted.
type HTTPOptions struct {
	UserAgent  string        // "address-mapper/1.0"
	Timeout    time.Duration // 60s
	MaxRetries int           // 3
	Backoff    time.Duration // 1s, doubling up to 30s
	RateLimit  float64       // requests per second per host, 5
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.UserAgent == "" {
		o.UserAgent = "address-mapper/1.0"
	}
	if o.Timeout == 0 {
		o.Timeout = time.Minute
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Backoff == 0 {
		o.Backoff = time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	return o
}

// HTTPFetcher downloads remote inputs with retries and a per-host rate limit.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	retry  resilience.RetryConfig
	hosts  sync.Map // host -> *rate.Limiter
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		retry: resilience.RetryConfig{
			MaxRetries:     opts.MaxRetries,
			Backoff:        opts.Backoff,
			Multiplier:     2,
			MaxBackoff:     30 * time.Second,
			JitterFraction: 0.25,
			OnRetry:        resilience.RetryLogger("http", "download"),
		},
	}
}

// IsURL reports whether input names an http(s) resource rather than a local path.
func IsURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func (f *HTTPFetcher) limiter(u *url.URL) *rate.Limiter {
	burst := max(int(f.opts.RateLimit), 1)
	lim, _ := f.hosts.LoadOrStore(u.Host, rate.NewLimiter(rate.Limit(f.opts.RateLimit), burst))
	return lim.(*rate.Limiter)
}

// Download returns the body of a 200 response. Non-200 statuses are
// classified with IsTransientHTTPStatus and retried accordingly.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "download: parse url")
	}
	body, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (io.ReadCloser, error) {
		return f.attempt(ctx, u)
	})
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	return body, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if err := f.limiter(u).Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, resilience.NewPermanentError(err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	_ = resp.Body.Close()

	statusErr := eris.Errorf("http %d from %s", resp.StatusCode, u.Redacted())
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return nil, resilience.NewPermanentError(statusErr)
}

// DownloadToFile streams the URL's body into path and returns the byte count.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "download: create file")
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrap(err, "download: write file")
	}
	return n, nil
}

// FetchTable downloads a remote CSV or XLSX file into dir and loads it. The
// format comes from the URL path's extension.
func FetchTable(ctx context.Context, f Fetcher, rawURL, dir string, opts TableOptions) (resolve.Table, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return resolve.Table{}, eris.Wrap(err, "fetcher: parse url")
	}
	name := filepath.Base(u.Path)
	if _, err := FormatOf(name); err != nil {
		return resolve.Table{}, err
	}

	path := filepath.Join(dir, name)
	if _, err := f.DownloadToFile(ctx, rawURL, path); err != nil {
		return resolve.Table{}, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}
	return LoadTable(ctx, path, opts)
}
