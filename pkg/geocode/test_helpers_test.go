package geocode

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// redirectTo returns a client that sends every request aimed at endpoint to
// srvURL instead, keeping the path suffix and query.
func redirectTo(srvURL, endpoint string) *http.Client {
	return &http.Client{Transport: redirector{srv: srvURL, endpoint: endpoint}}
}

type redirector struct {
	srv, endpoint string
}

func (r redirector) RoundTrip(req *http.Request) (*http.Response, error) {
	rest, ok := strings.CutPrefix(req.URL.String(), r.endpoint)
	if !ok {
		return http.DefaultTransport.RoundTrip(req)
	}
	target, err := url.Parse(r.srv + rest)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL, out.Host = target, target.Host
	return http.DefaultTransport.RoundTrip(out)
}
