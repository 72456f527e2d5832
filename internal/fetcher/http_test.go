package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "mapper-test",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		RateLimit:  1000,
	})
}

// statusSequence serves the given statuses in order, then 200 with body.
func statusSequence(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		assert.Equal(t, "mapper-test", r.Header.Get("User-Agent"))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPFetcher_Download(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantHits int32
		wantErr  string
	}{
		{name: "ok", wantHits: 1},
		{name: "recovers from 503", statuses: []int{503, 503}, wantHits: 3},
		{name: "429 is retried", statuses: []int{429}, wantHits: 2},
		{name: "404 is final", statuses: []int{404}, wantHits: 1, wantErr: "http 404"},
		{name: "gives up after retries", statuses: []int{502, 502, 502, 502, 502}, wantHits: 4, wantErr: "http 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := statusSequence(t, "name,address\n", tt.statuses...)

			body, err := fastFetcher().Download(context.Background(), srv.URL+"/in.csv")
			assert.Equal(t, tt.wantHits, hits.Load())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer body.Close() //nolint:errcheck
			data, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, "name,address\n", string(data))
		})
	}
}

func TestHTTPFetcher_DownloadCancelled(t *testing.T) {
	srv, hits := statusSequence(t, "unused")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastFetcher().Download(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestHTTPFetcher_DownloadToFile(t *testing.T) {
	srv, _ := statusSequence(t, "name,address\nHolmes,221B Baker Street\n")
	path := filepath.Join(t.TempDir(), "in.csv")

	n, err := fastFetcher().DownloadToFile(context.Background(), srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(38), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name,address\nHolmes,221B Baker Street\n", string(data))
}

func TestHTTPOptions_Defaults(t *testing.T) {
	o := HTTPOptions{}.withDefaults()
	assert.Equal(t, "address-mapper/1.0", o.UserAgent)
	assert.Equal(t, time.Minute, o.Timeout)
	assert.Equal(t, 3, o.MaxRetries)
	assert.Equal(t, time.Second, o.Backoff)
	assert.Equal(t, 5.0, o.RateLimit)
}

func TestIsURL(t *testing.T) {
	for in, want := range map[string]bool{
		"https://example.com/a.csv": true,
		"http://example.com/a.xlsx": true,
		"addresses.csv":             false,
		"/tmp/https.csv":            false,
	} {
		assert.Equal(t, want, IsURL(in), in)
	}
}

func TestFetchTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exports/addresses.csv", r.URL.Path)
		_, _ = io.WriteString(w, "name,address\nHolmes,221B Baker Street\n")
	}))
	defer srv.Close()

	tbl, err := FetchTable(context.Background(), fastFetcher(), srv.URL+"/exports/addresses.csv?token=x", t.TempDir(), TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "address"}, tbl.Columns)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "221B Baker Street", tbl.Rows[0]["address"])
}

func TestFetchTable_UnsupportedExtension(t *testing.T) {
	_, err := FetchTable(context.Background(), fastFetcher(), "https://example.com/data.json", t.TempDir(), TableOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input file")
}
