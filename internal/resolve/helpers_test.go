package resolve

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

// fakeClient answers lookups from a script and counts calls per key.
type fakeClient struct {
	mu     sync.Mutex
	calls  map[geocode.AddressKey]int
	answer func(ctx context.Context, key geocode.AddressKey, call int) (geocode.Coordinate, error)
}

func newFakeClient(answer func(ctx context.Context, key geocode.AddressKey, call int) (geocode.Coordinate, error)) *fakeClient {
	return &fakeClient{calls: make(map[geocode.AddressKey]int), answer: answer}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Geocode(ctx context.Context, key geocode.AddressKey) (geocode.Coordinate, error) {
	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()
	return f.answer(ctx, key, n)
}

func (f *fakeClient) callsFor(key geocode.AddressKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeClient) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func errTransient() error {
	return resilience.NewTransientError(errors.New("service unavailable"), 503)
}

func errNotFound() error {
	return resilience.NewPermanentError(eris.Wrap(geocode.ErrNotFound, "fake"))
}

func noBackoff(retries int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: retries}
}

func addressTable(addresses ...any) Table {
	rows := make([]Record, len(addresses))
	for i, a := range addresses {
		rows[i] = Record{"id": i + 1, "address": a}
	}
	return Table{Columns: []string{"id", "address"}, Rows: rows}
}

var bakerStreet = geocode.Coordinate{Lat: 51.523, Lon: -0.158}

// bakerClient knows one address and cleanly fails every other one.
func bakerClient() *fakeClient {
	return newFakeClient(func(_ context.Context, key geocode.AddressKey, _ int) (geocode.Coordinate, error) {
		if key == "221B Baker Street" {
			return bakerStreet, nil
		}
		return geocode.Coordinate{}, errNotFound()
	})
}
