package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-mapper/internal/config"
	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

// mapClient resolves the addresses it knows and reports every other one as
// not found.
type mapClient struct {
	mu     sync.Mutex
	known  map[geocode.AddressKey]geocode.Coordinate
	calls  int
	before func(ctx context.Context)
}

func (m *mapClient) Name() string { return "map" }

func (m *mapClient) Geocode(ctx context.Context, key geocode.AddressKey) (geocode.Coordinate, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.before != nil {
		m.before(ctx)
	}
	if err := ctx.Err(); err != nil {
		return geocode.Coordinate{}, err
	}
	if c, ok := m.known[key]; ok {
		return c, nil
	}
	return geocode.Coordinate{}, resilience.NewPermanentError(eris.Wrap(geocode.ErrNotFound, "map"))
}

func bakerMapClient() *mapClient {
	return &mapClient{known: map[geocode.AddressKey]geocode.Coordinate{
		"221B Baker Street": {Lat: 51.523, Lon: -0.158},
	}}
}

const bakerCSV = "id,address\n1,221B Baker Street\n2,\n3,\"Nowhere, Nowhereland\"\n"

func testConfig() *config.Config {
	return &config.Config{
		Geocode: config.GeocodeConfig{
			Provider:        config.ProviderNominatim,
			CacheMaxEntries: 16,
			Concurrency:     1,
		},
		Input:  config.InputConfig{AddressField: "address", Delimiter: ","},
		Server: config.ServerConfig{MaxUploadMB: 1, CORSOrigins: []string{"*"}},
		Log:    config.LogConfig{Level: "info", Format: "json"},
	}
}
