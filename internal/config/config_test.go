package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderNominatim, cfg.Geocode.Provider)
	assert.Equal(t, []string{ProviderCensus, ProviderNominatim}, cfg.Geocode.Providers)
	assert.Equal(t, 3, cfg.Geocode.MaxRetries)
	assert.InDelta(t, 1.0, cfg.Geocode.RetryBackoffSeconds, 0.001)
	assert.Equal(t, 512, cfg.Geocode.CacheMaxEntries)
	assert.Equal(t, 1, cfg.Geocode.Concurrency)
	assert.Equal(t, 30, cfg.Geocode.TimeoutSecs)
	assert.Equal(t, "https://nominatim.openstreetmap.org/", cfg.Geocode.NominatimURL)
	assert.Equal(t, "address", cfg.Input.AddressField)
	assert.Equal(t, ",", cfg.Input.Delimiter)
	assert.Empty(t, cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(32), cfg.Server.MaxUploadMB)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
geocode:
  provider: cascade
  providers: [census, google]
  google_api_key: abc
  max_retries: 5
  retry_backoff_seconds: 0.5
  cache_max_entries: 0
  concurrency: 4
input:
  address_field: Street Address
  delimiter: ";"
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderCascade, cfg.Geocode.Provider)
	assert.Equal(t, []string{ProviderCensus, ProviderGoogle}, cfg.Geocode.Providers)
	assert.Equal(t, 5, cfg.Geocode.MaxRetries)
	assert.InDelta(t, 0.5, cfg.Geocode.RetryBackoffSeconds, 0.001)
	assert.Equal(t, 0, cfg.Geocode.CacheMaxEntries)
	assert.Equal(t, 4, cfg.Geocode.Concurrency)
	assert.Equal(t, "Street Address", cfg.Input.AddressField)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Geocode.TimeoutSecs)

	r, err := cfg.Input.DelimiterRune()
	require.NoError(t, err)
	assert.Equal(t, ';', r)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
geocode:
  max_retries: 5
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("GEOMAP_GEOCODE_MAX_RETRIES", "0")
	t.Setenv("GEOMAP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 0, cfg.Geocode.MaxRetries)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GEOMAP_SERVER_PORT", "3000")
	t.Setenv("GEOMAP_STORE_DATABASE_URL", "runs.db")
	t.Setenv("GEOMAP_GEOCODE_GOOGLE_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "runs.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "secret", cfg.Geocode.GoogleAPIKey)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("geocode: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFileExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "mapper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("geocode:\n  provider: census\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderCensus, cfg.Geocode.Provider)
	assert.Equal(t, 3, cfg.Geocode.MaxRetries)
}

func TestLoadFileMissingIsError(t *testing.T) {
	chdirTemp(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	return &Config{
		Geocode: GeocodeConfig{
			Provider:            ProviderNominatim,
			MaxRetries:          3,
			RetryBackoffSeconds: 1,
			CacheMaxEntries:     512,
			Concurrency:         1,
		},
		Input:  InputConfig{AddressField: "address", Delimiter: ","},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero retries", func(c *Config) { c.Geocode.MaxRetries = 0 }, ""},
		{"negative retries", func(c *Config) { c.Geocode.MaxRetries = -1 }, "max_retries"},
		{"negative backoff", func(c *Config) { c.Geocode.RetryBackoffSeconds = -0.5 }, "retry_backoff_seconds"},
		{"zero concurrency", func(c *Config) { c.Geocode.Concurrency = 0 }, "concurrency"},
		{"negative rate", func(c *Config) { c.Geocode.RateLimit = -1 }, "rate_limit"},
		{"unknown provider", func(c *Config) { c.Geocode.Provider = "mapquest" }, "unknown provider mapquest"},
		{"google without key", func(c *Config) { c.Geocode.Provider = ProviderGoogle }, "google_api_key"},
		{"google with key", func(c *Config) {
			c.Geocode.Provider = ProviderGoogle
			c.Geocode.GoogleAPIKey = "k"
		}, ""},
		{"cascade empty", func(c *Config) { c.Geocode.Provider = ProviderCascade }, "geocode.providers is required"},
		{"cascade unknown", func(c *Config) {
			c.Geocode.Provider = ProviderCascade
			c.Geocode.Providers = []string{ProviderCensus, "bing"}
		}, "unknown provider bing"},
		{"cascade google without key", func(c *Config) {
			c.Geocode.Provider = ProviderCascade
			c.Geocode.Providers = []string{ProviderGoogle}
		}, "google_api_key"},
		{"bad delimiter", func(c *Config) { c.Input.Delimiter = ";;" }, "single character"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDelimiterRune(t *testing.T) {
	for in, want := range map[string]rune{"": ',', ",": ',', "|": '|', `\t`: '\t', "tab": '\t'} {
		got, err := InputConfig{Delimiter: in}.DelimiterRune()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
