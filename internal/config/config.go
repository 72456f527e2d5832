package config

import (
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. GEOMAP_GEOCODE_MAX_RETRIES.
const EnvPrefix = "GEOMAP"

// Provider names.
const (
	ProviderNominatim = "nominatim"
	ProviderCensus    = "census"
	ProviderGoogle    = "google"
	ProviderCascade   = "cascade"
)

// Config holds the full application configuration.
type Config struct {
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GeocodeConfig configures address resolution.
type GeocodeConfig struct {
	Provider            string   `yaml:"provider" mapstructure:"provider"`
	Providers           []string `yaml:"providers" mapstructure:"providers"` // cascade order
	MaxRetries          int      `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffSeconds float64  `yaml:"retry_backoff_seconds" mapstructure:"retry_backoff_seconds"`
	CacheMaxEntries     int      `yaml:"cache_max_entries" mapstructure:"cache_max_entries"` // <= 0 is unbounded
	Concurrency         int      `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit           float64  `yaml:"rate_limit" mapstructure:"rate_limit"` // req/s; 0 keeps the provider default
	TimeoutSecs         int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	NominatimURL        string   `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	GoogleAPIKey        string   `yaml:"google_api_key" mapstructure:"google_api_key"`
	CircuitThreshold    int      `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs    int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// InputConfig configures table loading.
type InputConfig struct {
	AddressField string `yaml:"address_field" mapstructure:"address_field"`
	Sheet        string `yaml:"sheet" mapstructure:"sheet"`
	Delimiter    string `yaml:"delimiter" mapstructure:"delimiter"`
	Encoding     string `yaml:"encoding" mapstructure:"encoding"`
}

// StoreConfig configures the run-history database. An empty URL disables it.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	MaxUploadMB    int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	ShutdownSecs   int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	RequestTimeout int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads ./config.yaml when present, then the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must exist. An empty
// path falls back to the optional ./config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("geocode.provider", ProviderNominatim)
	v.SetDefault("geocode.providers", []string{ProviderCensus, ProviderNominatim})
	v.SetDefault("geocode.max_retries", 3)
	v.SetDefault("geocode.retry_backoff_seconds", 1.0)
	v.SetDefault("geocode.cache_max_entries", 512)
	v.SetDefault("geocode.concurrency", 1)
	v.SetDefault("geocode.rate_limit", 0.0)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org/")
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.circuit_failure_threshold", 5)
	v.SetDefault("geocode.circuit_reset_secs", 30)
	v.SetDefault("input.address_field", "address")
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.encoding", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.shutdown_secs", 15)
	v.SetDefault("server.request_timeout_secs", 600)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var knownProviders = []string{ProviderNominatim, ProviderCensus, ProviderGoogle}

// Validate checks the settings the geocoding pipeline depends on.
func (c *Config) Validate() error {
	var errs []string

	g := c.Geocode
	if g.MaxRetries < 0 {
		errs = append(errs, "geocode.max_retries must be >= 0")
	}
	if g.RetryBackoffSeconds < 0 {
		errs = append(errs, "geocode.retry_backoff_seconds must be >= 0")
	}
	if g.Concurrency < 1 {
		errs = append(errs, "geocode.concurrency must be >= 1")
	}
	if g.RateLimit < 0 {
		errs = append(errs, "geocode.rate_limit must be >= 0")
	}

	switch g.Provider {
	case ProviderCascade:
		if len(g.Providers) == 0 {
			errs = append(errs, "geocode.providers is required for the cascade provider")
		}
		for _, p := range g.Providers {
			if !slices.Contains(knownProviders, p) {
				errs = append(errs, "geocode.providers: unknown provider "+p)
			}
		}
		if slices.Contains(g.Providers, ProviderGoogle) && g.GoogleAPIKey == "" {
			errs = append(errs, "geocode.google_api_key is required for the google provider")
		}
	case ProviderGoogle:
		if g.GoogleAPIKey == "" {
			errs = append(errs, "geocode.google_api_key is required for the google provider")
		}
	case ProviderNominatim, ProviderCensus:
	default:
		errs = append(errs, "geocode.provider: unknown provider "+g.Provider)
	}

	if _, err := c.Input.DelimiterRune(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DelimiterRune returns the configured CSV delimiter; empty means ','.
func (c InputConfig) DelimiterRune() (rune, error) {
	d := c.Delimiter
	if d == "" {
		return ',', nil
	}
	if d == `\t` || d == "tab" {
		return '\t', nil
	}
	if utf8.RuneCountInString(d) != 1 {
		return 0, eris.Errorf("input.delimiter must be a single character, got %q", d)
	}
	r, _ := utf8.DecodeRuneInString(d)
	return r, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
