package resilience

import (
	"time"
)

// FromRetryConfig converts the geocode retry settings to a RetryConfig.
// Negative values are clamped to zero; the backoff stays fixed.
func FromRetryConfig(maxRetries int, backoffSeconds float64) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = max(maxRetries, 0)
	cfg.Backoff = time.Duration(max(backoffSeconds, 0) * float64(time.Second))
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig. Zero
// values keep the defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
