// Package resilience provides retry, error classification, and circuit breaker
// helpers for calls to external geocoding services.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of a provider's Breaker.
type CircuitState int

const (
	// CircuitClosed lets every lookup through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects lookups until the cool-down has passed.
	CircuitOpen
	// CircuitHalfOpen lets one probe lookup through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned when a lookup is rejected without calling the provider.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitBreakerConfig controls when a Breaker opens and how long it stays open.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is the cool-down before a probe is let through. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count as failures. The default counts
	// everything but a PermanentError, since "not found" is a healthy answer.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions in addition to the Info log line.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used when config leaves
// the breaker settings at zero.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker tracks the health of one geocoding provider.
type Breaker struct {
	provider string
	cfg      CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed Breaker for the named provider.
func NewBreaker(provider string, cfg CircuitBreakerConfig) *Breaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return !IsPermanent(err) }
	}
	return &Breaker{provider: provider, cfg: cfg, now: time.Now}
}

// Provider returns the name the breaker was created for.
func (b *Breaker) Provider() string { return b.provider }

// Guard calls fn unless the provider's circuit is open. A cancelled ctx is
// not counted against the provider.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	if ctx.Err() != nil {
		b.release()
		return val, err
	}
	b.observe(err)
	return val, err
}

// State returns the current state. An open circuit whose cool-down has
// passed reports half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.cooledDown() {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if !b.cooledDown() {
			return eris.Wrapf(ErrCircuitOpen, "resilience: %s", b.provider)
		}
		b.setState(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return eris.Wrapf(ErrCircuitOpen, "resilience: %s probe in flight", b.provider)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// release frees the probe slot without judging the provider.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state != CircuitClosed {
			b.setState(CircuitClosed)
		}
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		if b.state != CircuitOpen {
			b.setState(CircuitOpen)
		}
	}
}

func (b *Breaker) setState(to CircuitState) {
	from := b.state
	b.state = to
	zap.L().Info("circuit state change",
		zap.String("provider", b.provider),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("consecutive_failures", b.failures),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.provider, from, to)
	}
}

// BreakerSet holds one Breaker per provider name, created on first use.
type BreakerSet struct {
	cfg CircuitBreakerConfig

	mu     sync.RWMutex
	byName map[string]*Breaker
}

// NewBreakerSet creates an empty set whose breakers share cfg.
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, byName: make(map[string]*Breaker)}
}

// For returns the provider's Breaker.
func (s *BreakerSet) For(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.byName[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.byName[provider]; ok {
		return b
	}
	b = NewBreaker(provider, s.cfg)
	s.byName[provider] = b
	return b
}

// States snapshots every provider's state.
func (s *BreakerSet) States() map[string]CircuitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]CircuitState, len(s.byName))
	for name, b := range s.byName {
		states[name] = b.State()
	}
	return states
}
