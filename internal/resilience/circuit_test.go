package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unavailable(_ context.Context) (int, error) {
	return 0, NewTransientError(errors.New("unavailable"), 503)
}

func healthy(_ context.Context) (int, error) { return 1, nil }

// frozenBreaker returns a breaker whose clock only moves when advance is called.
func frozenBreaker(threshold int, reset time.Duration) (*Breaker, func(time.Duration)) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("census", CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	b.now = func() time.Time { return now }
	return b, func(d time.Duration) { now = now.Add(d) }
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("nominatim", DefaultCircuitBreakerConfig())

	val, err := Guard(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, "nominatim", b.Provider())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := frozenBreaker(3, time.Minute)

	for range 3 {
		_, _ = Guard(context.Background(), b, unavailable)
	}
	require.Equal(t, CircuitOpen, b.State())

	_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("provider should not be called while the circuit is open")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "census")
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	b, _ := frozenBreaker(2, time.Minute)

	for range 5 {
		_, _ = Guard(context.Background(), b, func(_ context.Context) (int, error) {
			return 0, NewPermanentError(errors.New("not found"))
		})
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := frozenBreaker(3, time.Minute)

	_, _ = Guard(context.Background(), b, unavailable)
	_, _ = Guard(context.Background(), b, unavailable)
	_, _ = Guard(context.Background(), b, healthy)
	_, _ = Guard(context.Background(), b, unavailable)
	_, _ = Guard(context.Background(), b, unavailable)

	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_ProbeClosesCircuit(t *testing.T) {
	b, advance := frozenBreaker(2, 100*time.Millisecond)

	_, _ = Guard(context.Background(), b, unavailable)
	_, _ = Guard(context.Background(), b, unavailable)
	require.Equal(t, CircuitOpen, b.State())

	advance(200 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, b.State())

	_, err := Guard(context.Background(), b, healthy)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, advance := frozenBreaker(1, 100*time.Millisecond)

	_, _ = Guard(context.Background(), b, unavailable)
	advance(200 * time.Millisecond)
	_, _ = Guard(context.Background(), b, unavailable)

	assert.Equal(t, CircuitOpen, b.State())

	// The cool-down restarts from the failed probe.
	advance(50 * time.Millisecond)
	assert.Equal(t, CircuitOpen, b.State())
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, advance := frozenBreaker(1, time.Second)
	_, _ = Guard(context.Background(), b, unavailable)
	advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Guard(context.Background(), b, func(_ context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()

	<-started
	_, err := Guard(context.Background(), b, healthy)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	<-done
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b, _ := frozenBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = Guard(ctx, b, func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := NewBreaker("google", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(provider string, from, to CircuitState) {
			transitions = append(transitions, provider+":"+from.String()+"->"+to.String())
		},
	})

	_, _ = Guard(context.Background(), b, unavailable)
	assert.Equal(t, []string{"google:closed->open"}, transitions)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker("census", CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Guard(context.Background(), b, unavailable)
				return
			}
			_, _ = Guard(context.Background(), b, healthy)
		}()
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerSet_For(t *testing.T) {
	s := NewBreakerSet(DefaultCircuitBreakerConfig())

	a := s.For("nominatim")
	assert.Same(t, a, s.For("nominatim"))
	assert.NotSame(t, a, s.For("google"))

	states := s.States()
	assert.Len(t, states, 2)
	assert.Equal(t, CircuitClosed, states["google"])
}

func TestCircuitState_String(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(42): "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestCircuitState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]CircuitState{"census": CircuitOpen})
	require.NoError(t, err)
	assert.JSONEq(t, `{"census":"open"}`, string(data))
}
