package resiliency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnWindowedFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 3, time.Minute, 10*time.Second).
		WithClock(func() time.Time { return now })

	cb.Failure()
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// After the open period a probe is allowed (half-open).
	now = now.Add(11 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerFailuresOutsideWindowForgotten(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 3, 10*time.Second, time.Minute).
		WithClock(func() time.Time { return now })

	cb.Failure()
	cb.Failure()
	now = now.Add(20 * time.Second) // window slides past the first two
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 1, time.Minute, 10*time.Second).
		WithClock(func() time.Time { return now })

	cb.Failure()
	require.Equal(t, StateOpen, cb.State())
	now = now.Add(11 * time.Second)
	require.True(t, cb.Allow())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.sleep = func(time.Duration) {}

	err := c.Post(context.Background(), srv.URL, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.sleep = func(time.Duration) {}

	err := c.Post(context.Background(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientBreakerBlocksWhenOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := NewCircuitBreaker("sink", 1, time.Minute, time.Minute)
	c := NewClient(cb)
	c.sleep = func(time.Duration) {}

	require.Error(t, c.Post(context.Background(), srv.URL, []byte(`{}`), nil))
	require.Equal(t, StateOpen, cb.State())

	err := c.Post(context.Background(), srv.URL, []byte(`{}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")
}
