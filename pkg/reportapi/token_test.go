package reportapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/resilience"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestToken_FetchAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "k", creds["username"])
		assert.Equal(t, "s", creds["password"])
		writeEnvelope(w, map[string]any{"token": "tok-a"})
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)
	ctx := context.Background()

	tok, err := ts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", tok)

	tok, err = ts.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", tok)
	assert.EqualValues(t, 1, calls.Load())
}

func TestToken_EarlyRefreshMargin(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeEnvelope(w, map[string]any{"token": "tok-b"})
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)
	now := time.Now()
	ts.now = func() time.Time { return now }

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	// 26 minutes in: inside the 5-minute early-refresh margin of a 30-minute
	// TTL, so the cached token is stale.
	now = now.Add(26 * time.Minute)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestToken_SingleflightUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		writeEnvelope(w, map[string]any{"token": "tok-c"})
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok-c", tok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent callers must share one fetch")
}

func TestToken_RetriesFetchFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, map[string]any{"token": "tok-d"})
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)
	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-d", tok)
	assert.EqualValues(t, 3, calls.Load())
}

func TestToken_OpenBreakerStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)
	ts.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       resilience.IsTransient,
	})

	_, err := ts.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.EqualValues(t, 1, calls.Load(), "an open circuit must cut the fetch retries short")
}

func TestToken_EnvelopeFailure(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "用户名或密码错误"})
	})

	ts := NewTokenSource(srv.URL, "bad", "creds", nil, 30*time.Minute)
	_, err := ts.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "用户名或密码错误")
}

func TestToken_Invalidate(t *testing.T) {
	var calls atomic.Int32
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeEnvelope(w, map[string]any{"token": "tok-e"})
	})

	ts := NewTokenSource(srv.URL, "k", "s", nil, 30*time.Minute)
	ctx := context.Background()

	_, err := ts.Token(ctx)
	require.NoError(t, err)
	ts.Invalidate()
	_, err = ts.Token(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}
