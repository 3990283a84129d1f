package reportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/enviroquery/aqroute/internal/resilience"
)

// earlyRefresh is the margin before expiry at which a cached token is
// treated as stale, so callers never hand the backend a token about to die
// mid-request.
const earlyRefresh = 5 * time.Minute

// TokenSource caches the backend access token and refreshes it through a
// singleflight group so concurrent dispatches share one fetch.
type TokenSource struct {
	baseURL  string
	username string
	password string
	httpc    *http.Client
	ttl      time.Duration

	// breaker guards the token endpoint independently of the report
	// endpoints; nil skips circuit breaking.
	breaker *resilience.CircuitBreaker

	sf singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewTokenSource creates a TokenSource. ttl <= 0 defaults to 30 minutes.
func NewTokenSource(baseURL, username, password string, httpc *http.Client, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{
		baseURL:   baseURL,
		username:  username,
		password:  password,
		httpc:     httpc,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Token returns a valid access token, fetching a fresh one when the cache
// is empty or inside the early-refresh margin.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && t.now().Before(t.expiresAt.Add(-earlyRefresh)) {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	v, err, _ := t.sf.Do("token", func() (any, error) {
		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token. Called when the backend rejects it.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

func (t *TokenSource) refresh(ctx context.Context) (string, error) {
	// Another waiter may have refreshed between the cache check and the
	// singleflight call.
	t.mu.Lock()
	if t.token != "" && t.now().Before(t.expiresAt.Add(-earlyRefresh)) {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	token, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 300 * time.Millisecond,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, resilience.ErrCircuitOpen)
		},
		OnRetry: resilience.RetryLogger("reportapi", "token"),
	}, func(ctx context.Context) (string, error) {
		if t.breaker == nil {
			return t.fetch(ctx)
		}
		return resilience.ExecuteVal(ctx, t.breaker, t.fetch)
	})
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.token = token
	t.expiresAt = t.now().Add(t.ttl)
	t.mu.Unlock()

	zap.L().Debug("reportapi: token refreshed", zap.Duration("ttl", t.ttl))
	return token, nil
}

func (t *TokenSource) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": t.username,
		"password": t.password,
	})
	if err != nil {
		return "", eris.Wrap(err, "reportapi: marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "reportapi: create token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "reportapi: token request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "reportapi: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("reportapi: token endpoint returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", eris.Wrap(err, "reportapi: decode token envelope")
	}
	if !env.Success {
		return "", eris.Errorf("reportapi: token fetch failed: %s", env.Msg)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", eris.Wrap(err, "reportapi: decode token result")
	}
	if result.Token == "" {
		return "", eris.New("reportapi: token endpoint returned empty token")
	}
	return result.Token, nil
}
