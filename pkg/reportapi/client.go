// Package reportapi is the client for the upstream air-quality reporting
// backend. It owns token lifecycle, rate limiting, circuit breaking, and
// transient-error retry; callers see either a decoded payload or a typed
// status error they can classify.
package reportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/resilience"
)

// Client defines the two reporting operations.
type Client interface {
	// Summary fetches a single-window report.
	Summary(ctx context.Context, req model.ReportRequest) (*Payload, error)
	// Comparison fetches a two-window report; req must carry ContrastTime.
	Comparison(ctx context.Context, req model.ReportRequest) (*Payload, error)
}

// Payload is the decoded result of one reporting call.
type Payload struct {
	Records    []model.Record `json:"List"`
	TotalCount int            `json:"TotalCount"`
}

// StatusError is a non-2xx backend reply. The body is preserved for error
// classification.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reportapi: status %d: %s", e.Status, e.Body)
}

// AsStatusError unwraps a StatusError from an error chain.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// envelope is the backend's uniform reply wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Msg     string          `json:"msg"`
}

// Config holds the client settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Timeout bounds each HTTP call. Default: 30s.
	Timeout time.Duration
	// TokenTTL is the cached token lifetime. Default: 30m.
	TokenTTL time.Duration
	// RatePerSec and RateBurst shape the outbound limiter. Defaults: 5, 10.
	RatePerSec float64
	RateBurst  int
	// BreakerThreshold and BreakerCooldown configure the circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// HTTPClient implements Client against the real backend. Each endpoint,
// token fetch included, runs behind its own circuit breaker so one flapping
// operation cannot shut down the rest.
type HTTPClient struct {
	baseURL  string
	httpc    *http.Client
	tokens   *TokenSource
	limiter  *rate.Limiter
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
}

// Option configures the client.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpc = hc
		c.tokens.httpc = hc
	}
}

// WithRetryConfig overrides the transient-error retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *HTTPClient) {
		c.retry = cfg
	}
}

// New creates a reporting client.
func New(cfg Config, opts ...Option) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	httpc := &http.Client{Timeout: cfg.Timeout}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerThreshold
	}
	if cfg.BreakerCooldown > 0 {
		breakerCfg.ResetTimeout = cfg.BreakerCooldown
	}
	breakerCfg.ShouldTrip = resilience.IsTransient
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("reportapi: circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("reportapi", "call")

	c := &HTTPClient{
		baseURL:  cfg.BaseURL,
		httpc:    httpc,
		tokens:   NewTokenSource(cfg.BaseURL, cfg.Username, cfg.Password, httpc, cfg.TokenTTL),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		breakers: resilience.NewServiceBreakers(breakerCfg),
		retry:    retryCfg,
	}
	c.tokens.breaker = c.breakers.Get("token")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerStates reports the per-endpoint circuit positions for the
// monitoring surface.
func (c *HTTPClient) BreakerStates() map[string]string {
	return c.breakers.States()
}

func (c *HTTPClient) Summary(ctx context.Context, req model.ReportRequest) (*Payload, error) {
	return c.call(ctx, "summary", req)
}

func (c *HTTPClient) Comparison(ctx context.Context, req model.ReportRequest) (*Payload, error) {
	if len(req.ContrastTime) != 2 {
		return nil, eris.New("reportapi: comparison requires a contrast time range")
	}
	return c.call(ctx, "comparison", req)
}

func (c *HTTPClient) call(ctx context.Context, endpoint string, req model.ReportRequest) (*Payload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reportapi: rate limit wait")
	}

	breaker := c.breakers.Get(endpoint)
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Payload, error) {
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*Payload, error) {
			return c.doOnce(ctx, "/report/"+endpoint, req)
		})
	})
}

func (c *HTTPClient) doOnce(ctx context.Context, path string, req model.ReportRequest) (*Payload, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "reportapi: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "reportapi: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "reportapi: POST %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "reportapi: read response")
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Status: resp.StatusCode, Body: string(raw)}
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(se, resp.StatusCode)
		}
		return nil, se
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrapf(err, "reportapi: decode envelope from %s", path)
	}
	if !env.Success {
		return nil, eris.Errorf("reportapi: backend rejected call: %s", env.Msg)
	}

	var payload Payload
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &payload); err != nil {
			return nil, eris.Wrapf(err, "reportapi: decode result from %s", path)
		}
	}
	return &payload, nil
}
