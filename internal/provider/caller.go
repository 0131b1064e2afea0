package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"payout/internal/domain"
	"payout/internal/metrics"
)

const maxResponseBody = 1 << 20

// Caller sends requests to one provider API under a per-call timeout and
// an optional rate limit, and records their latency.
type Caller struct {
	provider   domain.Provider
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type CallerConfig struct {
	Provider   domain.Provider
	HTTPClient *http.Client
	Timeout    time.Duration
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewCaller(cfg CallerConfig) *Caller {
	c := &Caller{
		provider:   cfg.Provider,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultClientTimeout
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(WithClientTimeout(c.timeout))
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do executes build's request. Any failure to obtain a response, including
// a timeout, is returned wrapped in domain.ErrTransport.
func (c *Caller) Do(ctx context.Context, endpoint string, build func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrTransport, err)
		}
	}

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveProviderCall(string(c.provider), endpoint, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	elapsed := time.Since(start)
	c.metrics.ObserveProviderCall(string(c.provider), endpoint, strconv.Itoa(resp.StatusCode), elapsed.Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", domain.ErrTransport, endpoint, err)
	}

	c.logger.Debug("provider call",
		zap.String("provider", string(c.provider)),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Rejection converts a non-success response into a *domain.ProviderError.
func (c *Caller) Rejection(resp *Response) error {
	return &domain.ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(resp.Body)}
}
