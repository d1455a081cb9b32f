// Package client provides the rate-limited HTTP transport shared by all
// upstream sources: every attempt waits on the shared limiter, transient
// failures are retried with backoff, and failures surface as *SourceError.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/arxiv-harvester/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds a single response body. Listing pages with show=2000 are
// a few MB at most.
const maxBodyBytes = 64 << 20

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_upstream_requests_total",
		Help: "Total upstream requests by source and status",
	}, []string{"source", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by source, excluding rate limit waits",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_upstream_errors_total",
		Help: "Total upstream errors by source and class",
	}, []string{"source", "class"})
)

// Client issues GET requests against one upstream.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Source names the upstream in metrics, logs and SourceError values.
	Source string

	// UserAgent is sent with every request. arXiv asks API users to identify themselves.
	UserAgent string

	// Limiter gates every attempt, retries included. Share one instance between
	// all clients that talk to the same upstream.
	Limiter ratelimit.Limiter

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxRetries overrides the per-class attempt budget when positive.
	MaxRetries int

	// Retry, when set, replaces the per-class retry schedule entirely.
	Retry *RetryConfig

	// Logger receives request-level logs.
	Logger zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(source, userAgent string, limiter ratelimit.Limiter) Config {
	return Config{
		Source:     source,
		UserAgent:  userAgent,
		Limiter:    limiter,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		Logger:     zerolog.Nop(),
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    cfg.Limiter,
		config:     cfg,
		logger:     cfg.Logger.With().Str("component", "upstream-client").Str("source", cfg.Source).Logger(),
	}, nil
}

// Source returns the upstream name.
func (c *Client) Source() string {
	return c.config.Source
}

// Get fetches rawURL and returns the response body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	err := retryWithBackoff(ctx, c.logger, c.config.Source, c.retryConfig, func() (ErrorClass, time.Duration, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		b, retryAfter, err := c.do(ctx, rawURL)
		if err != nil {
			class := ClassOf(err)
			errorsTotal.WithLabelValues(c.config.Source, string(class)).Inc()
			return class, retryAfter, err
		}
		body = b
		return "", 0, nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, &SourceError{Source: c.config.Source, Class: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().Str("url", rawURL).Msg("Executing upstream request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(c.config.Source).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(c.config.Source, "network_error").Inc()
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		c.logger.Error().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		return nil, 0, &SourceError{Source: c.config.Source, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(c.config.Source, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		class := classifyStatus(resp.StatusCode)
		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		return nil, parseRetryAfter(resp.Header, time.Now()), &SourceError{
			Source:     c.config.Source,
			Class:      class,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, &SourceError{Source: c.config.Source, Class: ErrorClassNetwork, StatusCode: resp.StatusCode, Message: "read body", Err: err}
	}

	return body, 0, nil
}

func (c *Client) retryConfig(class ErrorClass) RetryConfig {
	if c.config.Retry != nil {
		return *c.config.Retry
	}
	cfg := RetryConfigForErrorClass(class)
	if c.config.MaxRetries > 0 {
		cfg.MaxAttempts = c.config.MaxRetries
	}
	return cfg
}

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
