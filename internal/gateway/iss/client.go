// Package iss fetches market data from the Moscow Exchange Informational &
// Statistical Server.
//
// Every request waits on a shared rate limiter and runs through a circuit
// breaker so that an unhealthy upstream fails fast instead of stalling the
// update cascade. Responses are decoded with numbers kept as text and turned
// into decimal row values.
package iss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/roach88/tablesync/internal/metrics"
)

// DefaultBaseURL is the public ISS endpoint.
const DefaultBaseURL = "https://iss.moex.com/iss"

// Config tunes the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Rate is the sustained request rate per second; Burst the bucket size.
	Rate  float64
	Burst int
	// Breaker opens after MaxFailures consecutive failures and probes again
	// after OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Timeout:     30 * time.Second,
		Rate:        10,
		Burst:       5,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iss api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to ISS.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The configured timeout is not
// applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records requests and breaker transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client. Zero fields of cfg take their defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	maxFailures := cfg.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "iss",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			c.metrics.BreakerState(name, from.String(), to.String())
		},
	})
	c.metrics.BreakerState("iss", gobreaker.StateOpen.String(), gobreaker.StateClosed.String())
	return c
}

// isSuccessfulForBreaker counts only failures that say something about the
// upstream's health. Client errors and our own cancellations do not trip it.
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// get fetches one page of endpoint and decodes it.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, path, query)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.UpstreamRequest(endpoint, "rejected")
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	case err != nil:
		c.metrics.UpstreamRequest(endpoint, "error")
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	c.metrics.UpstreamRequest(endpoint, "ok")

	resp, err := decodeResponse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("iss.meta", "off")
	q.Set("iss.json", "compact")
	fullURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("iss request",
		"path", path,
		"query", q.Encode(),
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
	return body, nil
}

// block is one named table of a compact ISS response.
type block struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

type response map[string]block

func decodeResponse(body []byte) (response, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var resp response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// records returns the rows of block name as column-keyed maps.
func (r response) records(name string) ([]map[string]any, error) {
	b, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("response has no %q block", name)
	}
	out := make([]map[string]any, 0, len(b.Data))
	for i, data := range b.Data {
		if len(data) != len(b.Columns) {
			return nil, fmt.Errorf("%s row %d: %d values for %d columns", name, i, len(data), len(b.Columns))
		}
		rec := make(map[string]any, len(data))
		for j, col := range b.Columns {
			rec[col] = data[j]
		}
		out = append(out, rec)
	}
	return out, nil
}
