package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/tickstream/internal/version"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://api.polygon.io"

// RetryPolicy controls how failed requests are retried. Only 5xx and 429
// responses are retried.
type RetryPolicy struct {
	MaxRetries      int           // Retries after the first attempt (0 = none)
	InitialInterval time.Duration // Wait before the first retry
	MaxInterval     time.Duration // Upper bound on a single wait
	Multiplier      float64       // Growth factor between waits
	Jitter          float64       // Randomization factor in [0, 1)
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// backOff builds a fresh exponential schedule for one request.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = p.Jitter
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Client provides access to the snapshot REST API.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	retry      RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		userAgent:  "tickstream/" + version.Version,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets the retry count and the first retry interval, keeping
// the rest of the current policy.
func WithRetries(max int, initial time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.MaxRetries = max
		c.retry.InitialInterval = initial
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
