package unit4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig collects the API and OAuth settings.
type ClientConfig struct {
	BaseURL      string
	BatchPath    string
	Tenant       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
	RateLimit    float64
	RateBurst    int
	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

func (c ClientConfig) validateOAuth() error {
	switch {
	case strings.TrimSpace(c.TokenURL) == "":
		return &ConfigurationError{Setting: "token url"}
	case strings.TrimSpace(c.ClientID) == "":
		return &ConfigurationError{Setting: "client id"}
	case strings.TrimSpace(c.ClientSecret) == "":
		return &ConfigurationError{Setting: "client secret"}
	}
	return nil
}

// Client posts transaction batches to Unit4.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     tokenCache
	logger     *slog.Logger
	clock      func() time.Time
}

// NewClient constructs a client. Missing settings surface as ConfigurationError on first use.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BatchPath == "" {
		cfg.BatchPath = "/v1/transaction-batch"
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (c *Client) WithClock(clock func() time.Time) {
	if c != nil && clock != nil {
		c.clock = clock
	}
}

// PostBatch submits a batch. HTTP error statuses come back as an Error response, not as an error.
func (c *Client) PostBatch(ctx context.Context, batch *BatchRequest) (BatchResponse, error) {
	if c == nil {
		return BatchResponse{}, &ConfigurationError{Setting: "client"}
	}
	endpoint, err := c.batchURL()
	if err != nil {
		return BatchResponse{}, err
	}
	token, err := c.accessToken(ctx, false)
	if err != nil {
		return BatchResponse{}, err
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("unit4: encode batch: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return BatchResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return BatchResponse{}, fmt.Errorf("unit4: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return BatchResponse{}, ctx.Err()
		}
		return BatchResponse{}, fmt.Errorf("unit4: post batch: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("unit4: read response: %w", err)
	}
	c.log().Debug("unit4 batch posted",
		slog.String("batch_id", batch.BatchInformation.BatchID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", c.now().Sub(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BatchResponse{
			Status:  BatchStatusError,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Errors:  []string{string(raw)},
		}, nil
	}
	var out BatchResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return BatchResponse{
				Status:  BatchStatusError,
				Message: "unreadable response",
				Errors:  []string{string(raw)},
			}, nil
		}
	}
	if out.Status == "" {
		out.Status = BatchStatusSuccess
	}
	return out, nil
}

// TestConnection reports whether a token can be obtained with the current settings.
func (c *Client) TestConnection(ctx context.Context) bool {
	if c == nil {
		return false
	}
	if _, err := c.accessToken(ctx, true); err != nil {
		c.log().Warn("unit4 connection test failed", slog.Any("error", err))
		return false
	}
	return true
}

func (c *Client) batchURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		return "", &ConfigurationError{Setting: "base url"}
	}
	path := c.cfg.BatchPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(base + path)
	if err != nil {
		return "", &ConfigurationError{Setting: "base url"}
	}
	if c.cfg.Tenant != "" {
		q := u.Query()
		q.Set("tenant", c.cfg.Tenant)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "unit4"))
	}
	return slog.Default().With(slog.String("component", "unit4"))
}

func (c *Client) now() time.Time {
	if c != nil && c.clock != nil {
		return c.clock()
	}
	return time.Now().UTC()
}
