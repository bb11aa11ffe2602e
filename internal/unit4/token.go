package unit4

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenRefreshWindow is how long before expiry a cached token is replaced.
const tokenRefreshWindow = 60 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// tokenCache holds one bearer token. The mutex stays locked across the token
// request so concurrent callers wait for, and then reuse, a single fetch.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	requests  int
}

func (c *Client) accessToken(ctx context.Context, force bool) (string, error) {
	c.tokens.mu.Lock()
	defer c.tokens.mu.Unlock()

	now := c.now()
	if !force && c.tokens.token != "" && now.Add(tokenRefreshWindow).Before(c.tokens.expiresAt) {
		return c.tokens.token, nil
	}
	token, err := c.requestToken(ctx)
	c.tokens.requests++
	if err != nil {
		c.tokens.token = ""
		c.tokens.expiresAt = time.Time{}
		return "", err
	}
	c.tokens.token = token.AccessToken
	c.tokens.expiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.tokens.token, nil
}

func (c *Client) requestToken(ctx context.Context) (tokenResponse, error) {
	if err := c.cfg.validateOAuth(); err != nil {
		return tokenResponse{}, err
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, &ConfigurationError{Setting: "token url"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return tokenResponse{}, ctx.Err()
		}
		return tokenResponse{}, &AuthenticationError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, &AuthenticationError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, &AuthenticationError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return tokenResponse{}, &AuthenticationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token: %w", err)}
	}
	if token.AccessToken == "" {
		return tokenResponse{}, &AuthenticationError{StatusCode: resp.StatusCode, Body: "access_token missing"}
	}
	return token, nil
}
