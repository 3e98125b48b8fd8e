package airthings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/joshp123/airbridge/internal/oauth"
	"github.com/joshp123/airbridge/internal/rate"
)

const (
	requestTimeout = 10 * time.Second
)

// TokenSource supplies bearer tokens and drops them when the API rejects one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the Airthings consumer REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient builds a client with its own client-credentials token manager.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	manager, err := oauth.NewManager(OAuthDeclaration(cfg), cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	return NewClientWithTokens(cfg, manager, nil), nil
}

// NewClientWithTokens builds a client around an existing token source. A nil
// httpClient gets a fresh one; either way the transport is rate-guarded.
func NewClientWithTokens(cfg Config, tokens TokenSource, httpClient *http.Client) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		tokens:     tokens,
		httpClient: rate.WrapHTTP(RateLimits(), httpClient),
		timeout:    requestTimeout,
	}
}

// Devices lists every device on the account. A missing or empty devices field
// yields an empty slice.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := c.getJSON(ctx, []string{"devices"}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Devices) == 0 {
		return []Device{}, nil
	}
	return resp.Devices, nil
}

// LatestSample returns the numeric fields of the device's latest sample.
func (c *Client) LatestSample(ctx context.Context, deviceID string) (Sample, error) {
	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, []string{"devices", url.PathEscape(deviceID), "latest-samples"}, &resp); err != nil {
		return nil, err
	}
	return normalizeSample(resp.Data), nil
}

func (c *Client) getJSON(ctx context.Context, path []string, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path...)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}

	payload, err := c.get(ctx, endpoint)
	var unauthorized unauthorizedError
	if errors.As(err, &unauthorized) {
		c.tokens.Invalidate()
		payload, err = c.get(ctx, endpoint)
		if errors.As(err, &unauthorized) {
			return oauth.AuthError{Provider: Provider, Status: http.StatusUnauthorized, Body: unauthorized.body}
		}
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w: %v", endpoint, ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	accessToken, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, unauthorizedError{body: string(payload)}
	case resp.StatusCode == http.StatusForbidden:
		return nil, ForbiddenError{Endpoint: endpoint, Body: string(payload)}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAt, _ := rate.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, rate.RateLimitError{Provider: Provider, Reason: "429 too many requests", RetryAt: retryAt}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, HTTPStatusError{Status: resp.StatusCode, Body: string(payload)}
	}

	return payload, nil
}

func classifyTransportError(endpoint string, err error) error {
	var rateErr rate.RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError{Endpoint: endpoint, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError{Endpoint: endpoint, Err: err}
	}
	return NetworkError{Endpoint: endpoint, Err: err}
}
