// Package profiles talks to the profile enrichment API. Each configured
// account authenticates with its own bearer token; retries and spacing are
// the caller's concern.
package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
	"leadpipe/internal/services"
)

const (
	serviceName        = "profiles"
	defaultHTTPTimeout = 30 * time.Second
	maxBodyBytes       = 1 << 20
)

// Client performs profile lookups.
type Client struct {
	baseURL    string
	tokens     map[string]string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client from the enrichment config section.
func NewClient(cfg config.Enrichment, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	tokens := make(map[string]string, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		tokens[acct.ID] = acct.Token
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type profileResponse struct {
	FullName   string `json:"full_name"`
	Headline   string `json:"headline"`
	Company    string `json:"company"`
	Title      string `json:"title"`
	Location   string `json:"location"`
	Industry   string `json:"industry"`
	ProfileURL string `json:"profile_url"`
}

// Lookup fetches the profile for subject using accountID's token. Failures
// come back as *services.ExternalError tagged not_found, auth_error,
// rate_limited, provider_unavailable, or timeout.
func (c *Client) Lookup(ctx context.Context, accountID, subject string) (queue.Profile, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return queue.Profile{}, services.Wrap(services.ErrValidation, serviceName, "lookup", "subject required", nil)
	}
	if c.baseURL == "" {
		return queue.Profile{}, services.Wrap(services.ErrConfiguration, serviceName, "lookup", "enrichment.base_url not configured", nil)
	}
	token, ok := c.tokens[accountID]
	if !ok || token == "" {
		return queue.Profile{}, services.Wrap(services.ErrConfiguration, serviceName, "lookup", "no token for account "+accountID, nil)
	}

	endpoint := c.baseURL + "/profiles/" + url.PathEscape(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return queue.Profile{}, fmt.Errorf("profiles request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return queue.Profile{}, services.TransportError(ctx, serviceName, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return queue.Profile{}, services.TransportError(ctx, serviceName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return queue.Profile{}, &services.ExternalError{
			Service:    serviceName,
			Marker:     services.StatusMarker(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       snippet(body),
		}
	}

	var parsed profileResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return queue.Profile{}, &services.ExternalError{
			Service:    serviceName,
			Marker:     services.ErrProviderUnavailable,
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
			Err:        fmt.Errorf("decode profile: %w", err),
		}
	}
	return queue.Profile{
		FullName:   strings.TrimSpace(parsed.FullName),
		Headline:   strings.TrimSpace(parsed.Headline),
		Company:    strings.TrimSpace(parsed.Company),
		Title:      strings.TrimSpace(parsed.Title),
		Location:   strings.TrimSpace(parsed.Location),
		Industry:   strings.TrimSpace(parsed.Industry),
		ProfileURL: strings.TrimSpace(parsed.ProfileURL),
	}, nil
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
