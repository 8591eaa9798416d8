package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable means no daemon API is configured or reachable.
var ErrUnavailable = errors.New("daemon API unavailable")

// ErrNotFound is returned when the daemon reports a missing record or lead.
var ErrNotFound = errors.New("not found")

// Client reads reports from a running daemon's HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind, a host:port or URL. An empty bind
// yields ErrUnavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api bind %q: %w", bind, err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Status fetches daemon status. It doubles as a reachability probe.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.get(ctx, "/api/status", nil, &out)
	return out, err
}

// Stats fetches record counts per status.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var out StatsResponse
	if err := c.get(ctx, "/api/stats", nil, &out); err != nil {
		return nil, err
	}
	return out.Counts, nil
}

// Stages fetches per-stage status counts.
func (c *Client) Stages(ctx context.Context) ([]StageCount, error) {
	var out StageCountsResponse
	if err := c.get(ctx, "/api/stages", nil, &out); err != nil {
		return nil, err
	}
	return out.Stages, nil
}

// Stuck fetches records idle for longer than hours.
func (c *Client) Stuck(ctx context.Context, hours, limit int) ([]Record, error) {
	values := url.Values{}
	values.Set("hours", strconv.Itoa(hours))
	setLimit(values, limit)
	var out RecordListResponse
	if err := c.get(ctx, "/api/stuck", values, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Credentials fetches per-account usage.
func (c *Client) Credentials(ctx context.Context) ([]Credential, error) {
	var out CredentialListResponse
	if err := c.get(ctx, "/api/credentials", nil, &out); err != nil {
		return nil, err
	}
	return out.Credentials, nil
}

// Reasons fetches terminal reason counts.
func (c *Client) Reasons(ctx context.Context, limit int) ([]ReasonCount, error) {
	values := url.Values{}
	setLimit(values, limit)
	var out ReasonCountsResponse
	if err := c.get(ctx, "/api/reasons", values, &out); err != nil {
		return nil, err
	}
	return out.Reasons, nil
}

// List fetches records matching query.
func (c *Client) List(ctx context.Context, query RecordQuery) ([]Record, error) {
	values := url.Values{}
	for _, status := range query.Statuses {
		values.Add("status", status)
	}
	if query.BatchID != "" {
		values.Set("batch", query.BatchID)
	}
	if query.Subject != "" {
		values.Set("subject", query.Subject)
	}
	setLimit(values, query.Limit)
	var out RecordListResponse
	if err := c.get(ctx, "/api/records", values, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Describe fetches one record, or nil when the daemon reports it missing.
func (c *Client) Describe(ctx context.Context, id int64) (*Record, error) {
	var out RecordResponse
	err := c.get(ctx, "/api/records/"+strconv.FormatInt(id, 10), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out.Record, nil
}

// Leads fetches leads, optionally filtered by category.
func (c *Client) Leads(ctx context.Context, category string, limit int) ([]Lead, error) {
	values := url.Values{}
	if category != "" {
		values.Set("category", category)
	}
	setLimit(values, limit)
	var out LeadListResponse
	if err := c.get(ctx, "/api/leads", values, &out); err != nil {
		return nil, err
	}
	return out.Leads, nil
}

// Lead fetches one lead, or nil.
func (c *Client) Lead(ctx context.Context, id string) (*Lead, error) {
	var out LeadResponse
	err := c.get(ctx, "/api/leads/"+url.PathEscape(id), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out.Lead, nil
}

// Batches fetches recent ingestion batches.
func (c *Client) Batches(ctx context.Context, limit int) ([]Batch, error) {
	values := url.Values{}
	setLimit(values, limit)
	var out BatchListResponse
	if err := c.get(ctx, "/api/batches", values, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

func setLimit(values url.Values, limit int) {
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
}

func (c *Client) get(ctx context.Context, path string, values url.Values, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: values.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api %s returned status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("api %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
