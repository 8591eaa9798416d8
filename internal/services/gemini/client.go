// Package gemini adapts the Google Gemini API to the JSON completion contract
// used by the classification stages.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"leadpipe/internal/services"
)

const serviceName = "gemini"

// Config holds the Gemini connection settings.
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	RequestsPerSecond float64
}

// Client issues JSON-mode generate calls against a single model.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
}

// New constructs a Gemini client. An API key and model are required.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "api key is required (set llm.api_key or GEMINI_API_KEY)", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "model is required", nil)
	}
	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions.BaseURL = base
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: float32(cfg.Temperature),
		limiter:     rate.NewLimiter(limit, 1),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// CompleteJSON sends the prompts as a system instruction plus user turn and
// returns the model's JSON text.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" || strings.TrimSpace(userPrompt) == "" {
		return "", services.Wrap(services.ErrValidation, serviceName, "complete", "system and user prompts required", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(c.temperature),
		CandidateCount:    1,
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", classifyErr(ctx, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &services.ExternalError{Service: serviceName, Marker: services.ErrParse, Body: "empty response text"}
	}
	return text, nil
}

// HealthCheck verifies the key and model with a trivial request.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.CompleteJSON(ctx, "You must respond with JSON only.", `Respond with {"ok":true}`)
	return err
}

func classifyErr(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &services.ExternalError{
			Service:    serviceName,
			Marker:     services.StatusMarker(apiErr.Code),
			StatusCode: apiErr.Code,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	return services.TransportError(ctx, serviceName, err)
}

// StatusText is used by preflight output.
func StatusText(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%d %s", apiErr.Code, http.StatusText(apiErr.Code))
	}
	return services.Kind(err)
}
