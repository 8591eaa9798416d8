package stage

import (
	"context"

	"leadpipe/internal/config"
	"leadpipe/internal/services/gemini"
	"leadpipe/internal/services/llm"
)

// NewCompleter builds the classifier backend selected by llm.provider.
// Options apply only to the openrouter-compatible client.
func NewCompleter(ctx context.Context, cfg config.LLM, opts ...llm.Option) (Completer, error) {
	if cfg.Provider == "gemini" {
		return gemini.New(ctx, gemini.Config{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			Temperature:       cfg.Temperature,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}
	return llm.NewClient(llm.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Referer:           cfg.Referer,
		Title:             cfg.Title,
		TimeoutSeconds:    cfg.TimeoutSeconds,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Temperature:       cfg.Temperature,
	}, opts...), nil
}
