package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"leadpipe/internal/logging"
	"leadpipe/internal/services"
	"leadpipe/internal/services/llm"
)

// Completer issues a JSON-only completion. llm.Client and gemini.Client
// implement it.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// HealthChecker is implemented by completers that can verify their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// classify asks the completer for a JSON object and decodes it into target.
// It reports parsed=false when the output could not be decoded; every other
// failure is returned as an error.
func classify(ctx context.Context, c Completer, logger *slog.Logger, stage, system, user string, target any) (bool, error) {
	content, err := c.CompleteJSON(ctx, system, user)
	if err != nil {
		if errors.Is(err, services.ErrParse) {
			logParseFallback(ctx, logger, stage, err)
			return false, nil
		}
		return false, err
	}
	if err := llm.DecodeLLMJSON(content, target); err != nil {
		logParseFallback(ctx, logger, stage, err)
		return false, nil
	}
	return true, nil
}

func logParseFallback(ctx context.Context, logger *slog.Logger, stage string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, logger), "classifier output unparseable; using keyword fallback",
		"classifier_fallback",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the model honours JSON response format"),
		logging.String(logging.FieldImpact, stage+" verdict taken from keyword heuristics"),
	)
}

func completerHealth(ctx context.Context, name string, c Completer) Health {
	if c == nil {
		return Unhealthy(name, "classifier not configured")
	}
	if hc, ok := c.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return Unhealthy(name, fmt.Sprintf("classifier: %v", err))
		}
	}
	return Healthy(name)
}

func normalizeVerdict(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "positive", "yes", "true":
		return true, true
	case "negative", "no", "false":
		return false, true
	}
	return false, false
}
