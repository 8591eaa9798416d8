package stage

import (
	"context"
	"log/slog"
	"strings"

	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

// IntentClassifier is stage 1: does the post announce hiring intent?
type IntentClassifier struct {
	completer Completer
	logger    *slog.Logger
}

// NewIntentClassifier constructs the stage 1 handler.
func NewIntentClassifier(completer Completer, logger *slog.Logger) *IntentClassifier {
	return &IntentClassifier{completer: completer, logger: logging.NewComponentLogger(logger, "stage.intent")}
}

func (c *IntentClassifier) Stage() queue.Stage { return queue.StageIntent }

func (c *IntentClassifier) Check(rec *queue.Record) error {
	if strings.TrimSpace(rec.Payload.Text) == "" {
		return precondition("post text is empty")
	}
	return nil
}

type intentResponse struct {
	HiringIntent *bool   `json:"hiring_intent"`
	Verdict      string  `json:"verdict"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

func (c *IntentClassifier) Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error) {
	var resp intentResponse
	parsed, err := classify(ctx, c.completer, c.logger, string(queue.StageIntent), intentSystemPrompt, postPrompt(rec), &resp)
	if err != nil {
		return nil, err
	}

	hiring, known := false, false
	switch {
	case !parsed:
	case resp.HiringIntent != nil:
		hiring, known = *resp.HiringIntent, true
	default:
		hiring, known = normalizeVerdict(resp.Verdict)
	}
	if !known {
		positive, reason := fallbackIntent(rec.Payload.Text)
		return queue.IntentResult{Verdict: verdictOf(positive), Reason: reason, Fallback: true}, nil
	}
	return queue.IntentResult{
		Verdict:    verdictOf(hiring),
		Confidence: resp.Confidence,
		Reason:     strings.TrimSpace(resp.Reason),
	}, nil
}

func (c *IntentClassifier) HealthCheck(ctx context.Context) Health {
	return completerHealth(ctx, string(queue.StageIntent), c.completer)
}

func verdictOf(positive bool) queue.Verdict {
	if positive {
		return queue.VerdictPositive
	}
	return queue.VerdictNegative
}
