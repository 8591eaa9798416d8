package stage

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

const maxRoles = 5

// Categorizer is stage 3: assigns one configured category and the roles the
// post hires for.
type Categorizer struct {
	completer  Completer
	categories []string
	prompt     string
	logger     *slog.Logger
}

// NewCategorizer constructs the stage 3 handler.
func NewCategorizer(completer Completer, targets config.Classification, logger *slog.Logger) *Categorizer {
	return &Categorizer{
		completer:  completer,
		categories: targets.Categories,
		prompt:     categorizePrompt(targets.Categories),
		logger:     logging.NewComponentLogger(logger, "stage.categorize"),
	}
}

func (c *Categorizer) Stage() queue.Stage { return queue.StageCategorize }

func (c *Categorizer) Check(rec *queue.Record) error {
	qual := rec.Results.Qualification
	if qual == nil {
		return precondition("qualification result missing")
	}
	if qual.Verdict != queue.VerdictPositive {
		return precondition("qualification verdict is %s", qual.Verdict)
	}
	return nil
}

type categorizeResponse struct {
	Category string   `json:"category"`
	Roles    []string `json:"roles"`
	Reason   string   `json:"reason"`
}

func (c *Categorizer) Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error) {
	var resp categorizeResponse
	parsed, err := classify(ctx, c.completer, c.logger, string(queue.StageCategorize), c.prompt, postPrompt(rec), &resp)
	if err != nil {
		return nil, err
	}

	result := queue.CategoryResult{Fallback: !parsed}
	if parsed {
		result.Category = c.match(resp.Category)
		result.Roles = cleanRoles(resp.Roles)
		result.Reason = strings.TrimSpace(resp.Reason)
	}
	if result.Category == "" {
		result.Category = fallbackCategory(rec.Payload.Text+" "+rec.Payload.AuthorHeadline, c.categories)
		result.Fallback = true
	}
	if result.Category == "" {
		result.Category = c.other()
	}
	return result, nil
}

// match maps a classifier category onto the configured spelling.
func (c *Categorizer) match(value string) string {
	value = strings.TrimSpace(value)
	for _, category := range c.categories {
		if strings.EqualFold(category, value) {
			return category
		}
	}
	return ""
}

func (c *Categorizer) other() string {
	if other := c.match("Other"); other != "" {
		return other
	}
	if len(c.categories) == 0 {
		return "Other"
	}
	return c.categories[len(c.categories)-1]
}

func cleanRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.Join(strings.Fields(role), " ")
		if role == "" || slices.ContainsFunc(out, func(r string) bool { return strings.EqualFold(r, role) }) {
			continue
		}
		out = append(out, role)
		if len(out) == maxRoles {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Categorizer) HealthCheck(ctx context.Context) Health {
	return completerHealth(ctx, string(queue.StageCategorize), c.completer)
}
