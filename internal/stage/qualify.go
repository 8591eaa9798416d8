package stage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"leadpipe/internal/config"
	"leadpipe/internal/language"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
)

// Qualifier is stage 2: is the post in a targeted language and country?
// The classifier only extracts language and country; the verdict is decided
// here against the configured targets.
type Qualifier struct {
	completer Completer
	languages []string
	countries []string
	logger    *slog.Logger
}

// NewQualifier constructs the stage 2 handler. Empty target lists accept any
// value.
func NewQualifier(completer Completer, targets config.Classification, logger *slog.Logger) *Qualifier {
	return &Qualifier{
		completer: completer,
		languages: targets.Languages,
		countries: targets.Countries,
		logger:    logging.NewComponentLogger(logger, "stage.qualify"),
	}
}

func (q *Qualifier) Stage() queue.Stage { return queue.StageQualify }

func (q *Qualifier) Check(rec *queue.Record) error {
	intent := rec.Results.Intent
	if intent == nil {
		return precondition("intent result missing")
	}
	if intent.Verdict != queue.VerdictPositive {
		return precondition("intent verdict is %s", intent.Verdict)
	}
	return nil
}

type qualifyResponse struct {
	Language string `json:"language"`
	Country  string `json:"country"`
	Reason   string `json:"reason"`
}

func (q *Qualifier) Run(ctx context.Context, rec *queue.Record) (queue.StageResult, error) {
	var resp qualifyResponse
	parsed, err := classify(ctx, q.completer, q.logger, string(queue.StageQualify), qualifySystemPrompt, postPrompt(rec), &resp)
	if err != nil {
		return nil, err
	}

	p := rec.Payload
	result := queue.QualificationResult{Fallback: !parsed}
	if parsed {
		result.Language = normalizeLanguage(resp.Language)
		result.Country = strings.ToUpper(strings.TrimSpace(resp.Country))
		result.Reason = strings.TrimSpace(resp.Reason)
	} else {
		result.Language = fallbackLanguage(p.Text)
		result.Country = fallbackCountry(p.Attributes["location"], p.AuthorHeadline, p.Text)
		result.Reason = "keyword fallback"
	}
	if result.Country == "" {
		result.Country = strings.ToUpper(strings.TrimSpace(p.Attributes["country"]))
	}

	positive, why := q.judge(result.Language, result.Country)
	result.Verdict = verdictOf(positive)
	if !positive {
		result.Reason = why
	}
	return result, nil
}

// normalizeLanguage maps a classifier label like "English" or "eng" to its
// ISO 639-1 code, keeping unrecognized labels lowercased.
func normalizeLanguage(label string) string {
	if code := language.ToISO2(label); code != "" {
		return code
	}
	return strings.ToLower(strings.TrimSpace(label))
}

func (q *Qualifier) judge(lang, country string) (bool, string) {
	if len(q.languages) > 0 && !slices.Contains(q.languages, lang) {
		if lang == "" {
			return false, "language not detected"
		}
		return false, fmt.Sprintf("language %s not targeted", lang)
	}
	if len(q.countries) > 0 && !slices.Contains(q.countries, country) {
		if country == "" {
			return false, "country not detected"
		}
		return false, fmt.Sprintf("country %s not targeted", country)
	}
	return true, ""
}

func (q *Qualifier) HealthCheck(ctx context.Context) Health {
	return completerHealth(ctx, string(queue.StageQualify), q.completer)
}
