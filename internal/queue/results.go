package queue

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Verdict is a binary classifier outcome.
type Verdict string

const (
	VerdictPositive Verdict = "positive"
	VerdictNegative Verdict = "negative"
)

// StageResult is the typed output of one stage. The set of implementations is
// closed: IntentResult, QualificationResult, CategoryResult, EnrichmentResult,
// MaterializationResult.
type StageResult interface {
	Stage() Stage
	stageResult()
}

// IntentResult is the stage 1 hiring-intent verdict.
type IntentResult struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// QualificationResult is the stage 2 verdict with language and country.
type QualificationResult struct {
	Verdict  Verdict `json:"verdict"`
	Language string  `json:"language,omitempty"`
	Country  string  `json:"country,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Fallback bool    `json:"fallback,omitempty"`
}

// CategoryResult is the stage 3 category and selected roles.
type CategoryResult struct {
	Category string   `json:"category"`
	Roles    []string `json:"roles,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Profile is the enriched author profile.
type Profile struct {
	FullName   string `json:"full_name,omitempty"`
	Headline   string `json:"headline,omitempty"`
	Company    string `json:"company,omitempty"`
	Title      string `json:"title,omitempty"`
	Location   string `json:"location,omitempty"`
	Industry   string `json:"industry,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// EnrichmentResult is the stage 4 profile lookup. ReusedFrom is set when an
// earlier record's enrichment for the same subject was reused; EnrichedAt then
// keeps the original lookup time.
type EnrichmentResult struct {
	Profile    Profile   `json:"profile"`
	AccountID  string    `json:"account_id,omitempty"`
	ReusedFrom int64     `json:"reused_from,omitempty"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// MaterializationResult links the record to its lead.
type MaterializationResult struct {
	LeadID    string `json:"lead_id"`
	Duplicate bool   `json:"duplicate"`
}

func (IntentResult) Stage() Stage          { return StageIntent }
func (QualificationResult) Stage() Stage   { return StageQualify }
func (CategoryResult) Stage() Stage        { return StageCategorize }
func (EnrichmentResult) Stage() Stage      { return StageEnrich }
func (MaterializationResult) Stage() Stage { return StageMaterialize }

func (IntentResult) stageResult()          {}
func (QualificationResult) stageResult()   {}
func (CategoryResult) stageResult()        {}
func (EnrichmentResult) stageResult()      {}
func (MaterializationResult) stageResult() {}

// StageResults holds at most one result per stage.
type StageResults struct {
	Intent          *IntentResult          `json:"intent,omitempty"`
	Qualification   *QualificationResult   `json:"qualification,omitempty"`
	Category        *CategoryResult        `json:"category,omitempty"`
	Enrichment      *EnrichmentResult      `json:"enrichment,omitempty"`
	Materialization *MaterializationResult `json:"materialization,omitempty"`
}

// Add records a stage result. A stage that already succeeded is never
// overwritten; use Reset for explicit re-processing.
func (r *StageResults) Add(result StageResult) error {
	if result == nil {
		return fmt.Errorf("add stage result: nil result")
	}
	if r.Get(result.Stage()) != nil {
		return fmt.Errorf("%w: %s", ErrResultRecorded, result.Stage())
	}
	switch v := result.(type) {
	case IntentResult:
		r.Intent = &v
	case *IntentResult:
		r.Intent = v
	case QualificationResult:
		r.Qualification = &v
	case *QualificationResult:
		r.Qualification = v
	case CategoryResult:
		r.Category = &v
	case *CategoryResult:
		r.Category = v
	case EnrichmentResult:
		r.Enrichment = &v
	case *EnrichmentResult:
		r.Enrichment = v
	case MaterializationResult:
		r.Materialization = &v
	case *MaterializationResult:
		r.Materialization = v
	default:
		return fmt.Errorf("add stage result: unsupported type %T", result)
	}
	return nil
}

// Get returns the recorded result for a stage, or nil.
func (r StageResults) Get(stage Stage) StageResult {
	switch stage {
	case StageIntent:
		if r.Intent != nil {
			return *r.Intent
		}
	case StageQualify:
		if r.Qualification != nil {
			return *r.Qualification
		}
	case StageCategorize:
		if r.Category != nil {
			return *r.Category
		}
	case StageEnrich:
		if r.Enrichment != nil {
			return *r.Enrichment
		}
	case StageMaterialize:
		if r.Materialization != nil {
			return *r.Materialization
		}
	}
	return nil
}

// Completed lists the stages with a recorded result, in pipeline order.
func (r StageResults) Completed() []Stage {
	var out []Stage
	for _, stage := range stageOrder {
		if r.Get(stage) != nil {
			out = append(out, stage)
		}
	}
	return out
}

// Reset clears every result.
func (r *StageResults) Reset() {
	*r = StageResults{}
}

// Clone returns a deep copy.
func (r StageResults) Clone() StageResults {
	var c StageResults
	if r.Intent != nil {
		v := *r.Intent
		c.Intent = &v
	}
	if r.Qualification != nil {
		v := *r.Qualification
		c.Qualification = &v
	}
	if r.Category != nil {
		v := *r.Category
		v.Roles = slices.Clone(r.Category.Roles)
		c.Category = &v
	}
	if r.Enrichment != nil {
		v := *r.Enrichment
		c.Enrichment = &v
	}
	if r.Materialization != nil {
		v := *r.Materialization
		c.Materialization = &v
	}
	return c
}

func encodeResults(r StageResults) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode stage results: %w", err)
	}
	return string(data), nil
}

func decodeResults(raw string) (StageResults, error) {
	var r StageResults
	if raw == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("decode stage results: %w", err)
	}
	return r, nil
}
