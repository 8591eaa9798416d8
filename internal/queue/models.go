package queue

import (
	"strings"
	"time"
)

// Status represents a record's lifecycle state.
type Status string

const (
	StatusQueued                  Status = "queued"
	StatusProcessing              Status = "processing"
	StatusAwaitingStage2          Status = "awaiting_stage2"
	StatusAwaitingStage3          Status = "awaiting_stage3"
	StatusAwaitingEnrichment      Status = "awaiting_enrichment"
	StatusAwaitingMaterialization Status = "awaiting_materialization"
	StatusRetryScheduled          Status = "retry_scheduled"
	StatusStage1Rejected          Status = "stage1_rejected"
	StatusStage2Rejected          Status = "stage2_rejected"
	StatusEnrichmentFailed        Status = "enrichment_failed"
	StatusMaterialized            Status = "materialized"
	StatusDuplicate               Status = "duplicate"
	StatusError                   Status = "error"
	StatusFailedPermanently       Status = "failed_permanently"
)

var statusOrder = []Status{
	StatusQueued,
	StatusProcessing,
	StatusAwaitingStage2,
	StatusAwaitingStage3,
	StatusAwaitingEnrichment,
	StatusAwaitingMaterialization,
	StatusRetryScheduled,
	StatusStage1Rejected,
	StatusStage2Rejected,
	StatusEnrichmentFailed,
	StatusMaterialized,
	StatusDuplicate,
	StatusError,
	StatusFailedPermanently,
}

var terminalStatuses = map[Status]struct{}{
	StatusStage1Rejected:    {},
	StatusStage2Rejected:    {},
	StatusEnrichmentFailed:  {},
	StatusMaterialized:      {},
	StatusDuplicate:         {},
	StatusError:             {},
	StatusFailedPermanently: {},
}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range statusOrder {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no automatic transition leaves the status.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsSuccess reports whether the record produced or linked a lead.
func (s Status) IsSuccess() bool {
	return s == StatusMaterialized || s == StatusDuplicate
}

// Stage names one unit of pipeline work.
type Stage string

const (
	StageIntent      Stage = "intent"
	StageQualify     Stage = "qualify"
	StageCategorize  Stage = "categorize"
	StageEnrich      Stage = "enrich"
	StageMaterialize Stage = "materialize"
)

var stageOrder = []Stage{StageIntent, StageQualify, StageCategorize, StageEnrich, StageMaterialize}

var waitingStatus = map[Stage]Status{
	StageIntent:      StatusQueued,
	StageQualify:     StatusAwaitingStage2,
	StageCategorize:  StatusAwaitingStage3,
	StageEnrich:      StatusAwaitingEnrichment,
	StageMaterialize: StatusAwaitingMaterialization,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage converts a string into a known stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	_, ok := waitingStatus[normalized]
	return normalized, ok
}

// WaitingStatus is the status a record holds while queued for the stage.
func (s Stage) WaitingStatus() Status {
	return waitingStatus[s]
}

// Index returns the zero-based position of the stage, or -1.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the stage after s.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[idx+1], true
}

// StageForWaiting maps a waiting status back to its stage.
func StageForWaiting(status Status) (Stage, bool) {
	for stage, waiting := range waitingStatus {
		if waiting == status {
			return stage, true
		}
	}
	return "", false
}

func waitingStatuses() []Status {
	out := make([]Status, 0, len(stageOrder))
	for _, stage := range stageOrder {
		out = append(out, waitingStatus[stage])
	}
	return out
}

// Payload is the raw social post captured by the scraper.
type Payload struct {
	Text             string            `json:"text"`
	AuthorName       string            `json:"author_name,omitempty"`
	AuthorProfileID  string            `json:"author_profile_id"`
	AuthorProfileURL string            `json:"author_profile_url,omitempty"`
	AuthorHeadline   string            `json:"author_headline,omitempty"`
	PostURL          string            `json:"post_url,omitempty"`
	PostedAt         *time.Time        `json:"posted_at,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// SubjectKey returns the identity used to deduplicate leads.
func (p Payload) SubjectKey() string {
	return strings.ToLower(strings.TrimSpace(p.AuthorProfileID))
}

// NewRecord describes a record to insert.
type NewRecord struct {
	NaturalKey string
	BatchID    string
	Payload    Payload
	Priority   int
}

// Record is one post moving through the pipeline.
type Record struct {
	ID            int64
	NaturalKey    string
	BatchID       string
	SubjectKey    string
	Payload       Payload
	Status        Status
	Stage         Stage
	Results       StageResults
	Priority      int
	RetryCount    int
	LastRetryAt   *time.Time
	NextAttemptAt *time.Time
	ClaimedAt     *time.Time
	ClaimToken    string // set by each claim; guards writes out of processing
	Reason        string
	LeadID        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActivityAt is the moment the post was published, or ingestion time when unknown.
func (r *Record) ActivityAt() time.Time {
	if r.Payload.PostedAt != nil && !r.Payload.PostedAt.IsZero() {
		return r.Payload.PostedAt.UTC()
	}
	return r.CreatedAt
}

// Clone returns a deep copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Results = r.Results.Clone()
	if r.Payload.Attributes != nil {
		c.Payload.Attributes = make(map[string]string, len(r.Payload.Attributes))
		for k, v := range r.Payload.Attributes {
			c.Payload.Attributes[k] = v
		}
	}
	return &c
}

// Lead is the deduplicated prospect created from qualifying records.
type Lead struct {
	ID               string
	SubjectKey       string
	FullName         string
	Headline         string
	Company          string
	Title            string
	Location         string
	ProfileURL       string
	Category         string
	Roles            []string
	OriginRecordID   int64
	LatestRecordID   int64
	LatestActivityAt time.Time
	LatestPostURL    string
	RecordCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Credential is the bookkeeping row for one enrichment account.
type Credential struct {
	AccountID          string
	DailyLimit         int
	DailyUsageCount    int
	UsageDate          string
	LastCallAt         *time.Time
	CurrentOperationID string
	OperationStartedAt *time.Time
	TotalCalls         int64
}

// Busy reports whether an operation currently holds the credential.
func (c Credential) Busy() bool {
	return c.CurrentOperationID != ""
}

// CredentialSpec seeds or updates a credential row.
type CredentialSpec struct {
	AccountID  string
	DailyLimit int
}

// UsageDay formats the quota day for a timestamp.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IngestBatch summarizes one ingestion run.
type IngestBatch struct {
	ID          string
	Source      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Received    int
	Inserted    int
	Duplicates  int
	Dropped     int
}
