package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Record describes a pipeline record in a transport-friendly format.
type Record struct {
	ID            int64           `json:"id"`
	NaturalKey    string          `json:"naturalKey"`
	BatchID       string          `json:"batchId,omitempty"`
	SubjectKey    string          `json:"subjectKey"`
	AuthorName    string          `json:"authorName,omitempty"`
	PostURL       string          `json:"postUrl,omitempty"`
	Status        string          `json:"status"`
	Stage         string          `json:"stage"`
	Priority      int             `json:"priority"`
	RetryCount    int             `json:"retryCount"`
	LastRetryAt   string          `json:"lastRetryAt,omitempty"`
	NextAttemptAt string          `json:"nextAttemptAt,omitempty"`
	ClaimedAt     string          `json:"claimedAt,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	LeadID        string          `json:"leadId,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	Results       json.RawMessage `json:"results,omitempty"`
}

// Lead describes a materialized lead.
type Lead struct {
	ID               string   `json:"id"`
	SubjectKey       string   `json:"subjectKey"`
	FullName         string   `json:"fullName,omitempty"`
	Headline         string   `json:"headline,omitempty"`
	Company          string   `json:"company,omitempty"`
	Title            string   `json:"title,omitempty"`
	Location         string   `json:"location,omitempty"`
	ProfileURL       string   `json:"profileUrl,omitempty"`
	Category         string   `json:"category"`
	Roles            []string `json:"roles,omitempty"`
	OriginRecordID   int64    `json:"originRecordId"`
	LatestRecordID   int64    `json:"latestRecordId"`
	LatestActivityAt string   `json:"latestActivityAt,omitempty"`
	LatestPostURL    string   `json:"latestPostUrl,omitempty"`
	RecordCount      int      `json:"recordCount"`
	CreatedAt        string   `json:"createdAt,omitempty"`
	UpdatedAt        string   `json:"updatedAt,omitempty"`
}

// Credential reports usage for one enrichment account. Tokens are never
// exposed.
type Credential struct {
	AccountID          string `json:"accountId"`
	DailyLimit         int    `json:"dailyLimit"`
	DailyUsage         int    `json:"dailyUsage"`
	UsageDate          string `json:"usageDate,omitempty"`
	LastCallAt         string `json:"lastCallAt,omitempty"`
	Busy               bool   `json:"busy"`
	OperationID        string `json:"operationId,omitempty"`
	OperationStartedAt string `json:"operationStartedAt,omitempty"`
	TotalCalls         int64  `json:"totalCalls"`
}

// StageCount is the number of records in one status for one stage.
type StageCount struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ReasonCount groups terminal records by reason.
type ReasonCount struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Batch summarizes one ingestion batch.
type Batch struct {
	ID          string `json:"id"`
	Source      string `json:"source,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	Received    int    `json:"received"`
	Inserted    int    `json:"inserted"`
	Duplicates  int    `json:"duplicates"`
	Dropped     int    `json:"dropped"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastRecord  *Record        `json:"lastRecord,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	EventBackend string         `json:"eventBackend"`
	LedgerKind   string         `json:"ledgerBackend"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// StatsResponse provides a normalized status count payload.
type StatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// RecordListResponse wraps a collection of records.
type RecordListResponse struct {
	Records []Record `json:"records"`
}

// RecordResponse wraps a single record.
type RecordResponse struct {
	Record Record `json:"record"`
}

// LeadListResponse wraps a collection of leads.
type LeadListResponse struct {
	Leads []Lead `json:"leads"`
}

// LeadResponse wraps a single lead.
type LeadResponse struct {
	Lead Lead `json:"lead"`
}

// CredentialListResponse wraps credential usage rows.
type CredentialListResponse struct {
	Credentials []Credential `json:"credentials"`
}

// StageCountsResponse wraps per-stage status counts.
type StageCountsResponse struct {
	Stages []StageCount `json:"stages"`
}

// ReasonCountsResponse wraps terminal reason counts.
type ReasonCountsResponse struct {
	Reasons []ReasonCount `json:"reasons"`
}

// BatchListResponse wraps ingestion batches.
type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
