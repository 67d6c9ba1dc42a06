package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// DocumentStatus is the per-document outcome recorded in the run ledger.
type DocumentStatus string

const (
	DocumentSucceeded DocumentStatus = "succeeded"
	DocumentFailed    DocumentStatus = "failed"
)

// Run is one invocation of the analysis command.
type Run struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Output     string     `json:"output"`
	Variant    string     `json:"variant"`
	Threads    int        `json:"threads"`
	Status     RunStatus  `json:"status"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	CostUSD    float64    `json:"cost_usd"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunMeta describes a run at creation time.
type RunMeta struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	Variant string `json:"variant"`
	Threads int    `json:"threads"`
}

// RunSummary holds the final counts of a run.
type RunSummary struct {
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	CostUSD   float64 `json:"cost_usd"`
}

// DocumentOutcome is one document's entry in the run ledger.
type DocumentOutcome struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	HasErrors  bool           `json:"has_errors"`
	Retried    bool           `json:"retried"`
	Score      float64        `json:"score"`
	Calls      int            `json:"calls"`
	Stage      string         `json:"stage,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}
