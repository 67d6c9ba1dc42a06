package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Error types recorded on dead-letter entries.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry records a document whose pipeline run failed, so it can be found
// and re-submitted after the run.
type DLQEntry struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	DocumentID  string    `json:"document_id"`
	Source      string    `json:"source,omitempty"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"`
	FailedStage string    `json:"failed_stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	RunID     string `json:"run_id,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// NewDLQEntry builds an entry for a failed document.
func NewDLQEntry(runID, documentID, source, stage string, err error) DLQEntry {
	return DLQEntry{
		ID:          uuid.New().String(),
		RunID:       runID,
		DocumentID:  documentID,
		Source:      source,
		Error:       err.Error(),
		ErrorType:   ClassifyError(err),
		FailedStage: stage,
		CreatedAt:   time.Now().UTC(),
	}
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
