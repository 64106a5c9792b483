package model

import "time"

// RunKind names which pipeline produced a run record.
type RunKind string

const (
	RunKindMerge RunKind = "merge"
	RunKindClean RunKind = "clean"
	RunKindPurge RunKind = "purge"
)

// RunStatus is the terminal state of a recorded pipeline run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is the audit-trail row persisted for every pipeline run.
// Result holds the serialized pipeline outcome; it is opaque to the store.
type RunRecord struct {
	ID          string    `json:"id"`
	Kind        RunKind   `json:"kind"`
	RecordID    string    `json:"record_id"`
	Status      RunStatus `json:"status"`
	CreditCost  int       `json:"credit_cost"`
	TotalTokens int       `json:"total_tokens"`
	CostUSD     float64   `json:"cost_usd"`
	Result      []byte    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}
