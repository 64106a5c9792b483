// Package store persists the audit trail of pipeline runs.
package store

import (
	"context"

	"github.com/sells-group/crm-cleanse/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind     model.RunKind   `json:"kind,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	RecordID string          `json:"record_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the run audit trail.
type Store interface {
	// CreateRun persists a completed run. A missing id is assigned.
	CreateRun(ctx context.Context, run *model.RunRecord) error
	GetRun(ctx context.Context, runID string) (*model.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}
