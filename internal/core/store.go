package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the ledger, the reference catalog and the import history.
// internal/store provides the Postgres implementation.
type Store interface {
	// LoadLedger returns a snapshot of all processed periods.
	LoadLedger(ctx context.Context) (*Ledger, error)

	// LoadReference returns the latest version of every reference entity.
	LoadReference(ctx context.Context) ([]ReferenceEntity, error)

	// WithinPeriod runs fn in one transaction that starts by claiming pp in
	// the ledger. If another transaction already holds or committed the claim,
	// fn is not called and claimed is false. The claim commits with fn's
	// writes and rolls back with them.
	WithinPeriod(ctx context.Context, pp ProcessedPeriod, fn func(ctx context.Context, tx PeriodTx) error) (claimed bool, err error)

	// RecordRun stores a run that wrote no data, such as a structural failure.
	RecordRun(ctx context.Context, run ImportRun) error

	// ListRuns returns import runs, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]ImportRun, error)

	// RunFailures returns the rejected rows stored for a run.
	RunFailures(ctx context.Context, runID uuid.UUID, limit int) ([]RowFailure, error)
}

// PeriodTx is the transactional view handed to WithinPeriod callbacks.
type PeriodTx interface {
	// Ledger returns the ledger as seen inside the transaction, the claim included.
	Ledger(ctx context.Context) (*Ledger, error)
	LoadReference(ctx context.Context) ([]ReferenceEntity, error)
	PersistReference(ctx context.Context, versions []ReferenceEntity) error
	InsertFacts(ctx context.Context, def DatasetDefinition, runID uuid.UUID, p Period, facts []Fact) (int64, error)
	RecordRun(ctx context.Context, run ImportRun, failures []RowFailure) error
}

// RunStatus is the final state of an import run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

// ImportRun is one history entry.
type ImportRun struct {
	ID         uuid.UUID     `json:"id"`
	Type       DatasetType   `json:"datasetType"`
	Period     Period        `json:"period"`
	Location   string        `json:"location"`
	Status     RunStatus     `json:"status"`
	Summary    ReportSummary `json:"summary"`
	Persisted  int64         `json:"persisted"` // facts inserted or reference versions written
	Retired    int           `json:"retired,omitempty"`
	Message    string        `json:"message,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r ImportRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Type   DatasetType
	Status RunStatus
	Year   int
	Limit  int
}
