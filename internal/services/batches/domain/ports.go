package domain

import (
	"context"
	"time"

	"extractrelay/internal/adapters/sources"
)

// RunnerPort drives polling cycles
type RunnerPort interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) error
	RunCycle(ctx context.Context, source string) (PollingAttempt, error)
}

// StatusPort is the read and resolution surface the status API uses
type StatusPort interface {
	Sources() []string
	LastAttempt(ctx context.Context, source string) (*PollingAttempt, error)
	RecentAttempts(ctx context.Context, source string, limit int) ([]PollingAttempt, error)
	RecentBatches(ctx context.Context, source string, limit int) ([]Batch, error)
	Resolve(ctx context.Context, source string, batchID int64, action, reason string) (Batch, error)
}

// StorageRepo is the persistence surface of the batch lifecycle
type StorageRepo interface {
	// files and assembly
	KnownFiles(ctx context.Context, source string) (map[string]bool, error)
	EnsureBatch(ctx context.Context, source, identifier string, sortKey time.Time) (Batch, error)
	UpsertFile(ctx context.Context, batchID int64, f BatchFile) error
	BatchFiles(ctx context.Context, batchID int64) ([]BatchFile, error)

	// sequencing
	LiveBatches(ctx context.Context, source string) ([]Batch, error)
	LastSequenced(ctx context.Context, source string) (seq int64, sortKey time.Time, ok bool, err error)
	SetState(ctx context.Context, batchID int64, state BatchState, reason string) error
	AssignSequence(ctx context.Context, batchID, seq int64) error
	BatchesInState(ctx context.Context, source string, state BatchState) ([]Batch, error)
	SetDates(ctx context.Context, batchID int64, extractDate, cutoff *time.Time) error
	GetBatch(ctx context.Context, source string, batchID int64) (Batch, error)

	// splits
	UpsertSplit(ctx context.Context, s BatchSplit) (BatchSplit, error)
	Splits(ctx context.Context, batchID int64) ([]BatchSplit, error)
	SetClassified(ctx context.Context, splitID int64, a Annotations) error
	SetReconciled(ctx context.Context, splitID int64, totalBytes int64) error

	// audit
	StartAttempt(ctx context.Context, source string, at time.Time) error
	FinishAttempt(ctx context.Context, a PollingAttempt) error
	RecentAttempts(ctx context.Context, source string, limit int) ([]PollingAttempt, error)
	RecentBatches(ctx context.Context, source string, limit int) ([]Batch, error)
}

// FilterSplitRequest asks the reconciler to process one prepared split
type FilterSplitRequest struct {
	Source sources.Impl
	Batch  Batch
	Split  BatchSplit
	// Files maps file type to path inside the split directory
	Files map[string]string
}

// FilterOutcome summarises reconciliation of one split
type FilterOutcome struct {
	Files    int
	Rows     int
	Retained int
	Degraded bool
}

// Reconciler filters a split against the content-hash index
type Reconciler interface {
	FilterSplit(ctx context.Context, req FilterSplitRequest) (FilterOutcome, error)
}

// Deliverer sends a batch's splits downstream
type Deliverer interface {
	DeliverBatch(ctx context.Context, src sources.Impl, b Batch) (DeliveryTally, error)
}
