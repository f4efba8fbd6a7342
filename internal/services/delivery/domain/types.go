// Package domain holds the delivery state machine types and ports
package domain

import (
	"context"
	"time"

	"extractrelay/internal/adapters/sources"
	batchdom "extractrelay/internal/services/batches/domain"
)

// Attempt outcomes recorded in delivery_attempts
const (
	OutcomeAcknowledged = "acknowledged"
	OutcomeFailed       = "failed"
	OutcomeGated        = "gated"
	OutcomeGateError    = "gate_error"
)

// Message is one split ready to send
type Message struct {
	SplitID        int64
	Org            string
	Dir            string
	IsBulk         bool
	HasPatientData bool
	TotalBytes     int64
	ExtractDate    *time.Time
	ExtractCutoff  *time.Time
}

// Receipt is the consumer's answer to a send
type Receipt struct {
	Status int
	// Detail is the status line and the first two body lines on failure
	Detail string
}

// Sink sends a split downstream. A non-200 answer is a Receipt with an error
type Sink interface {
	Send(ctx context.Context, m Message) (Receipt, error)
}

// Gate answers whether an organisation has a data-sharing agreement
type Gate interface {
	HasAgreement(ctx context.Context, org string) (bool, error)
}

// Connector builds the sink and gate for a source's delivery settings.
// A nil Gate means every organisation is allowed
type Connector func(def sources.Definition) (Sink, Gate, error)

// StorageRepo persists split delivery state and the attempt log
type StorageRepo interface {
	Splits(ctx context.Context, batchID int64) ([]batchdom.BatchSplit, error)
	SetState(ctx context.Context, splitID int64, state batchdom.DeliveryState, lastErr string) error
	// Acknowledge marks a split acknowledged and notified at t
	Acknowledge(ctx context.Context, splitID int64, t time.Time) error
	RecordAttempt(ctx context.Context, a batchdom.DeliveryAttempt) error
	// CompleteBatch moves a split batch to complete when every split is acknowledged
	CompleteBatch(ctx context.Context, batchID int64) (bool, error)
}
