// Package domain holds the content-hash index and gap reconciliation model
package domain

import (
	"context"
	"time"
)

// Key scopes index entries to one organisation and file type
type Key struct {
	Org      string
	FileType string
}

// String is the advisory lock key for the scope
func (k Key) String() string { return "content/" + k.Org + "/" + k.FileType }

// Entry is one indexed row
type Entry struct {
	RowID       string
	Hash        string
	BatchID     int64 // batch that last wrote a new or changed hash
	LastUpdated time.Time
}

// SplitRef is one batch's split for an organisation, in sequence order
type SplitRef struct {
	BatchID    int64
	Identifier string
	Sequence   int64
	IsBulk     bool
	BulkKnown  bool
	LocalPath  string
}

// GapRun is the audit record of one delete synthesis for a file type
type GapRun struct {
	Source         string    `json:"source"`
	Org            string    `json:"organisation_id"`
	FileType       string    `json:"file_type"`
	DisableBatchID int64     `json:"disable_batch_id"`
	ReloadBatchID  int64     `json:"reload_batch_id"`
	Synthesized    int       `json:"synthesized"`
	RanAt          time.Time `json:"ran_at"`
}

// StorageRepo is the persistence surface of reconciliation
type StorageRepo interface {
	Lookup(ctx context.Context, key Key, ids []string) (map[string]Entry, error)
	Upsert(ctx context.Context, key Key, entries []Entry) error

	History(ctx context.Context, source, org string) ([]SplitRef, error)
	FileTypes(ctx context.Context, batchID int64) (map[string]string, error)
	Orgs(ctx context.Context, source string) ([]string, error)
	RecordGapRun(ctx context.Context, run GapRun) error
}
