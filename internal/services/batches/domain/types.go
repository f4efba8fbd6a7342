// Package domain holds the batch lifecycle model shared by the batch, reconcile and delivery services
package domain

import (
	"time"
)

// BatchState is the lifecycle position of a batch
type BatchState string

const (
	StateIncomplete BatchState = "incomplete"
	StateRejected   BatchState = "rejected"
	StateSequenced  BatchState = "sequenced"
	StateSplit      BatchState = "split"
	StateComplete   BatchState = "complete"
	StateSuperseded BatchState = "superseded"
)

// Live reports whether the batch still waits on sequencing
func (s BatchState) Live() bool { return s == StateIncomplete || s == StateRejected }

// Sequenced reports whether a sequence number has been assigned
func (s BatchState) Sequenced() bool {
	return s == StateSequenced || s == StateSplit || s == StateComplete
}

// DeliveryState is the per split delivery position
type DeliveryState string

const (
	DeliveryReady        DeliveryState = "ready"
	DeliveryGated        DeliveryState = "gated"
	DeliverySent         DeliveryState = "sent"
	DeliveryAcknowledged DeliveryState = "acknowledged"
	DeliveryFailed       DeliveryState = "failed"
)

// Batch is one extract's unit of work for one source
type Batch struct {
	ID             int64       `json:"id"`
	Source         string      `json:"source"`
	Identifier     string      `json:"batch_identifier"`
	SortKey        time.Time   `json:"sort_key"`
	SequenceNumber *int64      `json:"sequence_number"`
	State          BatchState  `json:"state"`
	RejectReason   string      `json:"reject_reason,omitempty"`
	ExtractDate    *time.Time  `json:"extract_date"`
	ExtractCutoff  *time.Time  `json:"extract_cutoff"`
	InsertedAt     time.Time   `json:"inserted_at"`
	CompletedAt    *time.Time  `json:"completed_at"`
	Files          []BatchFile `json:"files,omitempty"`
}

// BatchFile is one remote file owned by a batch
type BatchFile struct {
	Filename   string            `json:"filename"`
	FileType   string            `json:"file_type"`
	Org        string            `json:"organisation_id,omitempty"`
	SizeBytes  int64             `json:"size_bytes"`
	Downloaded bool              `json:"downloaded"`
	Deleted    bool              `json:"deleted"`
	Needed     bool              `json:"needed"`
	Uniform    map[string]string `json:"uniform,omitempty"`
	Path       string            `json:"path"`
}

// BatchSplit is a batch's content scoped to one organisation
type BatchSplit struct {
	ID             int64         `json:"id"`
	BatchID        int64         `json:"batch_id"`
	OrganisationID string        `json:"organisation_id"`
	LocalPath      string        `json:"local_path"`
	IsBulk         bool          `json:"is_bulk"`
	BulkKnown      bool          `json:"bulk_known"`
	HasPatientData bool          `json:"has_patient_data"`
	TotalBytes     int64         `json:"total_bytes"`
	DeliveryState  DeliveryState `json:"delivery_state"`
	Attempts       int           `json:"attempts"`
	LastError      string        `json:"last_error,omitempty"`
	Classified     bool          `json:"classified"`
	Reconciled     bool          `json:"reconciled"`
	Notified       bool          `json:"notified"`
	NotifiedAt     *time.Time    `json:"notified_at"`
}

// Annotations are the per split values computed once after splitting
type Annotations struct {
	IsBulk         bool
	BulkKnown      bool
	HasPatientData bool
}

// PollingAttempt is the audit record of one cycle
type PollingAttempt struct {
	Source           string     `json:"source"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	ErrorText        string     `json:"error_text,omitempty"`
	FilesDownloaded  int        `json:"files_downloaded"`
	BatchesCompleted int        `json:"batches_completed"`
	SplitsOK         int        `json:"splits_ok"`
	SplitsFailed     int        `json:"splits_failed"`
	RowsDropped      int        `json:"rows_dropped"`
}

// DeliveryAttempt records one send of a split
type DeliveryAttempt struct {
	SplitID     int64     `json:"split_id"`
	AttemptedAt time.Time `json:"attempted_at"`
	Outcome     string    `json:"outcome"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// DeliveryTally counts the outcome of delivering a batch's splits
type DeliveryTally struct {
	OK        int
	Failed    int
	Gated     int
	Skipped   int
	Completed bool
}
