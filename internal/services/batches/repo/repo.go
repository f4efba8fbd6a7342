// Package repo provides postgres access for the batch lifecycle
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/store"
	"extractrelay/internal/services/batches/domain"
)

type (
	// PG is a Postgres binder for domain.StorageRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.StorageRepo
func NewPG() repokit.Binder[domain.StorageRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.StorageRepo { return &queries{q: q} }

const batchCols = `id, source, batch_identifier, sort_key, sequence_number, state,
	COALESCE(reject_reason, ''), extract_date, extract_cutoff, inserted_at, completed_at`

func scanBatch(r store.Row) (domain.Batch, error) {
	var b domain.Batch
	var state string
	err := r.Scan(&b.ID, &b.Source, &b.Identifier, &b.SortKey, &b.SequenceNumber, &state,
		&b.RejectReason, &b.ExtractDate, &b.ExtractCutoff, &b.InsertedAt, &b.CompletedAt)
	b.State = domain.BatchState(state)
	b.SortKey = b.SortKey.UTC()
	return b, err
}

func (r *queries) KnownFiles(ctx context.Context, source string) (map[string]bool, error) {
	type kv struct {
		name string
		done bool
	}
	xs, err := store.Many(ctx, r.q, func(row store.Row) (kv, error) {
		var x kv
		return x, row.Scan(&x.name, &x.done)
	}, `
		SELECT f.filename, f.downloaded
		FROM batch_files f
		JOIN source_batches b ON b.id = f.batch_id
		WHERE b.source = $1
	`, source)
	if err != nil {
		return nil, perr.FromPostgres(err, "known files")
	}
	out := make(map[string]bool, len(xs))
	for _, x := range xs {
		out[x.name] = out[x.name] || x.done
	}
	return out, nil
}

// EnsureBatch returns the live batch for identifier, creating it as incomplete
func (r *queries) EnsureBatch(ctx context.Context, source, identifier string, sortKey time.Time) (domain.Batch, error) {
	b, err := store.One(ctx, r.q, scanBatch, `
		INSERT INTO source_batches (source, batch_identifier, sort_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, batch_identifier) WHERE state <> 'superseded'
		DO UPDATE SET sort_key = source_batches.sort_key
		RETURNING `+batchCols, source, identifier, sortKey.UTC())
	if err != nil {
		return b, perr.FromPostgresf(err, "ensure batch %s/%s", source, identifier)
	}
	return b, nil
}

func (r *queries) UpsertFile(ctx context.Context, batchID int64, f domain.BatchFile) error {
	uni, err := json.Marshal(f.Uniform)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "uniform values")
	}
	if f.Uniform == nil {
		uni = []byte("{}")
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO batch_files (batch_id, filename, file_type, organisation_id, size_bytes, downloaded, deleted, needed, uniform, path)
		VALUES ($1, $2, $3, $10, $4, $5, $6, $7, $8::jsonb, $9)
		ON CONFLICT (batch_id, filename) DO UPDATE SET
			file_type = EXCLUDED.file_type,
			organisation_id = EXCLUDED.organisation_id,
			size_bytes = EXCLUDED.size_bytes,
			downloaded = EXCLUDED.downloaded,
			deleted = EXCLUDED.deleted,
			needed = EXCLUDED.needed,
			uniform = EXCLUDED.uniform,
			path = EXCLUDED.path
	`, batchID, f.Filename, f.FileType, f.SizeBytes, f.Downloaded, f.Deleted, f.Needed, string(uni), f.Path, f.Org)
	return perr.FromPostgresf(err, "upsert file %s", f.Filename)
}

func (r *queries) BatchFiles(ctx context.Context, batchID int64) ([]domain.BatchFile, error) {
	xs, err := store.Many(ctx, r.q, func(row store.Row) (domain.BatchFile, error) {
		var f domain.BatchFile
		var uni string
		if err := row.Scan(&f.Filename, &f.FileType, &f.Org, &f.SizeBytes, &f.Downloaded, &f.Deleted, &f.Needed, &uni, &f.Path); err != nil {
			return f, err
		}
		if len(uni) > 0 {
			if err := json.Unmarshal([]byte(uni), &f.Uniform); err != nil {
				return f, err
			}
		}
		return f, nil
	}, `
		SELECT filename, file_type, organisation_id, size_bytes, downloaded, deleted, needed, uniform::text, path
		FROM batch_files WHERE batch_id = $1 ORDER BY filename
	`, batchID)
	return xs, perr.FromPostgres(err, "batch files")
}

func (r *queries) LiveBatches(ctx context.Context, source string) ([]domain.Batch, error) {
	xs, err := store.Many(ctx, r.q, scanBatch, `
		SELECT `+batchCols+` FROM source_batches
		WHERE source = $1 AND state IN ('incomplete', 'rejected')
		ORDER BY sort_key, id
	`, source)
	return xs, perr.FromPostgres(err, "live batches")
}

func (r *queries) LastSequenced(ctx context.Context, source string) (int64, time.Time, bool, error) {
	var (
		seq int64
		key *time.Time
		n   int64
	)
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(max(sequence_number), 0), max(sort_key), count(*)
		FROM source_batches
		WHERE source = $1 AND state IN ('sequenced', 'split', 'complete')
	`, source).Scan(&seq, &key, &n)
	if err != nil {
		return 0, time.Time{}, false, perr.FromPostgres(err, "last sequenced")
	}
	if n == 0 || key == nil {
		return 0, time.Time{}, false, nil
	}
	return seq, key.UTC(), true, nil
}

func (r *queries) SetState(ctx context.Context, batchID int64, state domain.BatchState, reason string) error {
	err := store.ExecOne(ctx, r.q, `
		UPDATE source_batches SET
			state = $2,
			reject_reason = NULLIF($3, ''),
			completed_at = CASE WHEN $2 = 'complete' THEN now() ELSE completed_at END
		WHERE id = $1
	`, batchID, string(state), reason)
	return perr.FromPostgresf(err, "set batch %d %s", batchID, state)
}

func (r *queries) AssignSequence(ctx context.Context, batchID, seq int64) error {
	err := store.ExecOne(ctx, r.q, `
		UPDATE source_batches SET state = 'sequenced', sequence_number = $2, reject_reason = NULL
		WHERE id = $1 AND sequence_number IS NULL
	`, batchID, seq)
	return perr.FromPostgresf(err, "assign sequence %d to batch %d", seq, batchID)
}

func (r *queries) BatchesInState(ctx context.Context, source string, state domain.BatchState) ([]domain.Batch, error) {
	xs, err := store.Many(ctx, r.q, scanBatch, `
		SELECT `+batchCols+` FROM source_batches
		WHERE source = $1 AND state = $2
		ORDER BY sequence_number NULLS LAST, sort_key, id
	`, source, string(state))
	return xs, perr.FromPostgres(err, "batches in state")
}

func (r *queries) SetDates(ctx context.Context, batchID int64, extractDate, cutoff *time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE source_batches SET extract_date = $2, extract_cutoff = $3 WHERE id = $1
	`, batchID, extractDate, cutoff)
	return perr.FromPostgres(err, "set dates")
}

func (r *queries) GetBatch(ctx context.Context, source string, batchID int64) (domain.Batch, error) {
	b, err := store.One(ctx, r.q, scanBatch, `
		SELECT `+batchCols+` FROM source_batches WHERE source = $1 AND id = $2
	`, source, batchID)
	if errors.Is(err, store.ErrNoRows) {
		return b, perr.NotFoundf("batch %d not found for %s", batchID, source)
	}
	return b, perr.FromPostgres(err, "get batch")
}

const splitCols = `id, batch_id, organisation_id, local_path, is_bulk, bulk_known, has_patient_data,
	total_bytes, delivery_state, attempts, COALESCE(last_error, ''), classified, reconciled, notified, notified_at`

func scanSplit(r store.Row) (domain.BatchSplit, error) {
	var s domain.BatchSplit
	var ds string
	err := r.Scan(&s.ID, &s.BatchID, &s.OrganisationID, &s.LocalPath, &s.IsBulk, &s.BulkKnown, &s.HasPatientData,
		&s.TotalBytes, &ds, &s.Attempts, &s.LastError, &s.Classified, &s.Reconciled, &s.Notified, &s.NotifiedAt)
	s.DeliveryState = domain.DeliveryState(ds)
	return s, err
}

// UpsertSplit records a split by (batch, organisation); annotations are left alone on conflict
func (r *queries) UpsertSplit(ctx context.Context, s domain.BatchSplit) (domain.BatchSplit, error) {
	out, err := store.One(ctx, r.q, scanSplit, `
		INSERT INTO batch_splits (batch_id, organisation_id, local_path)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id, organisation_id) DO UPDATE SET local_path = EXCLUDED.local_path
		RETURNING `+splitCols, s.BatchID, s.OrganisationID, s.LocalPath)
	return out, perr.FromPostgresf(err, "upsert split %s", s.OrganisationID)
}

func (r *queries) Splits(ctx context.Context, batchID int64) ([]domain.BatchSplit, error) {
	xs, err := store.Many(ctx, r.q, scanSplit, `
		SELECT `+splitCols+` FROM batch_splits WHERE batch_id = $1 ORDER BY organisation_id
	`, batchID)
	return xs, perr.FromPostgres(err, "splits")
}

func (r *queries) SetClassified(ctx context.Context, splitID int64, a domain.Annotations) error {
	err := store.ExecOne(ctx, r.q, `
		UPDATE batch_splits SET is_bulk = $2, bulk_known = $3, has_patient_data = $4, classified = true
		WHERE id = $1
	`, splitID, a.IsBulk, a.BulkKnown, a.HasPatientData)
	return perr.FromPostgres(err, "set classified")
}

func (r *queries) SetReconciled(ctx context.Context, splitID int64, totalBytes int64) error {
	err := store.ExecOne(ctx, r.q, `
		UPDATE batch_splits SET total_bytes = $2, reconciled = true WHERE id = $1
	`, splitID, totalBytes)
	return perr.FromPostgres(err, "set reconciled")
}

func (r *queries) StartAttempt(ctx context.Context, source string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO polling_attempts (source, started_at) VALUES ($1, $2)
		ON CONFLICT (source, started_at) DO NOTHING
	`, source, at.UTC())
	return perr.FromPostgres(err, "start attempt")
}

func (r *queries) FinishAttempt(ctx context.Context, a domain.PollingAttempt) error {
	_, err := r.q.Exec(ctx, `
		UPDATE polling_attempts SET
			finished_at = $3,
			error_text = NULLIF($4, ''),
			files_downloaded = $5,
			batches_completed = $6,
			splits_ok = $7,
			splits_failed = $8,
			rows_dropped = $9
		WHERE source = $1 AND started_at = $2
	`, a.Source, a.StartedAt.UTC(), a.FinishedAt, a.ErrorText, a.FilesDownloaded,
		a.BatchesCompleted, a.SplitsOK, a.SplitsFailed, a.RowsDropped)
	return perr.FromPostgres(err, "finish attempt")
}

func (r *queries) RecentAttempts(ctx context.Context, source string, limit int) ([]domain.PollingAttempt, error) {
	xs, err := store.Many(ctx, r.q, func(row store.Row) (domain.PollingAttempt, error) {
		var a domain.PollingAttempt
		return a, row.Scan(&a.Source, &a.StartedAt, &a.FinishedAt, &a.ErrorText, &a.FilesDownloaded,
			&a.BatchesCompleted, &a.SplitsOK, &a.SplitsFailed, &a.RowsDropped)
	}, `
		SELECT source, started_at, finished_at, COALESCE(error_text, ''), files_downloaded,
			batches_completed, splits_ok, splits_failed, rows_dropped
		FROM polling_attempts WHERE source = $1
		ORDER BY started_at DESC LIMIT $2
	`, source, limit)
	return xs, perr.FromPostgres(err, "recent attempts")
}

func (r *queries) RecentBatches(ctx context.Context, source string, limit int) ([]domain.Batch, error) {
	xs, err := store.Many(ctx, r.q, scanBatch, `
		SELECT `+batchCols+` FROM source_batches WHERE source = $1
		ORDER BY sort_key DESC, id DESC LIMIT $2
	`, source, limit)
	return xs, perr.FromPostgres(err, "recent batches")
}
