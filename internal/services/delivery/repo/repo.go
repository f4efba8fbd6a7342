// Package repo provides postgres access for split delivery state
package repo

import (
	"context"
	"time"

	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/store"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/delivery/domain"
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

func (r *queries) Splits(ctx context.Context, batchID int64) ([]batchdom.BatchSplit, error) {
	xs, err := store.Many(ctx, r.q, func(row store.Row) (batchdom.BatchSplit, error) {
		var s batchdom.BatchSplit
		var ds string
		err := row.Scan(&s.ID, &s.BatchID, &s.OrganisationID, &s.LocalPath, &s.IsBulk, &s.BulkKnown,
			&s.HasPatientData, &s.TotalBytes, &ds, &s.Attempts, &s.LastError, &s.Notified, &s.NotifiedAt)
		s.DeliveryState = batchdom.DeliveryState(ds)
		return s, err
	}, `
		SELECT id, batch_id, organisation_id, local_path, is_bulk, bulk_known, has_patient_data,
			total_bytes, delivery_state, attempts, COALESCE(last_error, ''), notified, notified_at
		FROM batch_splits
		WHERE batch_id = $1
		ORDER BY organisation_id
	`, batchID)
	return xs, perr.FromPostgres(err, "delivery splits")
}

// SetState never moves a split out of acknowledged
func (r *queries) SetState(ctx context.Context, splitID int64, state batchdom.DeliveryState, lastErr string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE batch_splits SET
			delivery_state = $2,
			last_error = NULLIF($3, ''),
			attempts = attempts + CASE WHEN $2 = 'sent' THEN 1 ELSE 0 END
		WHERE id = $1 AND delivery_state <> 'acknowledged'
	`, splitID, string(state), lastErr)
	return perr.FromPostgresf(err, "set delivery state %d", splitID)
}

func (r *queries) Acknowledge(ctx context.Context, splitID int64, t time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE batch_splits SET
			delivery_state = 'acknowledged', last_error = NULL, notified = true, notified_at = $2
		WHERE id = $1
	`, splitID, t)
	return perr.FromPostgresf(err, "acknowledge split %d", splitID)
}

func (r *queries) RecordAttempt(ctx context.Context, a batchdom.DeliveryAttempt) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO delivery_attempts (split_id, attempted_at, outcome, http_status, detail)
		VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''))
	`, a.SplitID, a.AttemptedAt, a.Outcome, a.HTTPStatus, a.Detail)
	return perr.FromPostgres(err, "record delivery attempt")
}

func (r *queries) CompleteBatch(ctx context.Context, batchID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE source_batches SET state = 'complete', completed_at = now()
		WHERE id = $1 AND state = 'split'
			AND NOT EXISTS (
				SELECT 1 FROM batch_splits
				WHERE batch_id = $1 AND delivery_state <> 'acknowledged'
			)
	`, batchID)
	if err != nil {
		return false, perr.FromPostgres(err, "complete batch")
	}
	return tag.RowsAffected() == 1, nil
}
