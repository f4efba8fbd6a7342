// Package repo provides postgres access for the content-hash index and gap runs
package repo

import (
	"context"
	"path/filepath"

	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/store"
	"extractrelay/internal/services/reconcile/domain"
)

// lookupChunk bounds the id array sent per query
const lookupChunk = 5000

type (
	// PG is a Postgres binder for domain.StorageRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.StorageRepo
func NewPG() repokit.Binder[domain.StorageRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.StorageRepo { return &queries{q: q} }

func (r *queries) Lookup(ctx context.Context, key domain.Key, ids []string) (map[string]domain.Entry, error) {
	out := make(map[string]domain.Entry, len(ids))
	for start := 0; start < len(ids); start += lookupChunk {
		end := min(start+lookupChunk, len(ids))
		xs, err := store.Many(ctx, r.q, func(row store.Row) (domain.Entry, error) {
			var e domain.Entry
			return e, row.Scan(&e.RowID, &e.Hash, &e.BatchID, &e.LastUpdated)
		}, `
			SELECT row_id, content_hash, batch_id, last_updated
			FROM content_hashes
			WHERE organisation_id = $1 AND file_type = $2 AND row_id = ANY($3::text[])
		`, key.Org, key.FileType, ids[start:end])
		if err != nil {
			return nil, perr.FromPostgresf(err, "lookup %s", key)
		}
		for _, e := range xs {
			out[e.RowID] = e
		}
	}
	return out, nil
}

// Upsert writes entries. last_updated never moves backwards and batch_id only follows a hash change
func (r *queries) Upsert(ctx context.Context, key domain.Key, entries []domain.Entry) error {
	for start := 0; start < len(entries); start += lookupChunk {
		end := min(start+lookupChunk, len(entries))
		n := end - start
		ids, hashes := make([]string, 0, n), make([]string, 0, n)
		batches := make([]int64, 0, n)
		for _, e := range entries[start:end] {
			ids = append(ids, e.RowID)
			hashes = append(hashes, e.Hash)
			batches = append(batches, e.BatchID)
		}
		_, err := r.q.Exec(ctx, `
			INSERT INTO content_hashes (organisation_id, file_type, row_id, content_hash, batch_id, last_updated)
			SELECT $1, $2, t.row_id, t.content_hash, t.batch_id, $6
			FROM unnest($3::text[], $4::text[], $5::bigint[]) AS t(row_id, content_hash, batch_id)
			ON CONFLICT (organisation_id, file_type, row_id) DO UPDATE SET
				batch_id = CASE WHEN content_hashes.content_hash <> EXCLUDED.content_hash
					THEN EXCLUDED.batch_id ELSE content_hashes.batch_id END,
				content_hash = EXCLUDED.content_hash,
				last_updated = GREATEST(content_hashes.last_updated, EXCLUDED.last_updated)
		`, key.Org, key.FileType, ids, hashes, batches, entries[start].LastUpdated)
		if err != nil {
			return perr.FromPostgresf(err, "upsert %s", key)
		}
	}
	return nil
}

func (r *queries) History(ctx context.Context, source, org string) ([]domain.SplitRef, error) {
	xs, err := store.Many(ctx, r.q, func(row store.Row) (domain.SplitRef, error) {
		var s domain.SplitRef
		return s, row.Scan(&s.BatchID, &s.Identifier, &s.Sequence, &s.IsBulk, &s.BulkKnown, &s.LocalPath)
	}, `
		SELECT b.id, b.batch_identifier, b.sequence_number, s.is_bulk, s.bulk_known, s.local_path
		FROM source_batches b
		JOIN batch_splits s ON s.batch_id = b.id
		WHERE b.source = $1 AND s.organisation_id = $2
			AND b.state IN ('split', 'complete') AND b.sequence_number IS NOT NULL
		ORDER BY b.sequence_number
	`, source, org)
	return xs, perr.FromPostgres(err, "split history")
}

func (r *queries) FileTypes(ctx context.Context, batchID int64) (map[string]string, error) {
	type ft struct{ path, typ string }
	xs, err := store.Many(ctx, r.q, func(row store.Row) (ft, error) {
		var x ft
		return x, row.Scan(&x.path, &x.typ)
	}, `SELECT path, file_type FROM batch_files WHERE batch_id = $1 AND NOT deleted`, batchID)
	if err != nil {
		return nil, perr.FromPostgres(err, "file types")
	}
	out := make(map[string]string, len(xs))
	for _, x := range xs {
		out[filepath.Base(x.path)] = x.typ
	}
	return out, nil
}

func (r *queries) Orgs(ctx context.Context, source string) ([]string, error) {
	xs, err := store.Many(ctx, r.q, func(row store.Row) (string, error) {
		var s string
		return s, row.Scan(&s)
	}, `
		SELECT DISTINCT s.organisation_id
		FROM batch_splits s JOIN source_batches b ON b.id = s.batch_id
		WHERE b.source = $1 ORDER BY 1
	`, source)
	return xs, perr.FromPostgres(err, "orgs")
}

func (r *queries) RecordGapRun(ctx context.Context, g domain.GapRun) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO gap_runs (source, organisation_id, file_type, disable_batch_id, reload_batch_id, synthesized, ran_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, organisation_id, file_type, disable_batch_id) DO UPDATE SET
			reload_batch_id = EXCLUDED.reload_batch_id,
			synthesized = EXCLUDED.synthesized,
			ran_at = EXCLUDED.ran_at
	`, g.Source, g.Org, g.FileType, g.DisableBatchID, g.ReloadBatchID, g.Synthesized, g.RanAt)
	return perr.FromPostgres(err, "record gap run")
}
