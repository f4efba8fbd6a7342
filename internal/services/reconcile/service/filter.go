package service

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/rowhash"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/platform/store"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/reconcile/domain"
)

// FilterRequest asks for one file to be reconciled against its index scope
type FilterRequest struct {
	Key      domain.Key
	Path     string
	IDColumn string
	Format   delimited.Format
	// BatchID tags index writes. Rows whose entry was written by the same batch are
	// kept again, so re-filtering a batch after a crash reproduces its first output.
	// Zero disables that match
	BatchID int64
	// IndexOnly updates the index and keeps every row
	IndexOnly bool
	// At stamps last_updated; zero means now
	At time.Time
}

// FilterResult counts what a filter pass did
type FilterResult struct {
	Rows      int
	New       int
	Changed   int
	Unchanged int
	Retained  int
}

type rowDigest struct {
	id   string
	hash string
}

// Filter drops rows whose identifier is already indexed with the same digest and
// refreshes the index for every row. Index reads and writes for the key happen in one
// transaction holding the key's advisory lock; no file is written while it is held.
// The filtered copy is written beside the file after the commit and renamed over it
func (s *Service) Filter(ctx context.Context, req FilterRequest) (FilterResult, error) {
	var res FilterResult
	digests, err := readDigests(req.Path, req.Format, req.IDColumn)
	if err != nil {
		return res, err
	}
	res.Rows = len(digests)
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	keep := make([]bool, len(digests))
	kept := req.Path + ".kept"
	err = store.InKeyLock(ctx, s.DB, req.Key.String(), func(q store.RowQuerier) error {
		r := s.Binder.Bind(q)
		res = FilterResult{Rows: len(digests)}
		ids := make([]string, 0, len(digests))
		last := make(map[string]int, len(digests))
		for i, d := range digests {
			if _, dup := last[d.id]; !dup {
				ids = append(ids, d.id)
			}
			last[d.id] = i
		}
		have, err := r.Lookup(ctx, req.Key, ids)
		if err != nil {
			return err
		}
		for i, d := range digests {
			e, ok := have[d.id]
			switch {
			case !ok:
				res.New++
				keep[i] = true
			case e.Hash != d.hash:
				res.Changed++
				keep[i] = true
			case req.BatchID != 0 && e.BatchID == req.BatchID:
				// written by this batch on an earlier pass
				res.Unchanged++
				keep[i] = true
			default:
				res.Unchanged++
				keep[i] = req.IndexOnly
			}
		}

		entries := make([]domain.Entry, 0, len(ids))
		for _, id := range ids {
			d := digests[last[id]]
			entries = append(entries, domain.Entry{RowID: id, Hash: d.hash, BatchID: req.BatchID, LastUpdated: at})
		}
		return r.Upsert(ctx, req.Key, entries)
	})
	if err != nil {
		return res, perr.WrapIf(err, perr.ErrorCodeReconcile, "filter "+req.Key.String())
	}

	// rows indexed by this batch stay retained on replay, so a crash from here on
	// reproduces the same output
	i := 0
	res.Retained, err = delimited.FilterTo(req.Path, kept, req.Format, func([]string) (bool, error) {
		k := i < len(keep) && keep[i]
		i++
		return k, nil
	})
	if err != nil {
		_ = os.Remove(kept)
		return res, perr.WrapIf(err, perr.ErrorCodeReconcile, "filter "+req.Key.String())
	}
	if err := os.Rename(kept, req.Path); err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeIO, "replace %s", req.Path)
	}
	return res, nil
}

// readDigests hashes every record of path keyed by its identifier column
func readDigests(path string, f delimited.Format, idColumn string) ([]rowDigest, error) {
	rd, err := delimited.Open(path, f)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	idx, ok := delimited.Column(rd.Header(), idColumn)
	if !ok {
		return nil, perr.Fatal(perr.WithField(perr.Newf(perr.ErrorCodeReconcile,
			"%s: identifier column %q not found", path, idColumn), idColumn))
	}
	var out []rowDigest
	for {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rowDigest{id: delimited.Field(rec, idx), hash: rowhash.Sum(rec, idx)})
	}
}

// FilterSplit reconciles every configured file type present in a prepared split.
// Bulk splits and sources with filtering off only refresh the index
func (s *Service) FilterSplit(ctx context.Context, req batchdom.FilterSplitRequest) (batchdom.FilterOutcome, error) {
	var out batchdom.FilterOutcome
	def := req.Source.Def
	if !def.Reconcile.Enabled {
		return out, nil
	}
	at := s.now()
	if req.Batch.ExtractCutoff != nil {
		at = *req.Batch.ExtractCutoff
	} else if req.Batch.ExtractDate != nil {
		at = *req.Batch.ExtractDate
	}

	for _, ft := range def.Reconcile.Types {
		path, ok := req.Files[ft.Type]
		if !ok {
			continue
		}
		fr := FilterRequest{
			Key:       domain.Key{Org: req.Split.OrganisationID, FileType: ft.Type},
			Path:      path,
			IDColumn:  ft.IDColumn,
			Format:    def.Format(),
			BatchID:   req.Batch.ID,
			IndexOnly: !def.Reconcile.Filter || req.Split.IsBulk,
			At:        at,
		}
		res, err := s.Filter(ctx, fr)
		if err != nil {
			if def.Reconcile.Degrade && !perr.IsFatal(err) && ctx.Err() == nil {
				logger.C(ctx).Warn().Err(err).Str("type", ft.Type).Msg("reconcile: filtering degraded, file left unfiltered")
				out.Degraded = true
				continue
			}
			return out, perr.Fatal(err)
		}
		out.Files++
		out.Rows += res.Rows
		out.Retained += res.Retained
	}
	return out, nil
}
