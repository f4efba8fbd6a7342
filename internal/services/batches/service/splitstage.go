package service

import (
	"context"
	"os"
	"path/filepath"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/split"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/batches/guardrails"
	"extractrelay/internal/services/batches/storage"
)

// SplitOutcome reports the split stage for one batch
type SplitOutcome struct {
	Splits      []domain.BatchSplit
	DroppedRows int
	// Resumed is true when splits were already recorded by an earlier cycle
	Resumed bool
}

// SplitBatch partitions a sequenced batch, records its splits and prepares each one.
//
// Partitioning happens under the temp root and is promoted whole; a failure leaves
// permanent storage untouched. Preparation is resumable: classification and
// reconciliation are flagged per split and skipped once done. The batch moves to
// split only when every split is prepared
func (s *Service) SplitBatch(ctx context.Context, src sources.Impl, b domain.Batch) (SplitOutcome, error) {
	var out SplitOutcome
	ctx = logger.WithBatch(ctx, b.Identifier)
	ctx, cancel := guardrails.ForSplit(ctx, s.Cfg.Timeouts)
	defer cancel()

	r := s.repo()
	files, err := r.BatchFiles(ctx, b.ID)
	if err != nil {
		return out, err
	}
	typeOf := map[string]string{}
	for _, f := range files {
		typeOf[filepath.Base(f.Path)] = f.FileType
	}

	if err := s.annotateDates(ctx, src, b, files); err != nil {
		return out, err
	}

	splits, err := r.Splits(ctx, b.ID)
	if err != nil {
		return out, err
	}
	if len(splits) > 0 {
		out.Resumed = true
	} else {
		splits, out.DroppedRows, err = s.partition(ctx, src, b, files)
		if err != nil {
			return out, err
		}
	}

	for i := range splits {
		sp, err := s.prepare(ctx, src, b, splits[i], typeOf)
		if err != nil {
			return out, perr.WithOp(err, "prepare split "+splits[i].OrganisationID)
		}
		splits[i] = sp
	}
	out.Splits = splits
	if err := r.SetState(ctx, b.ID, domain.StateSplit, ""); err != nil {
		return out, err
	}
	logger.C(ctx).Info().Int("splits", len(splits)).Bool("resumed", out.Resumed).Msg("batch split")
	return out, nil
}

func (s *Service) partition(ctx context.Context, src sources.Impl, b domain.Batch, files []domain.BatchFile) ([]domain.BatchSplit, int, error) {
	var inputs []split.Input
	for _, f := range files {
		if f.Deleted || !f.Needed || !f.Downloaded {
			continue
		}
		inputs = append(inputs, split.Input{Type: f.FileType, Name: filepath.Base(f.Path), Path: f.Path})
	}

	tmp := s.Cfg.Layout.TempSplit(src.Def.Name, b.Identifier)
	if err := storage.Wipe(tmp); err != nil {
		return nil, 0, err
	}
	rep, err := src.Splitter.Split(ctx, tmp, inputs)
	if err != nil {
		_ = storage.Wipe(tmp)
		return nil, 0, perr.WrapIf(err, perr.ErrorCodeSplit, "split "+b.Identifier)
	}
	if rep.DroppedRows > 0 {
		logger.C(ctx).Warn().
			Int("rows", rep.DroppedRows).
			Strs("orgs", rep.DroppedOrgs).
			Msg("split: dropped rows for unrecognised organisations")
	}
	logger.C(ctx).Debug().Int("rows", rep.Rows).Int("dups", rep.Duplicates).Int("max_open", rep.MaxOpen).Msg("split done")

	perm := s.Cfg.Layout.PermSplit(src.Def.Name, b.Identifier)
	if err := storage.Promote(tmp, perm); err != nil {
		return nil, 0, err
	}

	var splits []domain.BatchSplit
	err = repokit.InTx(ctx, s.DB, s.Binder, func(r domain.StorageRepo) error {
		splits = splits[:0]
		for _, org := range rep.Orgs {
			sp, err := r.UpsertSplit(ctx, domain.BatchSplit{
				BatchID:        b.ID,
				OrganisationID: org,
				LocalPath:      filepath.Join(b.Identifier, storage.SplitDirName, org),
			})
			if err != nil {
				return err
			}
			splits = append(splits, sp)
		}
		return nil
	})
	return splits, rep.DroppedRows, err
}

// splitFiles maps file type to path for the files of one organisation folder
func splitFiles(dir string, typeOf map[string]string) (map[string]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "read %s", dir)
	}
	out := map[string]string{}
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		if t, ok := typeOf[e.Name()]; ok {
			out[t] = filepath.Join(dir, e.Name())
		}
	}
	return out, nil
}

func (s *Service) prepare(ctx context.Context, src sources.Impl, b domain.Batch, sp domain.BatchSplit, typeOf map[string]string) (domain.BatchSplit, error) {
	if sp.Classified && sp.Reconciled {
		return sp, nil
	}
	ctx = logger.WithOrg(ctx, sp.OrganisationID)
	dir := filepath.Join(s.Cfg.Layout.PermRoot, src.Def.Name, sp.LocalPath)
	files, err := splitFiles(dir, typeOf)
	if err != nil {
		return sp, err
	}
	r := s.repo()

	if !sp.Classified {
		a := domain.Annotations{HasPatientData: hasPatientData(src.Def, files)}
		if v, ok := src.Bulk.Classify(ctx, files).Get(); ok {
			a.IsBulk, a.BulkKnown = v, true
		}
		if err := r.SetClassified(ctx, sp.ID, a); err != nil {
			return sp, err
		}
		sp.IsBulk, sp.BulkKnown, sp.HasPatientData, sp.Classified = a.IsBulk, a.BulkKnown, a.HasPatientData, true
	}

	if !sp.Reconciled {
		if s.Reconcile != nil && src.Def.Reconcile.Enabled {
			res, err := s.Reconcile.FilterSplit(ctx, domain.FilterSplitRequest{Source: src, Batch: b, Split: sp, Files: files})
			if err != nil {
				return sp, err
			}
			logger.C(ctx).Debug().Int("rows", res.Rows).Int("retained", res.Retained).Bool("degraded", res.Degraded).Msg("split reconciled")
		}
		size, err := storage.DirSize(dir)
		if err != nil {
			return sp, err
		}
		if err := r.SetReconciled(ctx, sp.ID, size); err != nil {
			return sp, err
		}
		sp.TotalBytes, sp.Reconciled = size, true
	}
	return sp, nil
}

// hasPatientData is true unless a patient file type is configured and carries no rows
func hasPatientData(def sources.Definition, files map[string]string) bool {
	if def.PatientType == "" {
		return true
	}
	p, ok := files[def.PatientType]
	if !ok {
		return false
	}
	n, err := delimited.CountRows(p, def.Format())
	return err == nil && n > 0
}

// annotateDates derives extract date and cutoff once per batch; failures leave them unknown
func (s *Service) annotateDates(ctx context.Context, src sources.Impl, b domain.Batch, files []domain.BatchFile) error {
	if b.ExtractDate != nil || b.ExtractCutoff != nil {
		return nil
	}
	byType := map[string]string{}
	for _, f := range files {
		if f.Deleted || !f.Downloaded {
			continue
		}
		if _, ok := byType[f.FileType]; !ok {
			byType[f.FileType] = f.Path
		}
	}
	date := src.Dates.ExtractDate(b.Identifier)
	cutoff := src.Dates.Cutoff(ctx, byType)
	if !date.Present() && !cutoff.Present() {
		return nil
	}
	return s.repo().SetDates(ctx, b.ID, date.Ptr(), cutoff.Ptr())
}
