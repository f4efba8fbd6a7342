package service

import (
	"context"
	"sort"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/services/batches/domain"
)

// DownloadedFile is a remote file that now sits in permanent storage
type DownloadedFile struct {
	Name   string // remote name as listed
	Parsed sources.Parsed
	Size   int64
	Path   string
}

// AssembleResult reports which batches gained files
type AssembleResult struct {
	Batches []domain.Batch
	Files   int
	// Errors are per batch problems that do not stop other batches
	Errors []error
}

// Assemble groups files by batch key, creating batches on first sight and recording every file.
// Files that disagree with their batch on a uniform value are still recorded; the
// disagreement is reported here and rejects the batch at sequencing
func (s *Service) Assemble(ctx context.Context, src sources.Impl, files []DownloadedFile) (AssembleResult, error) {
	var res AssembleResult
	groups := map[string][]DownloadedFile{}
	for _, f := range files {
		groups[f.Parsed.BatchKey] = append(groups[f.Parsed.BatchKey], f)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		sortKey, err := src.Adapter.SortKey(key)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		var b domain.Batch
		var conflict error
		err = repokit.InTx(ctx, s.DB, s.Binder, func(r domain.StorageRepo) error {
			var err error
			if b, err = r.EnsureBatch(ctx, src.Def.Name, key, sortKey); err != nil {
				return err
			}
			existing, err := r.BatchFiles(ctx, b.ID)
			if err != nil {
				return err
			}
			for _, f := range groups[key] {
				bf := domain.BatchFile{
					Filename:   f.Name,
					FileType:   f.Parsed.FileType,
					Org:        f.Parsed.Org,
					SizeBytes:  f.Size,
					Downloaded: true,
					Needed:     f.Parsed.Needed,
					Uniform:    f.Parsed.Uniform,
					Path:       f.Path,
				}
				if conflict == nil {
					conflict = uniformConflict(append(existing, bf))
				}
				if err := r.UpsertFile(ctx, b.ID, bf); err != nil {
					return err
				}
				existing = append(existing, bf)
				res.Files++
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		if conflict != nil {
			logger.C(logger.WithBatch(ctx, key)).Warn().Err(conflict).Msg("batch: uniform value mismatch")
			res.Errors = append(res.Errors, perr.WithOp(conflict, "assemble "+key))
		}
		res.Batches = append(res.Batches, b)
	}
	return res, nil
}

// uniformConflict finds the first live file whose batch uniform values disagree with an earlier one
func uniformConflict(files []domain.BatchFile) error {
	seen := map[string]string{}
	owner := map[string]string{}
	for _, f := range files {
		if f.Deleted {
			continue
		}
		names := make([]string, 0, len(f.Uniform))
		for k := range f.Uniform {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			v := f.Uniform[k]
			prev, ok := seen[k]
			if !ok {
				seen[k], owner[k] = v, f.Filename
				continue
			}
			if prev != v {
				return perr.WithField(perr.Newf(perr.ErrorCodeValidation,
					"inconsistent shared field %s: %s has %q, %s has %q", k, f.Filename, v, owner[k], prev), f.Filename)
			}
		}
	}
	return nil
}
