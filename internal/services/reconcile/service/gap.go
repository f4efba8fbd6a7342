package service

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/core/delimited"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/services/reconcile/domain"
)

// preGapSuffix marks the untouched copy of a file the gap run replaced
const preGapSuffix = ".pre-gap"

// GapRequest asks for delete synthesis for one organisation of a source
type GapRequest struct {
	Source sources.Impl
	Org    string
	// DisableBatch pins the disable point by batch identifier when history is ambiguous
	DisableBatch string
	DryRun       bool
}

// GapTypeResult is the outcome for one record type
type GapTypeResult struct {
	FileType    string
	Synthesized int
	Scanned     int
}

// GapResult describes one gap run
type GapResult struct {
	Disable domain.SplitRef
	Reload  domain.SplitRef
	// Emptied lists the batches between disable and reload replaced by header-only files
	Emptied []string
	Types   []GapTypeResult
}

// gapRun owns every lookup table of one run; nothing outlives it
type gapRun struct {
	svc     *Service
	def     sources.GapDef
	format  delimited.Format
	source  string
	history []domain.SplitRef
	types   map[int64]map[string]string // batch -> base name -> file type

	// patients deleted or ended before the disable point
	excluded map[string]struct{}
}

// Gap reconstructs the deletes a source failed to emit while an organisation was disabled.
//
// The disable point is the one batch whose agreement file turns the organisation
// disabled; the reload is the first bulk split after it. Walking back from the disable
// batch to the last earlier bulk, every live record absent from the reload whose patient
// is still current gets one synthesized delete. The disable batch's file is replaced by
// those deletes and every data file of the batches strictly between disable and reload
// by a header-only file; agreement files stay so the disable point is found again.
// Delete-marked rows of the disable batch itself are the source's own mass delete and
// are ignored. Originals are kept beside the disable batch's files, so a rerun reads
// the same input
func (s *Service) Gap(ctx context.Context, req GapRequest) (GapResult, error) {
	var res GapResult
	def := req.Source.Def.Reconcile.Gap
	if def.AgreementType == "" || len(def.Types) == 0 {
		return res, perr.InvalidArgf("source %s has no gap reconciliation configured", req.Source.Def.Name)
	}
	ctx = logger.WithOrg(logger.WithSource(ctx, req.Source.Def.Name), req.Org)
	r := s.repo()

	history, err := r.History(ctx, req.Source.Def.Name, req.Org)
	if err != nil {
		return res, err
	}
	run := &gapRun{
		svc: s, def: def, format: req.Source.Def.Format(), source: req.Source.Def.Name,
		history: history, types: map[int64]map[string]string{},
		excluded: map[string]struct{}{},
	}
	for _, h := range history {
		if run.types[h.BatchID], err = r.FileTypes(ctx, h.BatchID); err != nil {
			return res, err
		}
	}

	di, err := run.disablePoint(req.DisableBatch)
	if err != nil {
		return res, err
	}
	ri := -1
	for i := di + 1; i < len(history); i++ {
		if history[i].IsBulk && history[i].BulkKnown {
			ri = i
			break
		}
	}
	if ri < 0 {
		return res, perr.Fatalf(perr.ErrorCodeReconcile, "ambiguous gap: no bulk reload after disable batch %s", history[di].Identifier)
	}
	lo := 0
	for i := di - 1; i >= 0; i-- {
		if history[i].IsBulk && history[i].BulkKnown {
			lo = i
			break
		}
	}
	res.Disable, res.Reload = history[di], history[ri]
	logger.C(ctx).Info().
		Str("disable", res.Disable.Identifier).
		Str("reload", res.Reload.Identifier).
		Str("from", history[lo].Identifier).
		Msg("gap: reconciling")

	if err := run.loadPatients(lo, di); err != nil {
		return res, err
	}
	for _, gt := range def.Types {
		tr, recs, header, err := run.synthesize(gt, lo, di, ri)
		if err != nil {
			return res, err
		}
		res.Types = append(res.Types, tr)
		if req.DryRun || header == nil {
			continue
		}
		if err := run.writeDisable(gt.Type, history[di], header, recs); err != nil {
			return res, err
		}
		if err := r.RecordGapRun(ctx, domain.GapRun{
			Source: run.source, Org: req.Org, FileType: gt.Type,
			DisableBatchID: history[di].BatchID, ReloadBatchID: history[ri].BatchID,
			Synthesized: tr.Synthesized, RanAt: s.now(),
		}); err != nil {
			return res, err
		}
	}

	for i := di + 1; i < ri; i++ {
		res.Emptied = append(res.Emptied, history[i].Identifier)
		if req.DryRun {
			continue
		}
		if err := run.emptyAll(history[i]); err != nil {
			return res, err
		}
	}
	return res, nil
}

// dir is the committed split folder of a history entry
func (g *gapRun) dir(h domain.SplitRef) string {
	return filepath.Join(g.svc.Cfg.PermRoot, g.source, h.LocalPath)
}

// file returns the path of typ in h, preferring a pre-gap original; ok is false when absent
func (g *gapRun) file(h domain.SplitRef, typ string) (string, bool) {
	ents, err := os.ReadDir(g.dir(h))
	if err != nil {
		return "", false
	}
	for _, e := range ents {
		base := strings.TrimSuffix(e.Name(), preGapSuffix)
		if g.types[h.BatchID][base] != typ {
			continue
		}
		p := filepath.Join(g.dir(h), base)
		if _, err := os.Stat(p + preGapSuffix); err == nil {
			return p + preGapSuffix, true
		}
		return p, true
	}
	return "", false
}

// disablePoint finds the single batch where the organisation turns disabled
func (g *gapRun) disablePoint(pinned string) (int, error) {
	if pinned != "" {
		for i, h := range g.history {
			if h.Identifier == pinned {
				return i, nil
			}
		}
		return -1, perr.NotFoundf("disable batch %s not in history", pinned)
	}
	var points []int
	prev := false
	for i, h := range g.history {
		cur := prev
		if p, ok := g.file(h, g.def.AgreementType); ok {
			v, err := g.disabled(p)
			if err != nil {
				return -1, err
			}
			cur = v
		}
		if cur && !prev {
			points = append(points, i)
		}
		prev = cur
	}
	if len(points) == 0 {
		return -1, perr.NotFoundf("no disable point in %d batches", len(g.history))
	}
	if len(points) != 1 {
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = g.history[p].Identifier
		}
		return -1, perr.Fatalf(perr.ErrorCodeReconcile, "ambiguous gap: %d disable points %v", len(points), ids)
	}
	return points[0], nil
}

func (g *gapRun) disabled(path string) (bool, error) {
	found := false
	err := scan(path, g.format, []string{g.def.DisabledColumn}, func(_ []string, cols []int, rec []string) bool {
		v := strings.TrimSpace(delimited.Field(rec, cols[0]))
		if slices.ContainsFunc(g.def.DisabledValues, func(d string) bool { return strings.EqualFold(d, v) }) {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// loadPatients records patients whose latest state before the disable point is deleted or ended
func (g *gapRun) loadPatients(lo, di int) error {
	if g.def.PatientType == "" || g.def.PatientIDColumn == "" {
		return nil
	}
	seen := map[string]struct{}{}
	for i := di; i >= lo; i-- {
		p, ok := g.file(g.history[i], g.def.PatientType)
		if !ok {
			continue
		}
		cols := []string{g.def.PatientIDColumn}
		if g.def.PatientDeletedColumn != "" {
			cols = append(cols, g.def.PatientDeletedColumn)
		}
		if g.def.PatientEndColumn != "" {
			cols = append(cols, g.def.PatientEndColumn)
		}
		err := scan(p, g.format, cols, func(names []string, idx []int, rec []string) bool {
			id := delimited.Field(rec, idx[0])
			if _, done := seen[id]; done {
				return true
			}
			if i == di && g.def.PatientDeletedColumn != "" && truthy(delimited.Field(rec, idx[1])) {
				return true
			}
			seen[id] = struct{}{}
			for k := 1; k < len(names); k++ {
				v := strings.TrimSpace(delimited.Field(rec, idx[k]))
				gone := (names[k] == g.def.PatientDeletedColumn && truthy(v)) ||
					(names[k] == g.def.PatientEndColumn && v != "")
				if gone {
					g.excluded[id] = struct{}{}
					break
				}
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// synthesize builds the delete records of one type
func (g *gapRun) synthesize(gt sources.GapType, lo, di, ri int) (GapTypeResult, [][]string, []string, error) {
	tr := GapTypeResult{FileType: gt.Type}
	reload := map[string]struct{}{}
	if p, ok := g.file(g.history[ri], gt.Type); ok {
		err := scan(p, g.format, []string{gt.IDColumn}, func(_ []string, idx []int, rec []string) bool {
			reload[delimited.Field(rec, idx[0])] = struct{}{}
			return true
		})
		if err != nil {
			return tr, nil, nil, err
		}
	}

	var header []string
	var out [][]string
	seen := map[string]struct{}{}
	keep := slices.DeleteFunc(append(slices.Clone(gt.KeepColumns), gt.IDColumn, gt.PatientColumn), func(n string) bool { return n == "" })
	for i := di; i >= lo; i-- {
		p, ok := g.file(g.history[i], gt.Type)
		if !ok {
			continue
		}
		cols := []string{gt.IDColumn, gt.DeletedColumn}
		if gt.PatientColumn != "" {
			cols = append(cols, gt.PatientColumn)
		}
		// copy maps output column -> source column for this file's header
		var copyCols [][2]int
		delAt := -1
		err := scanWithHeader(p, g.format, cols, func(h []string, _ []int) error {
			if header == nil {
				header = slices.Clone(h)
			}
			copyCols = copyCols[:0]
			for _, name := range keep {
				dst, okd := delimited.Column(header, name)
				src, oks := delimited.Column(h, name)
				if okd && oks {
					copyCols = append(copyCols, [2]int{dst, src})
				}
			}
			var okd bool
			if delAt, okd = delimited.Column(header, gt.DeletedColumn); !okd {
				return perr.Fatalf(perr.ErrorCodeReconcile, "%s: column %q not found", filepath.Base(p), gt.DeletedColumn)
			}
			return nil
		}, func(_ []string, idx []int, rec []string) bool {
			tr.Scanned++
			id := delimited.Field(rec, idx[0])
			if _, dup := seen[id]; dup {
				return true
			}
			deleted := truthy(delimited.Field(rec, idx[1]))
			if deleted && i == di {
				return true
			}
			seen[id] = struct{}{}
			if deleted {
				return true
			}
			if _, ok := reload[id]; ok {
				return true
			}
			if len(idx) > 2 {
				if _, gone := g.excluded[delimited.Field(rec, idx[2])]; gone {
					return true
				}
			}
			del := make([]string, len(header))
			for _, c := range copyCols {
				del[c[0]] = delimited.Field(rec, c[1])
			}
			del[delAt] = "true"
			out = append(out, del)
			return true
		})
		if err != nil {
			return tr, nil, nil, err
		}
	}
	tr.Synthesized = len(out)
	return tr, out, header, nil
}

// writeDisable replaces the disable batch's file of typ, keeping the original once
func (g *gapRun) writeDisable(typ string, h domain.SplitRef, header []string, recs [][]string) error {
	p, ok := g.file(h, typ)
	if !ok {
		p = filepath.Join(g.dir(h), typ+".csv")
	}
	live := strings.TrimSuffix(p, preGapSuffix)
	if !strings.HasSuffix(p, preGapSuffix) && ok {
		if err := os.Rename(live, live+preGapSuffix); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeIO, "keep original %s", live)
		}
	}
	return delimited.WriteAll(live, g.format, header, recs)
}

// emptyAll truncates every data file of h to its header, keeping agreement files
func (g *gapRun) emptyAll(h domain.SplitRef) error {
	names := make([]string, 0, len(g.types[h.BatchID]))
	for name, typ := range g.types[h.BatchID] {
		if typ != g.def.AgreementType {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		p := filepath.Join(g.dir(h), name)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if _, err := delimited.Rewrite(p, g.format, func([]string) (bool, error) { return false, nil }); err != nil {
			return err
		}
	}
	return nil
}

// scan streams path resolving cols; each returning false stops early.
// A missing column is fatal
func scan(path string, f delimited.Format, cols []string, each func(names []string, idx []int, rec []string) bool) error {
	return scanWithHeader(path, f, cols, nil, each)
}

func scanWithHeader(path string, f delimited.Format, cols []string, onHeader func([]string, []int) error, each func([]string, []int, []string) bool) error {
	rd, err := delimited.Open(path, f)
	if err != nil {
		return err
	}
	defer rd.Close()
	idx, err := delimited.Columns(rd.Header(), cols)
	if err != nil {
		return perr.Fatal(perr.Wrapf(err, perr.ErrorCodeReconcile, "%s", filepath.Base(path)))
	}
	if onHeader != nil {
		if err := onHeader(rd.Header(), idx); err != nil {
			return err
		}
	}
	for {
		rec, err := rd.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !each(cols, idx, rec) {
			return nil
		}
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "y", "yes":
		return true
	}
	return false
}
