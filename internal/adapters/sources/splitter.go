package sources

import (
	"context"
	"slices"

	"extractrelay/internal/core/split"
)

type contentSplitter struct {
	def   Definition
	types map[string]bool // partitioned file types; empty means all
	opts  split.ContentOptions
	known map[string]struct{}
}

type metadataSplitter struct {
	def   Definition
	orgOf func(base string) (string, bool)
}

// orgNamer is implemented by adapters whose filenames carry an organisation code
type orgNamer interface {
	OrgOf(base string) (string, bool)
}

func newSplitter(def Definition, a FormatAdapter) (Splitter, error) {
	if def.Split.Strategy == "metadata" {
		ms := metadataSplitter{def: def}
		if n, ok := a.(orgNamer); ok {
			ms.orgOf = n.OrgOf
		}
		return ms, nil
	}
	policy, err := split.ParsePolicy(def.Split.UnknownOrg)
	if err != nil {
		return nil, err
	}
	cs := contentSplitter{
		def:   def,
		types: map[string]bool{},
		opts: split.ContentOptions{
			Format:                 def.Format(),
			Columns:                def.Split.Columns,
			MaxOpen:                def.Split.MaxOpen,
			DropAdjacentDuplicates: def.Split.DropAdjacentDuplicates,
			UnknownOrg:             policy,
		},
	}
	for _, t := range def.Split.Files {
		cs.types[t] = true
	}
	if len(def.Split.KnownOrgs) > 0 {
		cs.known = map[string]struct{}{}
		for _, o := range def.Split.KnownOrgs {
			cs.known[o] = struct{}{}
		}
		cs.opts.Known = func(org string) bool { _, ok := cs.known[org]; return ok }
	}
	return cs, nil
}

func (c contentSplitter) Split(ctx context.Context, outDir string, files []split.Input) (SplitReport, error) {
	opts := c.opts
	opts.OutDir = outDir
	in := slices.Clone(files)
	for i := range in {
		if len(c.types) > 0 && !c.types[in[i].Type] {
			in[i].Shared = true
		}
	}
	res, err := split.Content(ctx, opts, in)
	return SplitReport{
		Orgs:        res.Orgs,
		Rows:        res.Rows,
		Duplicates:  res.Duplicates,
		DroppedRows: res.Unknown,
		DroppedOrgs: res.UnknownOrg,
		MaxOpen:     res.Pool.MaxOpen,
	}, err
}

func (m metadataSplitter) Split(_ context.Context, outDir string, files []split.Input) (SplitReport, error) {
	orgs, err := split.Metadata(split.MetadataOptions{
		OutDir:   outDir,
		FixedOrg: m.def.Split.FixedOrg,
		OrgOf:    m.orgOf,
	}, files)
	return SplitReport{Orgs: orgs}, err
}
