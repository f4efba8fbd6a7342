package split

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/fanout"
	perr "extractrelay/internal/platform/errors"
)

// DefaultMaxOpen is the writer ceiling when none is configured
const DefaultMaxOpen = 1000

const recentDepth = 5

// ContentOptions configures a content split
type ContentOptions struct {
	Format  delimited.Format
	Columns []string // composite key columns, values joined with "_"
	OutDir  string
	MaxOpen int

	DropAdjacentDuplicates bool
	UnknownOrg             Policy
	// Known reports whether an organisation may receive data; nil accepts every non-empty key
	Known func(org string) bool
}

// ContentResult describes what a content split produced
type ContentResult struct {
	Orgs       []string // sorted
	Rows       int      // records written to partitions
	Duplicates int      // adjacent duplicates suppressed
	Unknown    int      // records dropped for an unrecognised organisation
	UnknownOrg []string // distinct unrecognised keys, sorted
	Pool       fanout.Stats
}

type partKey struct{ org, file string }

// Content streams every non-shared input into per-organisation files, then copies
// shared inputs into each discovered partition. Every partition ends up with one file
// per input; a partitioned input with no rows for an organisation yields a header-only file.
// On error the output directory is left as is and must not be promoted
func Content(ctx context.Context, opt ContentOptions, inputs []Input) (ContentResult, error) {
	var res ContentResult
	if len(opt.Columns) == 0 {
		return res, perr.InvalidArgf("content split needs at least one key column")
	}
	if opt.MaxOpen <= 0 {
		opt.MaxOpen = DefaultMaxOpen
	}
	if opt.UnknownOrg == "" {
		opt.UnknownOrg = PolicyDrop
	}
	if err := os.MkdirAll(opt.OutDir, 0o755); err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeIO, "mkdir %s", opt.OutDir)
	}

	headers := map[string][]string{}
	pool, err := fanout.New[partKey, *delimited.Writer](opt.MaxOpen,
		func(k partKey, reopen bool) (*delimited.Writer, error) {
			dir := PartitionDir(opt.OutDir, k.org)
			if !reopen {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, perr.Wrapf(err, perr.ErrorCodeIO, "mkdir %s", dir)
				}
			}
			w, err := delimited.Create(filepath.Join(dir, k.file), opt.Format, reopen)
			if err != nil {
				return nil, err
			}
			if h := headers[k.file]; !reopen && h != nil {
				if err := w.Write(h); err != nil {
					_ = w.Close()
					return nil, err
				}
			}
			return w, nil
		},
		func(_ partKey, w *delimited.Writer) error { return w.Close() })
	if err != nil {
		return res, err
	}

	orgs := map[string]struct{}{}
	unknown := map[string]struct{}{}
	var partitioned []Input
	for _, in := range inputs {
		if in.Shared {
			continue
		}
		partitioned = append(partitioned, in)
		n, err := splitOne(ctx, opt, in, pool, headers, orgs, unknown, &res)
		res.Rows += n
		if err != nil {
			_ = pool.Close()
			res.Pool = pool.Stats()
			return res, err
		}
	}
	res.Pool = pool.Stats()
	if err := pool.Close(); err != nil {
		return res, perr.Wrap(err, perr.ErrorCodeSplit, "close partition writers")
	}

	res.Orgs = sortedKeys(orgs)
	res.UnknownOrg = sortedKeys(unknown)

	for _, org := range res.Orgs {
		dir := PartitionDir(opt.OutDir, org)
		for _, in := range partitioned {
			p := filepath.Join(dir, in.Name)
			if _, err := os.Stat(p); err == nil {
				continue
			}
			if err := headerOnly(p, opt.Format, headers[in.Name]); err != nil {
				return res, err
			}
		}
		for _, in := range inputs {
			if !in.Shared {
				continue
			}
			if err := copyFile(in.Path, filepath.Join(dir, in.Name)); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func splitOne(
	ctx context.Context,
	opt ContentOptions,
	in Input,
	pool *fanout.Pool[partKey, *delimited.Writer],
	headers map[string][]string,
	orgs, unknown map[string]struct{},
	res *ContentResult,
) (int, error) {
	r, err := delimited.Open(in.Path, opt.Format)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	headers[in.Name] = r.Header()
	cols, err := keyColumns(r.Header(), opt.Columns)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeSplit, "split %s", in.Name)
	}

	var (
		recent  = make([]string, 0, recentDepth)
		prev    []string
		written int
		parts   = make([]string, len(cols))
		sep     = string(delim(opt.Format))
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, perr.Wrapf(err, perr.ErrorCodeSplit, "split %s: %s", in.Name, recentText(recent))
		}
		if r.Line()%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}

		recent = pushRecent(recent, strings.Join(rec, sep))

		if opt.DropAdjacentDuplicates && prev != nil && slices.Equal(prev, rec) {
			res.Duplicates++
			continue
		}
		prev = rec

		for i, c := range cols {
			if c >= len(rec) {
				return written, perr.Newf(perr.ErrorCodeSplit,
					"split %s: record %d has %d fields, key column %q is at %d; last records: %s",
					in.Name, r.Line(), len(rec), opt.Columns[i], c, recentText(recent))
			}
			parts[i] = strings.TrimSpace(rec[c])
		}
		org := strings.Join(parts, "_")

		if !validKey(org) || (opt.Known != nil && !opt.Known(org)) {
			if opt.UnknownOrg == PolicyFail {
				return written, perr.Newf(perr.ErrorCodeSplit,
					"split %s: record %d has unrecognised organisation %q", in.Name, r.Line(), org)
			}
			res.Unknown++
			unknown[org] = struct{}{}
			continue
		}

		w, err := pool.Get(partKey{org: org, file: in.Name})
		if err != nil {
			return written, perr.Wrapf(err, perr.ErrorCodeSplit, "split %s", in.Name)
		}
		if err := w.Write(rec); err != nil {
			return written, err
		}
		orgs[org] = struct{}{}
		written++
	}
}

func keyColumns(header, names []string) ([]int, error) {
	if header != nil {
		return delimited.Columns(header, names)
	}
	// headerless formats name key columns by zero-based position
	out := make([]int, len(names))
	for i, n := range names {
		var idx int
		for _, ch := range n {
			if ch < '0' || ch > '9' {
				return nil, perr.Newf(perr.ErrorCodeParse, "headerless key column %q must be a position", n)
			}
			idx = idx*10 + int(ch-'0')
		}
		out[i] = idx
	}
	return out, nil
}

func delim(f delimited.Format) rune {
	if f.Delimiter == 0 {
		return ','
	}
	return f.Delimiter
}

func pushRecent(buf []string, line string) []string {
	if len(buf) == recentDepth {
		copy(buf, buf[1:])
		buf = buf[:recentDepth-1]
	}
	return append(buf, line)
}

func recentText(buf []string) string {
	if len(buf) == 0 {
		return "(no records read)"
	}
	return "[" + strings.Join(buf, "] [") + "]"
}

func headerOnly(path string, f delimited.Format, header []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "mkdir for %s", path)
	}
	w, err := delimited.Create(path, f, false)
	if err != nil {
		return err
	}
	if header != nil {
		if err := w.Write(header); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
