// Package detect annotates a partition: whether it is a bulk load, its nominal
// extract date and the latest event timestamp inside it. Nothing here fails a batch;
// when a value cannot be computed the result is opt.None
package detect

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/opt"
	"extractrelay/internal/platform/logger"
)

// BulkRules is the per-source bulk heuristic. Any part left empty is not used
type BulkRules struct {
	// ManifestType names a control file whose first record carries ManifestColumn
	ManifestType   string
	ManifestColumn string

	// ReferenceType names a file whose rows must all be adds for a bulk
	ReferenceType string
	ActionColumn  string
	AddValues     []string
	DeletedColumn string

	// MinRows is the reference row count below which bulk is implausible
	MinRows int
}

func (r BulkRules) configured() bool { return r.ManifestType != "" || r.ReferenceType != "" }

// Classifier decides bulk versus delta for one partition
type Classifier struct {
	Rules  BulkRules
	Format delimited.Format
}

// Classify inspects files (file type -> path). It reports None when the source
// has no rules or none of the designated files is present
func (c Classifier) Classify(ctx context.Context, files map[string]string) opt.Value[bool] {
	log := logger.C(ctx)
	if !c.Rules.configured() {
		return opt.None[bool]()
	}

	decided, bulk := false, false
	if p, ok := files[c.Rules.ManifestType]; ok && c.Rules.ManifestType != "" {
		v, err := c.manifest(p)
		if err != nil {
			log.Warn().Err(err).Str("file", p).Msg("bulk manifest unreadable")
		} else {
			decided, bulk = true, v
		}
	}

	rows := -1
	if p, ok := files[c.Rules.ReferenceType]; ok && c.Rules.ReferenceType != "" {
		n, clean, err := c.reference(p)
		if err != nil {
			log.Warn().Err(err).Str("file", p).Msg("bulk reference scan failed")
		} else {
			rows = n
			if !decided {
				decided, bulk = true, clean
			}
		}
	}

	if !decided {
		return opt.None[bool]()
	}
	if bulk && c.Rules.MinRows > 0 && rows >= 0 && rows < c.Rules.MinRows {
		log.Info().Int("rows", rows).Int("min_rows", c.Rules.MinRows).Msg("bulk rejected as implausibly small")
		bulk = false
	}
	return opt.Some(bulk)
}

func (c Classifier) manifest(path string) (bool, error) {
	r, err := delimited.Open(path, c.Format)
	if err != nil {
		return false, err
	}
	defer r.Close()
	idx, err := columnIndex(r.Header(), c.Rules.ManifestColumn)
	if err != nil {
		return false, err
	}
	rec, err := r.Read()
	if err != nil {
		return false, err
	}
	return truthy(delimited.Field(rec, idx)), nil
}

// reference counts rows and reports whether every one is a non-deleted add
func (c Classifier) reference(path string) (int, bool, error) {
	r, err := delimited.Open(path, c.Format)
	if err != nil {
		return 0, false, err
	}
	defer r.Close()

	action, deleted := -1, -1
	if c.Rules.ActionColumn != "" {
		if action, err = columnIndex(r.Header(), c.Rules.ActionColumn); err != nil {
			return 0, false, err
		}
	}
	if c.Rules.DeletedColumn != "" {
		if deleted, err = columnIndex(r.Header(), c.Rules.DeletedColumn); err != nil {
			return 0, false, err
		}
	}

	n, clean := 0, true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, clean, nil
		}
		if err != nil {
			return n, false, err
		}
		n++
		if !clean {
			continue
		}
		if action >= 0 && len(c.Rules.AddValues) > 0 {
			v := strings.TrimSpace(delimited.Field(rec, action))
			if !slices.ContainsFunc(c.Rules.AddValues, func(a string) bool { return strings.EqualFold(a, v) }) {
				clean = false
			}
		}
		if deleted >= 0 && truthy(delimited.Field(rec, deleted)) {
			clean = false
		}
	}
}

func columnIndex(header []string, name string) (int, error) {
	idx, err := delimited.Columns(header, []string{name})
	if err != nil {
		return -1, err
	}
	return idx[0], nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}
