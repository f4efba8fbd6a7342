package detect

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"extractrelay/internal/core/delimited"
	"extractrelay/internal/core/opt"
	"extractrelay/internal/platform/logger"
)

// ExtractDate parses the nominal extract time from a batch identifier
func ExtractDate(batchKey, layout string) opt.Value[time.Time] {
	if layout == "" {
		return opt.None[time.Time]()
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(batchKey), time.UTC)
	if err != nil {
		return opt.None[time.Time]()
	}
	return opt.Some(t)
}

// CutoffSpec names a file type and the timestamp columns to scan in it
type CutoffSpec struct {
	Type    string   `yaml:"type" validate:"required"`
	Columns []string `yaml:"columns" validate:"required,min=1"`
	Layouts []string `yaml:"layouts" validate:"required,min=1"`
}

// Cutoff streams the designated files (file type -> path) and returns the latest
// parseable timestamp. Empty or malformed values and absent columns are skipped
func Cutoff(ctx context.Context, files map[string]string, specs []CutoffSpec, f delimited.Format) opt.Value[time.Time] {
	var (
		best  time.Time
		found bool
	)
	for _, s := range specs {
		p, ok := files[s.Type]
		if !ok {
			continue
		}
		t, ok, err := scanMax(p, s, f)
		if err != nil {
			logger.C(ctx).Warn().Err(err).Str("file", p).Msg("cutoff scan stopped early")
		}
		if ok && (!found || t.After(best)) {
			best, found = t, true
		}
	}
	if !found {
		return opt.None[time.Time]()
	}
	return opt.Some(best)
}

func scanMax(path string, s CutoffSpec, f delimited.Format) (time.Time, bool, error) {
	var (
		best  time.Time
		found bool
	)
	r, err := delimited.Open(path, f)
	if err != nil {
		return best, false, err
	}
	defer r.Close()

	var cols []int
	for _, name := range s.Columns {
		if i, ok := delimited.Column(r.Header(), name); ok {
			cols = append(cols, i)
		}
	}
	if len(cols) == 0 {
		return best, false, nil
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return best, found, nil
		}
		if err != nil {
			return best, found, err
		}
		for _, c := range cols {
			t, ok := parseAny(delimited.Field(rec, c), s.Layouts)
			if ok && (!found || t.After(best)) {
				best, found = t, true
			}
		}
	}
}

func parseAny(v string, layouts []string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
