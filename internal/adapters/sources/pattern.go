package sources

import (
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	perr "extractrelay/internal/platform/errors"
)

func init() {
	Register("pattern", newPattern)
	Register("partitioned", newPartitioned)
}

// patternAdapter reads type, batch key and organisation from named groups of one
// regular expression over the base filename. Any other named group is a value the
// whole batch must agree on
type patternAdapter struct {
	def     Definition
	re      *regexp.Regexp
	skip    *regexp.Regexp
	allowed map[string]struct{}
	// nested batches are directories: <batch>/<file>
	nested bool
}

func compile(def Definition, nested bool) (*patternAdapter, error) {
	re, err := regexp.Compile(def.FilePattern)
	if err != nil {
		return nil, perr.WithField(perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "source %s", def.Name), "file_pattern")
	}
	if !slices.Contains(re.SubexpNames(), "type") {
		return nil, perr.WithField(perr.InvalidArgf("source %s: file_pattern needs a (?P<type>...) group", def.Name), "file_pattern")
	}
	if !nested && !slices.Contains(re.SubexpNames(), "batch") {
		return nil, perr.WithField(perr.InvalidArgf("source %s: file_pattern needs a (?P<batch>...) group", def.Name), "file_pattern")
	}
	a := &patternAdapter{def: def, re: re, nested: nested, allowed: map[string]struct{}{}}
	if def.SkipPattern != "" {
		if a.skip, err = regexp.Compile(def.SkipPattern); err != nil {
			return nil, perr.WithField(perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "source %s", def.Name), "skip_pattern")
		}
	}
	for _, t := range def.RequiredTypes {
		a.allowed[t] = struct{}{}
	}
	for _, t := range def.OptionalTypes {
		a.allowed[t] = struct{}{}
	}
	return a, nil
}

func newPattern(def Definition) (Impl, error) {
	a, err := compile(def, false)
	if err != nil {
		return Impl{}, err
	}
	return standard(def, a)
}

func newPartitioned(def Definition) (Impl, error) {
	a, err := compile(def, true)
	if err != nil {
		return Impl{}, err
	}
	return standard(def, a)
}

func (a *patternAdapter) Parse(filename string, _ ParseContext) (Parsed, error) {
	dir, base := path.Split(strings.TrimPrefix(filename, "/"))
	dir = strings.Trim(dir, "/")

	m := a.re.FindStringSubmatch(base)
	if m == nil {
		return Parsed{}, perr.Newf(perr.ErrorCodeParse, "%s: filename not recognised", filename)
	}
	p := Parsed{Needed: true, Uniform: map[string]string{}}
	for i, name := range a.re.SubexpNames() {
		switch name {
		case "":
		case "type":
			p.FileType = m[i]
		case "batch":
			p.BatchKey = m[i]
		case "org":
			p.Org = m[i]
		default:
			p.Uniform[name] = m[i]
		}
	}

	if a.nested {
		if dir == "" {
			return Parsed{}, perr.Newf(perr.ErrorCodeParse, "%s: expected <batch>/<file>", filename)
		}
		if p.BatchKey != "" && p.BatchKey != path.Base(dir) {
			return Parsed{}, perr.Newf(perr.ErrorCodeParse, "%s: batch %q in name disagrees with directory %q", filename, p.BatchKey, path.Base(dir))
		}
		p.BatchKey = path.Base(dir)
	}
	if p.FileType == "" || p.BatchKey == "" {
		return Parsed{}, perr.Newf(perr.ErrorCodeParse, "%s: empty file type or batch key", filename)
	}
	if _, ok := a.allowed[p.FileType]; !ok {
		return p, perr.Newf(perr.ErrorCodeParse, "%s: unexpected file type %s", filename, p.FileType)
	}
	if a.skip != nil && a.skip.MatchString(base) {
		p.Needed = false
	}
	return p, nil
}

// OrgOf returns the org group of a base filename
func (a *patternAdapter) OrgOf(base string) (string, bool) {
	i := a.re.SubexpIndex("org")
	if i < 0 {
		return "", false
	}
	m := a.re.FindStringSubmatch(base)
	if m == nil || m[i] == "" {
		return "", false
	}
	return m[i], true
}

func (a *patternAdapter) RequiredFileTypes() []string { return slices.Clone(a.def.RequiredTypes) }

func (a *patternAdapter) IgnoreUnrecognised() bool { return a.def.IgnoreUnrecognised }

func (a *patternAdapter) SortKey(batchKey string) (time.Time, error) {
	t, err := time.ParseInLocation(a.def.BatchLayout, batchKey, time.UTC)
	if err != nil {
		return time.Time{}, perr.Wrapf(err, perr.ErrorCodeParse, "batch key %q does not match layout %q", batchKey, a.def.BatchLayout)
	}
	return t, nil
}
