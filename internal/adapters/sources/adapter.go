// Package sources turns a source definition into the strategies the batch pipeline
// runs for it: a filename adapter, a splitter, a bulk classifier and a date detector.
// Kinds are registered by tag at init; adding a source format means registering a kind
package sources

import (
	"context"
	"sort"
	"sync"
	"time"

	"extractrelay/internal/core/detect"
	"extractrelay/internal/core/opt"
	"extractrelay/internal/core/split"
	perr "extractrelay/internal/platform/errors"
)

// ParseContext carries what an adapter may need beyond the filename
type ParseContext struct {
	Source string
	Now    time.Time
}

// Parsed is the adapter's reading of one remote filename
type Parsed struct {
	FileType string
	BatchKey string
	// Needed is false for files that are recorded but take no part in completeness
	Needed bool
	// Org is the organisation code carried by the filename, if any
	Org string
	// Uniform holds values every file of the batch must agree on
	Uniform map[string]string
}

// FormatAdapter understands one source's file naming
type FormatAdapter interface {
	// Parse classifies filename. An unrecognised name is a Parse error
	Parse(filename string, pc ParseContext) (Parsed, error)
	RequiredFileTypes() []string
	IgnoreUnrecognised() bool
	// SortKey orders batches by the time encoded in their key
	SortKey(batchKey string) (time.Time, error)
}

// SplitReport summarises one split operation
type SplitReport struct {
	Orgs        []string
	Rows        int
	Duplicates  int
	DroppedRows int
	DroppedOrgs []string
	MaxOpen     int
}

// Splitter partitions a batch's files into outDir/<org>/
type Splitter interface {
	Split(ctx context.Context, outDir string, files []split.Input) (SplitReport, error)
}

// BulkClassifier decides bulk versus delta for a partition (file type -> path)
type BulkClassifier interface {
	Classify(ctx context.Context, files map[string]string) opt.Value[bool]
}

// DateDetector derives the nominal extract date and the content cutoff
type DateDetector interface {
	ExtractDate(batchKey string) opt.Value[time.Time]
	Cutoff(ctx context.Context, files map[string]string) opt.Value[time.Time]
}

// Impl is the strategy set for one configured source
type Impl struct {
	Def      Definition
	Adapter  FormatAdapter
	Splitter Splitter
	Bulk     BulkClassifier
	Dates    DateDetector
}

// Factory builds the strategy set for a definition of its kind
type Factory func(def Definition) (Impl, error)

var (
	regMu sync.RWMutex
	reg   = map[string]Factory{}
)

// Register binds kind to f. Registering a kind twice panics
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := reg[kind]; dup {
		panic("sources: kind registered twice: " + kind)
	}
	reg[kind] = f
}

// Kinds lists the registered kinds
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build assembles the strategy set for def
func Build(def Definition) (Impl, error) {
	regMu.RLock()
	f, ok := reg[def.Kind]
	regMu.RUnlock()
	if !ok {
		return Impl{}, perr.WithField(perr.InvalidArgf("source %s: unknown kind %q (have %v)", def.Name, def.Kind, Kinds()), "kind")
	}
	return f(def.withDefaults())
}

// standard wires the shared splitter, classifier and detector around an adapter
func standard(def Definition, a FormatAdapter) (Impl, error) {
	sp, err := newSplitter(def, a)
	if err != nil {
		return Impl{}, err
	}
	return Impl{
		Def:      def,
		Adapter:  a,
		Splitter: sp,
		Bulk:     detect.Classifier{Rules: def.Bulk.Rules(), Format: def.Format()},
		Dates:    dateDetector{def: def},
	}, nil
}

type dateDetector struct{ def Definition }

func (d dateDetector) ExtractDate(batchKey string) opt.Value[time.Time] {
	return detect.ExtractDate(batchKey, d.def.BatchLayout)
}

func (d dateDetector) Cutoff(ctx context.Context, files map[string]string) opt.Value[time.Time] {
	return detect.Cutoff(ctx, files, d.def.Cutoff, d.def.Format())
}
