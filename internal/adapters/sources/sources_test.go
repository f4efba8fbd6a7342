package sources

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"extractrelay/internal/core/split"
	perr "extractrelay/internal/platform/errors"
	kit "extractrelay/internal/platform/testkit"
)

const doc = `
sources:
  - name: acme
    kind: pattern
    poll_interval: 2m
    transport: {type: local, path: /srv/inbox/acme}
    file_pattern: '^(?P<type>[A-Za-z]+)_(?P<batch>\d{4}-\d{2}-\d{2}T\d{2}\.\d{2}\.\d{2})(?:_(?P<range>\d+))?\.csv$'
    skip_pattern: '^Test'
    batch_layout: '2006-01-02T15.04.05'
    required_types: [A, B, C]
    optional_types: [Manifest]
    split:
      strategy: content
      columns: [OrgId]
    delivery:
      endpoint: https://consumer.example/ingest
  - name: nested
    kind: partitioned
    transport: {type: gcs, bucket: drop}
    file_pattern: '^(?P<type>[A-Za-z]+)_(?P<org>[A-Z0-9]+)\.csv$'
    batch_layout: '20060102'
    required_types: [Patient]
    split: {strategy: metadata}
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(r.Names(), []string{"acme", "nested"}) {
		t.Fatalf("names = %v", r.Names())
	}
	acme, _ := r.Get("acme")
	if acme.Def.PollInterval != 2*time.Minute || acme.Def.Delivery.AgreementField != "hasAgreement" || acme.Def.Split.UnknownOrg != "drop" {
		t.Fatalf("defaults not applied: %+v", acme.Def)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown source found")
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		code perr.ErrorCode
	}{
		{"unknown field", "sources:\n  - name: x\n    bogus: 1\n", perr.ErrorCodeParse},
		{"no sources", "sources: []\n", perr.ErrorCodeValidation},
		{"bad regexp", "sources:\n  - {name: x, kind: pattern, transport: {type: local, path: /x}, file_pattern: '(', batch_layout: x, required_types: [A], split: {strategy: metadata}}\n", perr.ErrorCodeValidation},
		{"unknown kind", "sources:\n  - {name: x, kind: sftp, transport: {type: local, path: /x}, file_pattern: '(?P<type>a)(?P<batch>b)', batch_layout: x, required_types: [A], split: {strategy: metadata}}\n", perr.ErrorCodeInvalidArgument},
		{"content without columns", "sources:\n  - {name: x, kind: pattern, transport: {type: local, path: /x}, file_pattern: '(?P<type>a)(?P<batch>b)', batch_layout: x, required_types: [A], split: {strategy: content}}\n", perr.ErrorCodeValidation},
		{"missing batch group", "sources:\n  - {name: x, kind: pattern, transport: {type: local, path: /x}, file_pattern: '(?P<type>a)', batch_layout: x, required_types: [A], split: {strategy: metadata}}\n", perr.ErrorCodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if perr.CodeOf(err) != tc.code {
				t.Fatalf("code = %v (%v), want %v", perr.CodeOf(err), err, tc.code)
			}
		})
	}
}

func TestPatternAdapter_Parse(t *testing.T) {
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	a := mustGet(t, r, "acme").Adapter

	p, err := a.Parse("A_2024-01-01T00.00.00_7.csv", ParseContext{})
	if err != nil {
		t.Fatal(err)
	}
	if p.FileType != "A" || p.BatchKey != "2024-01-01T00.00.00" || !p.Needed || p.Uniform["range"] != "7" {
		t.Fatalf("parsed = %+v", p)
	}
	if p, _ := a.Parse("Test_2024-01-01T00.00.00.csv", ParseContext{}); p.Needed {
		t.Fatalf("skip pattern ignored")
	}
	if _, err := a.Parse("Z_2024-01-01T00.00.00.csv", ParseContext{}); !perr.IsCode(err, perr.ErrorCodeParse) {
		t.Fatalf("unexpected type must be a parse error, got %v", err)
	}
	if _, err := a.Parse("readme.txt", ParseContext{}); !perr.IsCode(err, perr.ErrorCodeParse) {
		t.Fatalf("unmatched name must be a parse error, got %v", err)
	}
	ts, err := a.SortKey("2024-01-01T00.00.00")
	if err != nil || !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("SortKey = %v %v", ts, err)
	}
}

func TestPartitionedAdapter(t *testing.T) {
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	impl := mustGet(t, r, "nested")
	p, err := impl.Adapter.Parse("20240101/Patient_ORG1.csv", ParseContext{})
	if err != nil || p.BatchKey != "20240101" || p.Org != "ORG1" {
		t.Fatalf("parsed = %+v, %v", p, err)
	}
	if _, err := impl.Adapter.Parse("Patient_ORG1.csv", ParseContext{}); err == nil {
		t.Fatal("flat name must fail for a partitioned source")
	}

	dir := t.TempDir()
	in := []split.Input{
		{Type: "Patient", Name: "Patient_ORG1.csv", Path: kit.WriteFile(t, dir, "Patient_ORG1.csv", "a\n")},
		{Type: "Patient", Name: "Patient_ORG2.csv", Path: kit.WriteFile(t, dir, "Patient_ORG2.csv", "b\n")},
	}
	rep, err := impl.Splitter.Split(context.Background(), filepath.Join(dir, "Split"), in)
	if err != nil || !slices.Equal(rep.Orgs, []string{"ORG1", "ORG2"}) {
		t.Fatalf("split = %+v, %v", rep, err)
	}
}

func TestContentSplitter_SharedTypes(t *testing.T) {
	def := Definition{
		Name: "s", Kind: "pattern", Transport: Transport{Type: "local", Path: "/x"},
		FilePattern: `^(?P<type>\w+)_(?P<batch>\d+)\.csv$`, BatchLayout: "20060102",
		RequiredTypes: []string{"Obs", "Codes"},
		Split:         SplitDef{Strategy: "content", Columns: []string{"Org"}, Files: []string{"Obs"}},
	}
	r, err := NewRegistry(def)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	in := []split.Input{
		{Type: "Obs", Name: "Obs_1.csv", Path: kit.WriteFile(t, dir, "Obs_1.csv", "Id,Org\n1,A\n2,B\n")},
		{Type: "Codes", Name: "Codes_1.csv", Path: kit.WriteFile(t, dir, "Codes_1.csv", "Code\nx\n")},
	}
	out := filepath.Join(dir, "Split")
	rep, err := mustGet(t, r, "s").Splitter.Split(context.Background(), out, in)
	if err != nil || rep.Rows != 2 {
		t.Fatalf("split = %+v, %v", rep, err)
	}
	if lines := kit.ReadLines(t, filepath.Join(out, "B", "Codes_1.csv")); len(lines) != 2 {
		t.Fatalf("shared file not copied: %v", lines)
	}
}

func mustGet(t *testing.T, r *Registry, name string) Impl {
	t.Helper()
	impl, ok := r.Get(name)
	if !ok {
		t.Fatalf("source %s not found", name)
	}
	return impl
}
