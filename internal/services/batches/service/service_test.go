package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/adapters/transport"
	"extractrelay/internal/adapters/transport/local"
	perr "extractrelay/internal/platform/errors"
	kit "extractrelay/internal/platform/testkit"
	"extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/batches/storage"
)

const key1 = "2024-01-01T00.00.00"

func testDef(inbox string) sources.Definition {
	return sources.Definition{
		Name:          "acme",
		Kind:          "pattern",
		Transport:     sources.Transport{Type: "local", Path: inbox},
		FilePattern:   `^(?P<type>[A-Z])_(?P<batch>\d{4}-\d{2}-\d{2}T\d{2}\.\d{2}\.\d{2})\.csv$`,
		BatchLayout:   "2006-01-02T15.04.05",
		RequiredTypes: []string{"A", "B", "C"},
		Split:         sources.SplitDef{Strategy: "metadata", FixedOrg: "ORG1"},
	}
}

type fixture struct {
	svc   *Service
	repo  *memRepo
	inbox string
	src   sources.Impl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	inbox := filepath.Join(root, "inbox")
	reg, err := sources.NewRegistry(testDef(inbox))
	if err != nil {
		t.Fatal(err)
	}
	src, _ := reg.Get("acme")
	repo := newMemRepo()
	open := func(_ context.Context, s sources.Impl) (transport.Transport, error) {
		return local.New(s.Def.Transport.Path), nil
	}
	svc := New(memDB{}, repo.binder(), reg, open, Config{
		Layout: storage.Layout{TempRoot: filepath.Join(root, "tmp"), PermRoot: filepath.Join(root, "perm")},
	}, nil)
	return &fixture{svc: svc, repo: repo, inbox: inbox, src: src}
}

func (f *fixture) drop(t *testing.T, types ...string) {
	t.Helper()
	for _, typ := range types {
		kit.WriteFile(t, f.inbox, typ+"_"+key1+".csv", "Id,Org\n1,ORG1\n")
	}
}

func (f *fixture) only(t *testing.T) domain.Batch {
	t.Helper()
	bs, _ := f.repo.RecentBatches(context.Background(), "acme", 10)
	if len(bs) != 1 {
		t.Fatalf("batches = %d, want 1", len(bs))
	}
	return bs[0]
}

func TestCycle_CompleteBatchSequencesAndSplits(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "A", "B", "C")

	att, err := f.svc.RunCycle(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if att.FilesDownloaded != 3 || att.ErrorText != "" || att.FinishedAt == nil {
		t.Fatalf("attempt = %+v", att)
	}
	b := f.only(t)
	if b.State != domain.StateSplit || b.SequenceNumber == nil || *b.SequenceNumber != 1 {
		t.Fatalf("batch = %+v", b)
	}
	if b.ExtractDate == nil || !b.ExtractDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("extract date = %v", b.ExtractDate)
	}
	splits, _ := f.repo.Splits(context.Background(), b.ID)
	if len(splits) != 1 {
		t.Fatalf("splits = %d", len(splits))
	}
	sp := splits[0]
	if sp.OrganisationID != "ORG1" || sp.IsBulk || sp.BulkKnown || !sp.Classified || !sp.Reconciled || sp.TotalBytes == 0 {
		t.Fatalf("split = %+v", sp)
	}

	// a second cycle finds nothing new and leaves the batch alone
	att, err = f.svc.RunCycle(context.Background(), "acme")
	if err != nil || att.FilesDownloaded != 0 {
		t.Fatalf("second cycle: %+v %v", att, err)
	}
	if f.only(t).State != domain.StateSplit {
		t.Fatal("state changed on idle cycle")
	}
}

func TestCycle_MissingTypeStaysRejected(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "A", "B")

	for i := 0; i < 2; i++ {
		att, err := f.svc.RunCycle(context.Background(), "acme")
		if err != nil {
			t.Fatal(err)
		}
		b := f.only(t)
		if b.State != domain.StateRejected {
			t.Fatalf("cycle %d: state = %s", i, b.State)
		}
		kit.MustContain(t, b.RejectReason, "missing file type C")
		kit.MustContain(t, att.ErrorText, "batch "+b.Identifier+" rejected: ")
		kit.MustContain(t, att.ErrorText, "missing file type C")
	}

	// the late file arrives and the batch goes through
	f.drop(t, "C")
	if _, err := f.svc.RunCycle(context.Background(), "acme"); err != nil {
		t.Fatal(err)
	}
	if b := f.only(t); b.State != domain.StateSplit {
		t.Fatalf("state = %s (%s)", b.State, b.RejectReason)
	}
}

func TestCycle_UnrecognisedFileRecorded(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "A", "B", "C")
	kit.WriteFile(t, f.inbox, "junk.txt", "x")

	att, err := f.svc.RunCycle(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	kit.MustContain(t, att.ErrorText, "junk.txt")
	if f.only(t).State != domain.StateSplit {
		t.Fatal("unrecognised file blocked the batch")
	}
}

func TestCycle_UnknownSource(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RunCycle(context.Background(), "nope"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	f.drop(t, "A", "B")
	if _, err := f.svc.RunCycle(context.Background(), "acme"); err != nil {
		t.Fatal(err)
	}
	b := f.only(t)

	if _, err := f.svc.Resolve(context.Background(), "acme", b.ID, "explode", ""); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("bad action err = %v", err)
	}
	got, err := f.svc.Resolve(context.Background(), "acme", b.ID, ActionRevalidate, "")
	if err != nil || got.State != domain.StateRejected {
		t.Fatalf("revalidate: %+v %v", got, err)
	}
	got, err = f.svc.Resolve(context.Background(), "acme", b.ID, ActionSupersede, "resent upstream")
	if err != nil || got.State != domain.StateSuperseded || got.RejectReason != "resent upstream" {
		t.Fatalf("supersede: %+v %v", got, err)
	}
	if _, err := f.svc.Resolve(context.Background(), "acme", b.ID, ActionSupersede, ""); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("second supersede err = %v", err)
	}
}

func TestAssemble_UniformConflictNamesFile(t *testing.T) {
	f := newFixture(t)
	mk := func(name, rng string) DownloadedFile {
		return DownloadedFile{
			Name: name,
			Parsed: sources.Parsed{FileType: strings.Split(name, "_")[0], BatchKey: key1, Needed: true,
				Uniform: map[string]string{"range": rng}},
		}
	}
	res, err := f.svc.Assemble(context.Background(), f.src, []DownloadedFile{
		mk("A_x.csv", "1"), mk("B_x.csv", "1"), mk("C_x.csv", "2"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || res.Files != 3 {
		t.Fatalf("res = %+v", res)
	}
	kit.MustContain(t, res.Errors[0].Error(), "C_x.csv")
	kit.MustContain(t, res.Errors[0].Error(), "inconsistent shared field range")
}
