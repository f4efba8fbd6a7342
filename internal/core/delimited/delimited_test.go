package delimited

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	perr "extractrelay/internal/platform/errors"
	kit "extractrelay/internal/platform/testkit"
)

func TestOpen_StripsBOMAndReadsHeader(t *testing.T) {
	p := kit.WriteFile(t, t.TempDir(), "Patient.csv", "\ufeffPatientGuid,OrgId\nP1,O1\nP2,\"O,2\"\n")
	r, err := Open(p, Default)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if !reflect.DeepEqual(r.Header(), []string{"PatientGuid", "OrgId"}) {
		t.Fatalf("header = %q", r.Header())
	}
	var recs [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		recs = append(recs, rec)
	}
	if len(recs) != 2 || recs[1][1] != "O,2" || r.Line() != 2 {
		t.Fatalf("records = %q line=%d", recs, r.Line())
	}
}

func TestOpen_Windows1252(t *testing.T) {
	// 0xE9 is e-acute in windows-1252
	p := filepath.Join(t.TempDir(), "a.csv")
	if err := os.WriteFile(p, []byte("Name\nRen\xe9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(p, Format{Delimiter: ',', Header: true, Encoding: "windows-1252"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rec, err := r.Read()
	if err != nil || rec[0] != "René" {
		t.Fatalf("rec = %q err = %v", rec, err)
	}
}

func TestOpen_EmptyFile(t *testing.T) {
	p := kit.WriteFile(t, t.TempDir(), "e.csv", "")
	r, err := Open(p, Default)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Header() != nil {
		t.Fatalf("empty file has no header")
	}
}

func TestWriter_AppendMode(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.csv")
	w, err := Create(p, Format{Delimiter: '|'}, false)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Write([]string{"a", "b"})
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	w, err = Create(p, Format{Delimiter: '|'}, true)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Write([]string{"c", "d"})
	_ = w.Close()
	if got := kit.ReadLines(t, p); !reflect.DeepEqual(got, []string{"a|b", "c|d"}) {
		t.Fatalf("lines = %q", got)
	}
}

func TestColumns(t *testing.T) {
	h := []string{" ObservationGuid", "patientguid"}
	idx, err := Columns(h, []string{"PatientGuid", "observationguid"})
	if err != nil || !reflect.DeepEqual(idx, []int{1, 0}) {
		t.Fatalf("Columns = %v, %v", idx, err)
	}
	_, err = Columns(h, []string{"Missing"})
	if perr.CodeOf(err) != perr.ErrorCodeParse || !strings.Contains(err.Error(), "Missing") {
		t.Fatalf("missing column err = %v", err)
	}
	if Field([]string{"a"}, 3) != "" {
		t.Fatalf("Field out of range")
	}
}

func TestRewrite(t *testing.T) {
	p := kit.WriteFile(t, t.TempDir(), "o.csv", "id,v\n1,a\n2,b\n3,c\n")
	kept, err := Rewrite(p, Default, func(rec []string) (bool, error) { return rec[0] != "2", nil })
	if err != nil || kept != 2 {
		t.Fatalf("Rewrite = %d, %v", kept, err)
	}
	if got := kit.ReadLines(t, p); !reflect.DeepEqual(got, []string{"id,v", "1,a", "3,c"}) {
		t.Fatalf("lines = %q", got)
	}
	if _, err := os.Stat(p + ".part"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
	n, err := CountRows(p, Default)
	if err != nil || n != 2 {
		t.Fatalf("CountRows = %d, %v", n, err)
	}
}

func TestFilterToAndWriteAll(t *testing.T) {
	dir := t.TempDir()
	src := kit.WriteFile(t, dir, "o.csv", "id,v\n1,a\n2,b\n")
	dst := filepath.Join(dir, "o.kept")
	kept, err := FilterTo(src, dst, Default, func(rec []string) (bool, error) { return rec[0] == "2", nil })
	if err != nil || kept != 1 {
		t.Fatalf("FilterTo = %d, %v", kept, err)
	}
	if got := kit.ReadLines(t, src); len(got) != 3 {
		t.Fatalf("source must be untouched: %q", got)
	}
	if got := kit.ReadLines(t, dst); !reflect.DeepEqual(got, []string{"id,v", "2,b"}) {
		t.Fatalf("dst = %q", got)
	}

	out := filepath.Join(dir, "w.csv")
	if err := WriteAll(out, Default, []string{"id", "v"}, [][]string{{"9", "z,z"}}); err != nil {
		t.Fatal(err)
	}
	if got := kit.ReadLines(t, out); !reflect.DeepEqual(got, []string{"id,v", `9,"z,z"`}) {
		t.Fatalf("WriteAll = %q", got)
	}
}
