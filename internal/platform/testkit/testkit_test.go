package testkit

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestPanics(t *testing.T) {
	MustPanic(t, func() { panic("boom") })
	MustNotPanic(t, func() {})
	MustContain(t, "alpha beta", "beta")
}

func TestWriteAndReadLines(t *testing.T) {
	dir := t.TempDir()
	p := WriteFile(t, dir, "a/b.csv", "h1,h2\r\n1,2\r\n\r\n")
	if p != filepath.Join(dir, "a", "b.csv") {
		t.Fatalf("path = %s", p)
	}
	if got := ReadLines(t, p); !reflect.DeepEqual(got, []string{"h1,h2", "1,2"}) {
		t.Fatalf("ReadLines = %q", got)
	}
}
