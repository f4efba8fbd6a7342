package modkit

import (
	"bytes"
	"testing"

	phttp "extractrelay/internal/platform/net/http"

	"github.com/rs/zerolog"
)

func TestDeps_Named(t *testing.T) {
	var buf bytes.Buffer
	d := Deps{Log: zerolog.New(&buf)}
	named := d.Named("batches")
	named.Log.Info().Msg("hi")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"batches"`)) {
		t.Fatalf("log line = %s", buf.String())
	}
}

type stubModule struct{ mounted *int }

func (s stubModule) MountRoutes(phttp.Router) { *s.mounted++ }
func (s stubModule) Ports() any               { return nil }
func (s stubModule) Name() string             { return "stub" }

func TestMount_AllModules(t *testing.T) {
	n := 0
	Mount(nil, stubModule{&n}, stubModule{&n})
	if n != 2 {
		t.Fatalf("mounted %d modules", n)
	}
}
