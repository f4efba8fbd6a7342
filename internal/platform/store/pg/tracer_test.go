package pg

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCompact(t *testing.T) {
	in := "SELECT  1\n\tFROM   source_batches\r\n WHERE id = $1"
	if got := compact(in); got != "SELECT 1 FROM source_batches WHERE id = $1" {
		t.Fatalf("compact = %q", got)
	}
}

func TestTracer_Levels(t *testing.T) {
	var buf bytes.Buffer
	root := zerolog.New(&buf).Level(zerolog.ErrorLevel)
	tr := Tracer(root)

	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 1", ElapsedUS: 1500})
	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 2", Slow: true})
	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT 3", Err: errors.New("boom")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines even with root at error level, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"info"`) || !strings.Contains(lines[0], `"elapsed_ms":1.5`) {
		t.Fatalf("line0 = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) {
		t.Fatalf("line1 = %s", lines[1])
	}
	if !strings.Contains(lines[2], `"level":"error"`) || !strings.Contains(lines[2], "boom") {
		t.Fatalf("line2 = %s", lines[2])
	}
}
