package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	kit "extractrelay/internal/platform/testkit"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"trace":     "trace",
		"DEBUG":     "debug",
		"info":      "info",
		"warning":   "warn",
		"error":     "error",
		"panic":     "panic",
		"":          "info",
		" garbage ": "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %q want %q", in, got, want)
		}
	}
}

// Init is once-only so every assertion against the shared writer lives here
func TestInit_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{
		Level:        "debug",
		Format:       "json",
		Service:      "relay-test",
		Writer:       &buf,
		StaticFields: map[string]string{"build": "unit"},
	})

	ctx := WithSource(context.Background(), "acme")
	ctx = WithBatch(ctx, "20240101T000000")
	ctx = WithOrg(ctx, "ORG1")
	ctx = WithRequest(ctx, "")
	C(ctx).Info().Msg("cycle-msg")
	Named("splitter").Debug().Msg("named-msg")

	out := buf.String()
	kit.MustContain(t, out, `"source":"acme"`)
	kit.MustContain(t, out, `"batch":"20240101T000000"`)
	kit.MustContain(t, out, `"org":"ORG1"`)
	kit.MustContain(t, out, `"component":"splitter"`)
	kit.MustContain(t, out, `"service":"relay-test"`)
	kit.MustContain(t, out, `"build":"unit"`)
	if strings.Contains(out, "request_id") {
		t.Fatalf("empty request id should not be logged: %s", out)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_CALLER", "yes")
	t.Setenv("LOG_SAMPLE_EVERY", "4")

	opt := FromEnv()
	if opt.Level != "warn" || opt.Format != "json" {
		t.Fatalf("FromEnv level/format = %+v", opt)
	}
	if !opt.WithCaller || opt.SampleEvery != 4 {
		t.Fatalf("FromEnv caller/sample = %+v", opt)
	}
	if opt.Service != "extractrelay" {
		t.Fatalf("FromEnv service default = %q", opt.Service)
	}
}
