package httpsink

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"extractrelay/internal/adapters/sources"
	perr "extractrelay/internal/platform/errors"
	kit "extractrelay/internal/platform/testkit"
	"extractrelay/internal/services/delivery/domain"
)

func testClient(o Options) *Client {
	c := New(o)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	c.newID = func() string { return "msg-1" }
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestSend_EnvelopeAndHeaders(t *testing.T) {
	dir := t.TempDir()
	kit.WriteFile(t, dir, "OBS.csv", "Id\n1\n")
	kit.WriteFile(t, dir, "OBS.csv.pre-gap", "Id\n1\n2\n")

	var got Envelope
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(Options{Endpoint: srv.URL, Token: "s3cret", Software: "acme", SoftwareVersion: "2"})
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rc, err := c.Send(context.Background(), domain.Message{
		Org: "ORG1", Dir: dir, IsBulk: true, HasPatientData: false, TotalBytes: 42, ExtractDate: &date,
	})
	if err != nil || rc.Status != 200 {
		t.Fatalf("rc = %+v err = %v", rc, err)
	}
	if got.MessageID != "msg-1" || got.OrganisationID != "ORG1" || got.Software != "acme" || got.Version != "2" || got.Timestamp != "2024-01-02T03:04:05Z" {
		t.Fatalf("envelope = %+v", got)
	}
	if hdr.Get("IsBulk") != "true" || hdr.Get("HasPatientData") != "false" || hdr.Get("TotalFileSize") != "42" {
		t.Fatalf("headers = %v", hdr)
	}
	if hdr.Get("ExtractDate") != "2024-01-01T00:00:00Z" || hdr.Get("ExtractCutoff") != "" {
		t.Fatalf("date headers = %v", hdr)
	}
	if hdr.Get("Authorization") != "Bearer s3cret" {
		t.Fatalf("auth = %q", hdr.Get("Authorization"))
	}

	raw, _ := base64.StdEncoding.DecodeString(got.Payload)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "OBS.csv" {
		t.Fatalf("zip entries = %d", len(zr.File))
	}
}

func TestSend_DefaultFlagsOmitHeaders(t *testing.T) {
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
	}))
	defer srv.Close()
	c := testClient(Options{Endpoint: srv.URL})
	if _, err := c.Send(context.Background(), domain.Message{Org: "O", Dir: t.TempDir(), HasPatientData: true}); err != nil {
		t.Fatal(err)
	}
	if _, ok := hdr["Isbulk"]; ok {
		t.Fatal("IsBulk sent for a non bulk split")
	}
	if _, ok := hdr["Haspatientdata"]; ok {
		t.Fatal("HasPatientData sent when true")
	}
	if hdr.Get("Authorization") != "" {
		t.Fatal("tokenless client sent auth")
	}
}

func TestSend_NonOKCapturesStatusAndTwoLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "line one\nline two\nline three\n")
	}))
	defer srv.Close()
	c := testClient(Options{Endpoint: srv.URL})
	rc, err := c.Send(context.Background(), domain.Message{Org: "O", Dir: t.TempDir()})
	if !perr.IsCode(err, perr.ErrorCodeDelivery) || rc.Status != 400 {
		t.Fatalf("rc = %+v err = %v", rc, err)
	}
	want := "HTTP/1.1 400 Bad Request\nline one\nline two"
	if rc.Detail != want {
		t.Fatalf("detail = %q", rc.Detail)
	}
}

func TestHasAgreement(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Path {
		case "/agreements/YES":
			_, _ = io.WriteString(w, `{"hasAgreement":true}`)
		case "/agreements/NO":
			_, _ = io.WriteString(w, `{"hasAgreement":false}`)
		case "/agreements/FLAKY":
			if n < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"hasAgreement":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := testClient(Options{AgreementEndpoint: srv.URL + "/agreements/"})
	ctx := context.Background()

	if ok, err := c.HasAgreement(ctx, "YES"); err != nil || !ok {
		t.Fatalf("YES: %v %v", ok, err)
	}
	if ok, err := c.HasAgreement(ctx, "NO"); err != nil || ok {
		t.Fatalf("NO: %v %v", ok, err)
	}
	_, err := c.HasAgreement(ctx, "GONE")
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("GONE err = %v", err)
	}
	calls.Store(0)
	if ok, err := c.HasAgreement(ctx, "FLAKY"); err != nil || !ok {
		t.Fatalf("FLAKY: %v %v after %d calls", ok, err, calls.Load())
	}
}

func TestHasAgreement_BackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := New(Options{AgreementEndpoint: srv.URL + "/agreements/", RetryBase: time.Minute, MaxRetries: 5})

	start := time.Now()
	_, err := c.HasAgreement(ctx, "ORG1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if el := time.Since(start); el > 5*time.Second {
		t.Fatalf("backoff ignored cancellation, took %s", el)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d", n)
	}
}

func TestConnect(t *testing.T) {
	t.Setenv("ACME_TOKEN", "tok")
	def := sources.Definition{Name: "acme", Delivery: sources.DeliveryDef{Endpoint: "http://x/in", TokenEnv: "ACME_TOKEN"}}
	sink, gate, err := Connect(def)
	if err != nil || sink == nil || gate != nil {
		t.Fatalf("sink %v gate %v err %v", sink, gate, err)
	}
	if sink.(*Client).opts.Token != "tok" {
		t.Fatal("token not read from env")
	}
	def.Delivery.AgreementEndpoint = "http://x/agreements"
	if _, gate, _ = Connect(def); gate == nil {
		t.Fatal("gate missing with an agreement endpoint")
	}
	if _, _, err := Connect(sources.Definition{Name: "bare"}); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}
