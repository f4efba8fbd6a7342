package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapAndCode(t *testing.T) {
	base := stderrs.New("disk full")
	err := Wrapf(base, ErrorCodeIO, "write %s", "Patient.csv")
	if got := err.Error(); got != "write Patient.csv: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if CodeOf(err) != ErrorCodeIO || !IsCode(err, ErrorCodeIO) {
		t.Fatalf("CodeOf = %v", CodeOf(err))
	}
	if Root(err) != base {
		t.Fatalf("Root mismatch")
	}
	if CodeOf(base) != ErrorCodeUnknown {
		t.Fatalf("foreign errors map to unknown")
	}
	if WrapIf(nil, ErrorCodeDB, "x") != nil {
		t.Fatalf("WrapIf(nil) must be nil")
	}
}

func TestFatalMarking(t *testing.T) {
	plain := Newf(ErrorCodeValidation, "sequence collision")
	if IsFatal(plain) {
		t.Fatalf("plain error must not be fatal")
	}
	f := Fatal(plain)
	if !IsFatal(f) || CodeOf(f) != ErrorCodeValidation {
		t.Fatalf("Fatal should keep code and mark fatal")
	}
	if IsFatal(plain) {
		t.Fatalf("Fatal must copy, not mutate")
	}
	wrapped := fmt.Errorf("cycle: %w", Fatalf(ErrorCodeReconcile, "ambiguous gap"))
	if !IsFatal(wrapped) {
		t.Fatalf("fatal must survive fmt wrapping")
	}
	foreign := Fatal(stderrs.New("boom"))
	if !IsFatal(foreign) {
		t.Fatalf("foreign error should be wrapped fatal")
	}
	if Fatal(nil) != nil {
		t.Fatalf("Fatal(nil) must be nil")
	}
}

func TestFieldAndOp(t *testing.T) {
	err := WithOp(WithField(New(ErrorCodeParse, "bad name"), "x.csv"), "assemble")
	e, ok := As(err)
	if !ok || e.Field() != "x.csv" || e.Op() != "assemble" {
		t.Fatalf("field/op not set: %+v", e)
	}
	w := WireFrom(err)
	if w.Code != ErrorCodeParse || w.Field != "x.csv" {
		t.Fatalf("wire = %+v", w)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrorCodeNotFound:    http.StatusNotFound,
		ErrorCodeValidation:  http.StatusBadRequest,
		ErrorCodeConflict:    http.StatusConflict,
		ErrorCodeUnavailable: http.StatusServiceUnavailable,
		ErrorCodeSplit:       http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(New(code, "x")); got != want {
			t.Fatalf("HTTPStatus(%v) = %d want %d", code, got, want)
		}
	}
	if s, _ := HTTP(nil); s != http.StatusOK {
		t.Fatalf("HTTP(nil) = %d", s)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Unavailablef("gate down")) {
		t.Fatalf("unavailable should be retryable")
	}
	if Retryable(New(ErrorCodeValidation, "x")) {
		t.Fatalf("validation is not retryable")
	}
	dead := &pgconn.PgError{Code: "40P01"}
	if !Retryable(Wrap(dead, ErrorCodeDB, "tx")) {
		t.Fatalf("deadlock should be retryable")
	}
	if IsRetryable(context.DeadlineExceeded) {
		t.Fatalf("deadline is never retryable")
	}
}

func TestCodeString(t *testing.T) {
	if ErrorCodeReconcile.String() != "reconcile" {
		t.Fatalf("String = %q", ErrorCodeReconcile.String())
	}
	if ErrorCode(999).String() != "code(999)" {
		t.Fatalf("unknown String")
	}
}
