package errors

import (
	stderrs "errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDBErrorCode(t *testing.T) {
	cases := map[string]ErrorCode{
		"23505": ErrorCodeDuplicateKey,
		"23503": ErrorCodeInvalidArgument,
		"23502": ErrorCodeValidation,
		"57P03": ErrorCodeUnavailable,
		"42P01": ErrorCodeDB,
	}
	for state, want := range cases {
		got, ok := DBErrorCode(&pgconn.PgError{Code: state})
		if !ok || got != want {
			t.Fatalf("DBErrorCode(%s) = %v,%v want %v", state, got, ok, want)
		}
	}
	if _, ok := DBErrorCode(stderrs.New("x")); ok {
		t.Fatalf("foreign errors are not pg errors")
	}
}

func TestFromPostgres(t *testing.T) {
	if FromPostgres(nil, "x") != nil {
		t.Fatalf("nil in, nil out")
	}
	err := FromPostgresf(&pgconn.PgError{Code: "23505", ColumnName: "batch_identifier"}, "insert batch %d", 7)
	if !IsDuplicateKey(err) || CodeOf(err) != ErrorCodeDuplicateKey {
		t.Fatalf("duplicate mapping lost: %v", err)
	}
	e, _ := As(err)
	if e.Field() != "batch_identifier" {
		t.Fatalf("field = %q", e.Field())
	}
	if CodeOf(FromPostgres(stderrs.New("net"), "q")) != ErrorCodeDB {
		t.Fatalf("foreign error should map to DB")
	}
}

func TestIsRetryable_TextFallback(t *testing.T) {
	if !IsRetryable(stderrs.New("commit unexpectedly resulted in rollback")) {
		t.Fatalf("commit rollback text should be retryable")
	}
	if IsRetryable(stderrs.New("syntax error")) {
		t.Fatalf("syntax error is not retryable")
	}
	if !IsLockNotAvailable(&pgconn.PgError{Code: "55P03"}) {
		t.Fatalf("55P03 should be lock not available")
	}
}
