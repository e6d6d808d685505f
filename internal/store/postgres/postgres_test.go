package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"bizcore/backend/internal/store"
)

func TestRetryableMapsSerializationFailures(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := retryable(fmt.Errorf("update investor: %w", &pgconn.PgError{Code: code}))
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected conflict for %s, got %v", code, err)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != code {
			t.Fatalf("expected original error to stay wrapped for %s, got %v", code, err)
		}
	}

	plain := errors.New("boom")
	if got := retryable(plain); got != plain {
		t.Fatalf("expected other errors unchanged, got %v", got)
	}
	if retryable(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
	if err := retryable(&pgconn.PgError{Code: "23505"}); errors.Is(err, store.ErrConflict) {
		t.Fatalf("unique violations are classified per query, got %v", err)
	}
}
