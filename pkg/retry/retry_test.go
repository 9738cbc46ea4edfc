package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cartloom/storefront/pkg/errors"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	c := New(3, time.Millisecond, nil)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	c := New(3, time.Millisecond, nil)

	calls := 0
	wantErr := errors.New(errors.CodeInsufficientStock, "only 2 available")
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if !errors.HasCode(err, errors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
}

func TestDo_TransientRetriedUntilBudgetExhausted(t *testing.T) {
	c := New(3, time.Millisecond, nil)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeTransient, "write conflict")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if !errors.HasCode(err, errors.CodeTransient) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	c := New(3, time.Millisecond, nil)

	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ContextCancelledBetweenAttempts(t *testing.T) {
	c := New(5, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New(errors.CodeTransient, "database is locked")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", stderrors.New("boom"), false},
		{"tagged transient", errors.New(errors.CodeTransient, "conflict"), true},
		{"wrapped transient", fmt.Errorf("tx failed: %w", errors.New(errors.CodeTransient, "conflict")), true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"lock wait timeout message", stderrors.New("Lock wait timeout exceeded"), true},
		{"write conflict message", stderrors.New("write conflict during plan execution"), true},
		{"please retry message", stderrors.New("transaction aborted, please retry"), true},
		{"sqlite busy message", stderrors.New("database is locked"), true},
		{"not found", errors.New(errors.CodeNotFound, "missing"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
