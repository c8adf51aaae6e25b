package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestLockTimeoutMapsToContention(t *testing.T) {
	if !isLockTimeout(&pgconn.PgError{Code: pgLockNotAvailable}) {
		t.Fatal("lock timeout SQLSTATE not recognized")
	}
	wrapped := fmt.Errorf("settle: %w", &pgconn.PgError{Code: pgLockNotAvailable})
	if !isLockTimeout(wrapped) {
		t.Fatal("wrapped lock timeout not recognized")
	}
	if isLockTimeout(&pgconn.PgError{Code: pgUniqueViolation}) {
		t.Fatal("unique violation misread as lock timeout")
	}
	if isLockTimeout(errors.New("connection reset")) {
		t.Fatal("generic error misread as lock timeout")
	}
}

func TestSettleRejectsInvalidStatus(t *testing.T) {
	s := NewPostgresStore(nil)
	if _, err := s.Settle(context.Background(), "gw-1", "refunded"); err == nil {
		t.Fatal("expected error for unknown settlement status")
	}
	if _, err := s.Settle(context.Background(), "gw-1", StatusPending); err == nil {
		t.Fatal("expected error for non-terminal settlement status")
	}
}
