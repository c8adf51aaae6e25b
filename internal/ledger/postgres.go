package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"

	// lockWait bounds how long a posting waits on the per-wallet row lock
	// before surfacing ErrContention.
	lockWait = "2s"
)

// PostgresStore persists wallets and transactions in PostgreSQL. Every
// balance-affecting call runs in a transaction holding the wallet row lock, so
// postings against the same wallet serialize while different wallets proceed
// in parallel.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, user_id, balance, frozen, frozen_reason, frozen_at, created_at, updated_at`

const transactionColumns = `id, wallet_id, user_id, type, amount, description, payment_method, status, reference, order_id, occurred_at`

// EnsureWallet returns the wallet for the user, creating it on first use.
// The unique constraint on user_id resolves racing inserts to a single row.
func (s *PostgresStore) EnsureWallet(ctx context.Context, userID string) (Wallet, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, fmt.Errorf("invalid user id: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO wallets (id, user_id) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`, uuid.New(), uid)
	if err != nil {
		return Wallet{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, uid)
	return scanWallet(row)
}

// GetWallet fetches a wallet by identifier.
func (s *PostgresStore) GetWallet(ctx context.Context, walletID string) (Wallet, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, wid)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

// Balance reads the cached balance for the wallet.
func (s *PostgresStore) Balance(ctx context.Context, walletID string) (int64, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return 0, ErrWalletNotFound
	}
	var balance int64
	if err := s.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1`, wid).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Apply posts a completed transaction and moves the cached balance in the same
// database transaction.
func (s *PostgresStore) Apply(ctx context.Context, input ApplyInput) (Transaction, error) {
	tx, err := s.beginBounded(ctx)
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallet, err := lockWallet(ctx, tx, input.WalletID)
	if err != nil {
		return Transaction{}, err
	}
	if wallet.Frozen {
		return Transaction{}, ErrWalletFrozen
	}

	if input.Reference != "" {
		existing, err := findByReferenceTx(ctx, tx, input.Reference)
		if err == nil {
			return existing, ErrDuplicateReference
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
	}

	if input.Type == TypeDebit && wallet.Balance < input.Amount {
		// Record the rejection for audit; the balance is untouched.
		failed, insErr := insertTransaction(ctx, tx, input, StatusFailed)
		if insErr != nil {
			return Transaction{}, insErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return Transaction{}, commitErr
		}
		return failed, ErrInsufficientFunds
	}

	created, err := insertTransaction(ctx, tx, input, StatusCompleted)
	if err != nil {
		if dup, ok := s.duplicateOf(ctx, err, input.Reference); ok {
			return dup, ErrDuplicateReference
		}
		return Transaction{}, err
	}

	delta := input.Amount
	if input.Type == TypeDebit {
		delta = -delta
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE id = $2`,
		delta, uuid.MustParse(wallet.ID)); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// CreatePending reserves a pending transaction with no balance effect.
func (s *PostgresStore) CreatePending(ctx context.Context, input ApplyInput) (Transaction, error) {
	tx, err := s.beginBounded(ctx)
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallet, err := lockWallet(ctx, tx, input.WalletID)
	if err != nil {
		return Transaction{}, err
	}
	if wallet.Frozen {
		return Transaction{}, ErrWalletFrozen
	}

	if input.Reference != "" {
		existing, err := findByReferenceTx(ctx, tx, input.Reference)
		if err == nil {
			return existing, ErrDuplicateReference
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
	}

	created, err := insertTransaction(ctx, tx, input, StatusPending)
	if err != nil {
		if dup, ok := s.duplicateOf(ctx, err, input.Reference); ok {
			return dup, ErrDuplicateReference
		}
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Settle moves a pending transaction to a terminal status, applying the
// balance effect when the outcome is completed.
func (s *PostgresStore) Settle(ctx context.Context, reference, status string) (Transaction, error) {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return Transaction{}, fmt.Errorf("invalid settlement status %q", status)
	}

	tx, err := s.beginBounded(ctx)
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
	record, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		if isLockTimeout(err) {
			return Transaction{}, ErrContention
		}
		return Transaction{}, err
	}
	if record.Terminal() {
		return record, ErrAlreadySettled
	}

	wallet, err := lockWallet(ctx, tx, record.WalletID)
	if err != nil {
		return Transaction{}, err
	}

	if status == StatusCompleted {
		if record.Type == TypeDebit && wallet.Balance < record.Amount {
			status = StatusFailed
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`,
		status, uuid.MustParse(record.ID)); err != nil {
		return Transaction{}, err
	}

	if status == StatusCompleted {
		delta := record.Amount
		if record.Type == TypeDebit {
			delta = -delta
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE id = $2`,
			delta, uuid.MustParse(wallet.ID)); err != nil {
			return Transaction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	record.Status = status
	if record.Type == TypeDebit && status == StatusFailed {
		return record, ErrInsufficientFunds
	}
	return record, nil
}

// ListByWallet returns transactions for the wallet, newest first.
func (s *PostgresStore) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE wallet_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`, wid, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// FindByReference fetches a transaction by its external reference.
func (s *PostgresStore) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	record, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return record, err
}

// Freeze suspends the wallet, recording when and why.
func (s *PostgresStore) Freeze(ctx context.Context, walletID, reason string) error {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return ErrWalletNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE wallets SET frozen = TRUE, frozen_reason = $1, frozen_at = now(), updated_at = now()
        WHERE id = $2`, reason, wid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Unfreeze lifts the administrative suspension.
func (s *PostgresStore) Unfreeze(ctx context.Context, walletID string) error {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return ErrWalletNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE wallets SET frozen = FALSE, frozen_reason = NULL, frozen_at = NULL, updated_at = now()
        WHERE id = $1`, wid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Reconcile recomputes the cached balance from completed ledger entries.
func (s *PostgresStore) Reconcile(ctx context.Context, walletID string) (int64, error) {
	tx, err := s.beginBounded(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallet, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return 0, err
	}

	var recomputed int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(CASE WHEN type = $1 THEN amount ELSE -amount END), 0)
        FROM transactions WHERE wallet_id = $2 AND status = $3`,
		TypeCredit, uuid.MustParse(wallet.ID), StatusCompleted).Scan(&recomputed); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2`,
		recomputed, uuid.MustParse(wallet.ID)); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return recomputed, nil
}

// duplicateOf resolves a unique-violation insert error to the winning
// transaction so concurrent retries observe a single ledger entry.
func (s *PostgresStore) duplicateOf(ctx context.Context, err error, reference string) (Transaction, bool) {
	var pgErr *pgconn.PgError
	if reference == "" || !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return Transaction{}, false
	}
	winner, findErr := s.FindByReference(ctx, reference)
	if findErr != nil {
		return Transaction{}, false
	}
	return winner, true
}

// beginBounded opens a transaction with the lock wait capped, so no posting
// or settlement blocks indefinitely on a contended row.
func (s *PostgresStore) beginBounded(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '`+lockWait+`'`); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// lockWallet acquires the per-wallet row lock. The wait is bounded by the
// transaction's lock_timeout; hitting it surfaces as ErrContention.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (Wallet, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, wid)
	wallet, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		if isLockTimeout(err) {
			return Wallet{}, ErrContention
		}
		return Wallet{}, err
	}
	return wallet, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, input ApplyInput, status string) (Transaction, error) {
	record := Transaction{
		ID:          uuid.New().String(),
		WalletID:    input.WalletID,
		UserID:      input.UserID,
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		Method:      input.Method,
		Status:      status,
		Reference:   input.Reference,
		OrderID:     input.OrderID,
		OccurredAt:  time.Now().UTC(),
	}

	var userID, reference, orderID *string
	if record.UserID != "" {
		userID = &record.UserID
	}
	if record.Reference != "" {
		reference = &record.Reference
	}
	if record.OrderID != "" {
		orderID = &record.OrderID
	}

	_, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, wallet_id, user_id, type, amount, description, payment_method, status, reference, order_id, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.MustParse(record.ID), uuid.MustParse(record.WalletID), userID, record.Type, record.Amount,
		record.Description, record.Method, record.Status, reference, orderID, record.OccurredAt)
	if err != nil {
		return Transaction{}, err
	}
	return record, nil
}

func findByReferenceTx(ctx context.Context, tx pgx.Tx, reference string) (Transaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	record, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return record, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w            Wallet
		id, userID   uuid.UUID
		frozenReason *string
		frozenAt     *time.Time
	)
	if err := row.Scan(&id, &userID, &w.Balance, &w.Frozen, &frozenReason, &frozenAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.ID = id.String()
	w.UserID = userID.String()
	if frozenReason != nil {
		w.FrozenReason = *frozenReason
	}
	w.FrozenAt = frozenAt
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t                  Transaction
		id, walletID       uuid.UUID
		userID             *uuid.UUID
		reference, orderID *string
	)
	if err := row.Scan(&id, &walletID, &userID, &t.Type, &t.Amount, &t.Description, &t.Method, &t.Status, &reference, &orderID, &t.OccurredAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	t.WalletID = walletID.String()
	if userID != nil {
		t.UserID = userID.String()
	}
	if reference != nil {
		t.Reference = *reference
	}
	if orderID != nil {
		t.OrderID = *orderID
	}
	t.OccurredAt = t.OccurredAt.UTC()
	return t, nil
}
