package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWalletNotFound indicates the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletFrozen indicates the wallet is administratively suspended and
	// rejects all balance-affecting operations.
	ErrWalletFrozen = errors.New("wallet frozen")

	// ErrInsufficientFunds occurs when a debit exceeds the wallet's available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateReference indicates the external reference was already applied.
	// The store returns the prior transaction alongside this error so callers can
	// treat retried confirmations as idempotent rather than as failures.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrTransactionNotFound indicates no transaction matches the given reference.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadySettled indicates the transaction already reached a terminal
	// status. Settle returns it with the existing record for webhook retries.
	ErrAlreadySettled = errors.New("transaction already settled")

	// ErrContention indicates the per-wallet lock could not be acquired within
	// the bounded wait. Callers may retry.
	ErrContention = errors.New("wallet contention")
)

// Transaction types.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Transaction statuses. A transaction moves from pending to exactly one
// terminal status and never leaves it.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Wallet is a per-user stored-value account. Balance is the cached sum of the
// wallet's completed ledger entries, in centavos.
type Wallet struct {
	ID           string
	UserID       string
	Balance      int64
	Frozen       bool
	FrozenReason string
	FrozenAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transaction is one immutable ledger entry belonging to a single wallet.
type Transaction struct {
	ID          string
	WalletID    string
	UserID      string
	Type        string
	Amount      int64
	Description string
	Method      string
	Status      string
	Reference   string
	OrderID     string
	OccurredAt  time.Time
}

// Terminal reports whether the transaction reached a final status.
func (t Transaction) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ApplyInput carries everything needed to post a ledger entry.
type ApplyInput struct {
	WalletID    string
	UserID      string
	Type        string
	Amount      int64
	Description string
	Method      string
	Reference   string
	OrderID     string
}

// Store defines the contract implemented by ledger backends (Postgres, in-memory).
// Apply and Settle are atomic: the ledger entry and the cached balance move in
// the same unit of work or not at all.
type Store interface {
	// EnsureWallet returns the user's wallet, creating it on first use.
	// Exactly one wallet exists per user; a racing insert resolves to the
	// existing row.
	EnsureWallet(ctx context.Context, userID string) (Wallet, error)

	GetWallet(ctx context.Context, walletID string) (Wallet, error)

	// Balance reads the cached balance without scanning the ledger.
	Balance(ctx context.Context, walletID string) (int64, error)

	// Apply posts a completed transaction and adjusts the balance under the
	// per-wallet lock. Frozen wallets reject with ErrWalletFrozen. An already
	// applied reference returns the prior transaction with
	// ErrDuplicateReference. A debit beyond the balance records a failed
	// transaction for audit and returns ErrInsufficientFunds.
	Apply(ctx context.Context, input ApplyInput) (Transaction, error)

	// CreatePending reserves a pending transaction with no balance effect,
	// enforcing reference uniqueness. Used by gateway top-up initiation.
	CreatePending(ctx context.Context, input ApplyInput) (Transaction, error)

	// Settle moves a pending transaction to the given terminal status.
	// Settling to completed applies the balance effect atomically. A terminal
	// transaction is returned unchanged with ErrAlreadySettled.
	Settle(ctx context.Context, reference, status string) (Transaction, error)

	// ListByWallet returns transactions ordered by occurrence, newest first.
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error)

	FindByReference(ctx context.Context, reference string) (Transaction, error)

	// Freeze and Unfreeze toggle the administrative gate. They record the
	// reason and timestamp but never create ledger entries.
	Freeze(ctx context.Context, walletID, reason string) error
	Unfreeze(ctx context.Context, walletID string) error

	// Reconcile recomputes the balance from completed ledger entries and
	// rewrites the cache, returning the recomputed value. Operational repair.
	Reconcile(ctx context.Context, walletID string) (int64, error)
}
