package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brightbite/wallet-service/internal/ledger"
	"github.com/brightbite/wallet-service/internal/notification"
)

// ErrInvalidAmount indicates an amount that is not positive or exceeds the
// single-transaction ceiling.
var ErrInvalidAmount = errors.New("invalid amount")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// applyAttempts bounds internal retries when the wallet row is contended.
	applyAttempts = 3
	retryBackoff  = 25 * time.Millisecond
)

// Service is the choke point for all balance-affecting operations. It
// validates inputs, funnels postings through the ledger store's per-wallet
// serialization, and retries bounded contention before surfacing it.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier

	// maxAmount is the single-transaction ceiling in centavos.
	maxAmount int64
}

// NewService builds the wallet service. A non-positive ceiling disables the
// ceiling check.
func NewService(store ledger.Store, notifier notification.Notifier, maxAmount int64) *Service {
	return &Service{store: store, notifier: notifier, maxAmount: maxAmount}
}

// CreditInput captures a credit posting request.
type CreditInput struct {
	WalletID    string
	UserID      string
	Amount      int64
	Description string
	Method      string
	Reference   string
}

// DebitInput captures a debit posting request.
type DebitInput struct {
	WalletID    string
	UserID      string
	Amount      int64
	Description string
	Method      string
	Reference   string
	OrderID     string
}

// RefundInput captures a refund request. A refund is a new credit tagged with
// the original order, never a mutation of the original debit.
type RefundInput struct {
	WalletID  string
	UserID    string
	Amount    int64
	OrderID   string
	Reference string
}

// Ensure returns the user's wallet, creating it on first use.
func (s *Service) Ensure(ctx context.Context, userID string) (ledger.Wallet, error) {
	return s.store.EnsureWallet(ctx, userID)
}

// Get fetches wallet metadata.
func (s *Service) Get(ctx context.Context, walletID string) (ledger.Wallet, error) {
	return s.store.GetWallet(ctx, walletID)
}

// Balance reads the cached balance.
func (s *Service) Balance(ctx context.Context, walletID string) (int64, error) {
	return s.store.Balance(ctx, walletID)
}

// Credit posts a completed credit to the wallet.
func (s *Service) Credit(ctx context.Context, input CreditInput) (ledger.Transaction, error) {
	if err := s.validateAmount(input.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	return s.apply(ctx, ledger.ApplyInput{
		WalletID:    input.WalletID,
		UserID:      input.UserID,
		Type:        ledger.TypeCredit,
		Amount:      input.Amount,
		Description: input.Description,
		Method:      input.Method,
		Reference:   input.Reference,
	})
}

// Debit posts a completed debit, failing with ledger.ErrInsufficientFunds when
// the balance cannot cover it.
func (s *Service) Debit(ctx context.Context, input DebitInput) (ledger.Transaction, error) {
	if err := s.validateAmount(input.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	return s.apply(ctx, ledger.ApplyInput{
		WalletID:    input.WalletID,
		UserID:      input.UserID,
		Type:        ledger.TypeDebit,
		Amount:      input.Amount,
		Description: input.Description,
		Method:      input.Method,
		Reference:   input.Reference,
		OrderID:     input.OrderID,
	})
}

// Refund credits the wallet for a previously debited order.
func (s *Service) Refund(ctx context.Context, input RefundInput) (ledger.Transaction, error) {
	if err := s.validateAmount(input.Amount); err != nil {
		return ledger.Transaction{}, err
	}
	if input.OrderID == "" {
		return ledger.Transaction{}, fmt.Errorf("refund requires an order id")
	}
	record, err := s.apply(ctx, ledger.ApplyInput{
		WalletID:    input.WalletID,
		UserID:      input.UserID,
		Type:        ledger.TypeCredit,
		Amount:      input.Amount,
		Description: fmt.Sprintf("Refund for order %s", input.OrderID),
		Method:      "wallet",
		Reference:   input.Reference,
		OrderID:     input.OrderID,
	})
	if err == nil && s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindRefundIssued,
			Destination: record.UserID,
			Body:        fmt.Sprintf("Refund of %d centavos issued for order %s", input.Amount, input.OrderID),
		})
	}
	return record, err
}

// History lists the wallet's transactions, newest first. The limit is clamped
// to 1..200 with a default of 50.
func (s *Service) History(ctx context.Context, walletID string, limit, offset int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByWallet(ctx, walletID, limit, offset)
}

// FindByReference resolves a transaction by its external reference.
func (s *Service) FindByReference(ctx context.Context, reference string) (ledger.Transaction, error) {
	return s.store.FindByReference(ctx, reference)
}

// Freeze suspends the wallet. No ledger entry is created.
func (s *Service) Freeze(ctx context.Context, walletID, reason string) error {
	if err := s.store.Freeze(ctx, walletID, reason); err != nil {
		return err
	}
	if s.notifier != nil {
		w, err := s.store.GetWallet(ctx, walletID)
		if err == nil {
			_ = s.notifier.Send(ctx, notification.Message{
				Kind:        notification.KindWalletFrozen,
				Destination: w.UserID,
				Body:        fmt.Sprintf("Your wallet was frozen: %s", reason),
			})
		}
	}
	return nil
}

// Unfreeze lifts a wallet suspension.
func (s *Service) Unfreeze(ctx context.Context, walletID string) error {
	return s.store.Unfreeze(ctx, walletID)
}

// Reconcile recomputes the cached balance from the ledger.
func (s *Service) Reconcile(ctx context.Context, walletID string) (int64, error) {
	return s.store.Reconcile(ctx, walletID)
}

// apply funnels a posting through the store, absorbing duplicate references
// (the prior transaction is the result) and retrying bounded contention.
func (s *Service) apply(ctx context.Context, input ledger.ApplyInput) (ledger.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < applyAttempts; attempt++ {
		record, err := s.store.Apply(ctx, input)
		switch {
		case err == nil:
			return record, nil
		case errors.Is(err, ledger.ErrDuplicateReference):
			// Already applied; the caller observes the winner's result. A
			// reference held by a failed debit repeats its original rejection.
			if record.Type == ledger.TypeDebit && record.Status == ledger.StatusFailed {
				return record, ledger.ErrInsufficientFunds
			}
			return record, nil
		case errors.Is(err, ledger.ErrContention):
			lastErr = err
			select {
			case <-ctx.Done():
				return ledger.Transaction{}, ctx.Err()
			case <-time.After(retryBackoff):
			}
		default:
			return record, err
		}
	}
	return ledger.Transaction{}, lastErr
}

func (s *Service) validateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if s.maxAmount > 0 && amount > s.maxAmount {
		return ErrInvalidAmount
	}
	return nil
}
