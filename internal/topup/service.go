package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brightbite/wallet-service/internal/ledger"
	"github.com/brightbite/wallet-service/internal/notification"
	"github.com/brightbite/wallet-service/internal/wallet"
)

// ErrUnsupportedMethod indicates a payment method outside the accepted set.
var ErrUnsupportedMethod = errors.New("unsupported payment method")

var allowedMethods = map[string]struct{}{
	"gcash": {},
	"maya":  {},
	"bank":  {},
	"card":  {},
}

// Options configure top-up limits and sandbox behavior.
type Options struct {
	// MinAmount and MaxAmount bound a single top-up, in centavos.
	MinAmount int64
	MaxAmount int64
	// Sandbox settles top-ups immediately instead of waiting for a gateway
	// confirmation. Sandbox callers are authorized upstream.
	Sandbox bool
}

// Service drives the top-up lifecycle: a pending ledger entry at initiation,
// settled to a terminal status by the gateway confirmation. The webhook caller
// is expected to have verified authenticity before invoking Confirm.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
	opts     Options
}

// NewService constructs a top-up service.
func NewService(store ledger.Store, notifier notification.Notifier, opts Options) *Service {
	return &Service{store: store, notifier: notifier, opts: opts}
}

// InitiateInput captures a top-up initiation request.
type InitiateInput struct {
	UserID      string
	Amount      int64
	Method      string
	Description string
	Reference   string
}

// Initiate reserves a pending credit for the user's wallet. The reference
// doubles as the idempotency key for the later gateway confirmation; a retried
// initiation with the same reference returns the existing transaction.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (ledger.Transaction, error) {
	method := strings.ToLower(strings.TrimSpace(input.Method))
	if _, ok := allowedMethods[method]; !ok {
		return ledger.Transaction{}, ErrUnsupportedMethod
	}
	if input.Amount < s.opts.MinAmount || (s.opts.MaxAmount > 0 && input.Amount > s.opts.MaxAmount) {
		return ledger.Transaction{}, wallet.ErrInvalidAmount
	}

	w, err := s.store.EnsureWallet(ctx, input.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	description := input.Description
	if description == "" {
		description = fmt.Sprintf("Top-up via %s", method)
	}

	record, err := s.store.CreatePending(ctx, ledger.ApplyInput{
		WalletID:    w.ID,
		UserID:      input.UserID,
		Type:        ledger.TypeCredit,
		Amount:      input.Amount,
		Description: description,
		Method:      method,
		Reference:   reference,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return record, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	if s.opts.Sandbox {
		return s.Confirm(ctx, reference, true)
	}
	return record, nil
}

// Confirm settles a pending top-up after the gateway reports an outcome.
// Retried webhook deliveries observe the settled transaction unchanged.
func (s *Service) Confirm(ctx context.Context, reference string, succeeded bool) (ledger.Transaction, error) {
	status := ledger.StatusCompleted
	if !succeeded {
		status = ledger.StatusFailed
	}

	record, err := s.store.Settle(ctx, reference, status)
	if errors.Is(err, ledger.ErrAlreadySettled) {
		return record, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	if record.Status == ledger.StatusCompleted && s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTopUpCompleted,
			Destination: record.UserID,
			Body:        fmt.Sprintf("Top-up of %d centavos completed via %s", record.Amount, record.Method),
		})
	}
	return record, nil
}

// Cancel abandons a pending top-up, for example when the user aborts the
// gateway checkout.
func (s *Service) Cancel(ctx context.Context, reference string) (ledger.Transaction, error) {
	record, err := s.store.Settle(ctx, reference, ledger.StatusCancelled)
	if errors.Is(err, ledger.ErrAlreadySettled) {
		return record, nil
	}
	return record, err
}
