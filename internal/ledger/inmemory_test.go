package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestWallet(t *testing.T, s Store) Wallet {
	t.Helper()
	w, err := s.EnsureWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	return w
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	first, err := s.EnsureWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	second, err := s.EnsureWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("ensure wallet again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one wallet per user, got %s and %s", first.ID, second.ID)
	}
}

func TestApplyMaintainsLedgerConsistency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 50_000}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 15_000}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 2_500}); err != nil {
		t.Fatalf("second credit: %v", err)
	}

	balance, err := s.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 37_500 {
		t.Fatalf("expected balance 37500, got %d", balance)
	}

	// The cache must equal the recomputed ledger sum at quiescence.
	recomputed, err := s.Reconcile(ctx, w.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if recomputed != balance {
		t.Fatalf("cache %d drifted from ledger %d", balance, recomputed)
	}
}

func TestApplyDuplicateReferenceReturnsWinner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	first, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 10_000, Reference: "topup-1"})
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	second, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 10_000, Reference: "topup-1"})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected prior transaction %s, got %s", first.ID, second.ID)
	}

	balance, _ := s.Balance(ctx, w.ID)
	if balance != 10_000 {
		t.Fatalf("duplicate must not double-apply, balance=%d", balance)
	}
}

func TestDebitBeyondBalanceRecordsFailedEntry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)
	SeedBalance(s, w.ID, 500)

	record, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 1_000})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("expected failed audit entry, got %s", record.Status)
	}

	balance, _ := s.Balance(ctx, w.ID)
	if balance != 500 {
		t.Fatalf("rejected debit changed balance: %d", balance)
	}
}

func TestFrozenWalletRejectsPostings(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)
	SeedBalance(s, w.ID, 5_000)

	if err := s.Freeze(ctx, w.ID, "suspected fraud"); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 100}); !errors.Is(err, ErrWalletFrozen) {
		t.Fatalf("expected frozen error for credit, got %v", err)
	}
	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 100}); !errors.Is(err, ErrWalletFrozen) {
		t.Fatalf("expected frozen error for debit, got %v", err)
	}

	frozen, err := s.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !frozen.Frozen || frozen.FrozenReason != "suspected fraud" || frozen.FrozenAt == nil {
		t.Fatalf("freeze metadata not recorded: %+v", frozen)
	}
	if frozen.Balance != 5_000 {
		t.Fatalf("freeze changed balance: %d", frozen.Balance)
	}

	if err := s.Unfreeze(ctx, w.ID); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 100}); err != nil {
		t.Fatalf("debit after unfreeze: %v", err)
	}
}

func TestSettleTransitionsOnceOnly(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	pending, err := s.CreatePending(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 20_000, Reference: "gw-1"})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if pending.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", pending.Status)
	}
	if balance, _ := s.Balance(ctx, w.ID); balance != 0 {
		t.Fatalf("pending entry must not move balance, got %d", balance)
	}

	settled, err := s.Settle(ctx, "gw-1", StatusCompleted)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", settled.Status)
	}
	if balance, _ := s.Balance(ctx, w.ID); balance != 20_000 {
		t.Fatalf("expected balance 20000 after settlement, got %d", balance)
	}

	// Replayed settlement observes the terminal record and nothing moves.
	replay, err := s.Settle(ctx, "gw-1", StatusCompleted)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
	if replay.ID != settled.ID {
		t.Fatalf("replay returned a different transaction")
	}
	if balance, _ := s.Balance(ctx, w.ID); balance != 20_000 {
		t.Fatalf("replayed settlement double-applied, balance=%d", balance)
	}

	// No resurrecting a terminal transaction into another status either.
	if _, err := s.Settle(ctx, "gw-1", StatusCancelled); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled for cancel, got %v", err)
	}
}

func TestSettleFailureLeavesBalanceUntouched(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	if _, err := s.CreatePending(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 9_000, Reference: "gw-2"}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	failed, err := s.Settle(ctx, "gw-2", StatusFailed)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if balance, _ := s.Balance(ctx, w.ID); balance != 0 {
		t.Fatalf("failed settlement moved balance: %d", balance)
	}
}

func TestListByWalletOrdersNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	for i := 0; i < 5; i++ {
		if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: int64(100 + i)}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	page, err := s.ListByWallet(ctx, w.ID, 3, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(page))
	}
	for i := 1; i < len(page); i++ {
		if page[i].OccurredAt.After(page[i-1].OccurredAt) {
			t.Fatalf("transactions not in descending order")
		}
	}

	rest, err := s.ListByWallet(ctx, w.ID, 10, 3)
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining transactions, got %d", len(rest))
	}
}

func TestReconcileRepairsDriftedCache(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 30_000}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 12_000}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	// Simulate a drifted cache.
	SeedBalance(s, w.ID, 99_999)

	recomputed, err := s.Reconcile(ctx, w.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if recomputed != 18_000 {
		t.Fatalf("expected recomputed 18000, got %d", recomputed)
	}
	if balance, _ := s.Balance(ctx, w.ID); balance != 18_000 {
		t.Fatalf("cache not repaired: %d", balance)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)
	SeedBalance(s, w.ID, 10_000)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeDebit, Amount: 400})
		}()
	}
	wg.Wait()

	balance, err := s.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance < 0 {
		t.Fatalf("balance went negative: %d", balance)
	}
	// 10_000 / 400 = 25 debits can succeed at most.
	if balance != 0 {
		t.Fatalf("expected exactly 25 successful debits, final balance %d", balance)
	}
}

func TestConcurrentSameReferenceYieldsOneEntry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, s)

	const callers = 20
	results := make(chan Transaction, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			record, err := s.Apply(ctx, ApplyInput{WalletID: w.ID, Type: TypeCredit, Amount: 5_000, Reference: "webhook-1"})
			if err != nil && !errors.Is(err, ErrDuplicateReference) {
				panic(fmt.Sprintf("unexpected apply error: %v", err))
			}
			results <- record
		}()
	}
	wg.Wait()
	close(results)

	ids := make(map[string]struct{})
	for record := range results {
		ids[record.ID] = struct{}{}
	}
	if len(ids) != 1 {
		t.Fatalf("expected every caller to observe the same transaction, got %d distinct", len(ids))
	}

	balance, _ := s.Balance(ctx, w.ID)
	if balance != 5_000 {
		t.Fatalf("reference applied more than once, balance=%d", balance)
	}

	page, err := s.ListByWallet(ctx, w.ID, 50, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(page))
	}
}
