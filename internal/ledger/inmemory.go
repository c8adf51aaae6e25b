package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryStore struct {
	mu           sync.Mutex
	wallets      map[string]*Wallet
	walletByUser map[string]string
	transactions []Transaction
	byReference  map[string]string
	byID         map[string]int
}

// NewInMemory creates a concurrency-safe in-memory ledger store. It backs unit
// tests and dev mode when no database is configured.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:      make(map[string]*Wallet),
		walletByUser: make(map[string]string),
		byReference:  make(map[string]string),
		byID:         make(map[string]int),
	}
}

func (s *inMemoryStore) EnsureWallet(_ context.Context, userID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.walletByUser[userID]; ok {
		return *s.wallets[id], nil
	}
	now := time.Now().UTC()
	w := &Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[w.ID] = w
	s.walletByUser[userID] = w.ID
	return *w, nil
}

func (s *inMemoryStore) GetWallet(_ context.Context, walletID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (s *inMemoryStore) Balance(_ context.Context, walletID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return w.Balance, nil
}

func (s *inMemoryStore) Apply(_ context.Context, input ApplyInput) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[input.WalletID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if w.Frozen {
		return Transaction{}, ErrWalletFrozen
	}
	if input.Reference != "" {
		if id, exists := s.byReference[input.Reference]; exists {
			return s.transactions[s.byID[id]], ErrDuplicateReference
		}
	}

	if input.Type == TypeDebit && w.Balance < input.Amount {
		failed := s.record(input, StatusFailed)
		return failed, ErrInsufficientFunds
	}

	created := s.record(input, StatusCompleted)
	if input.Type == TypeDebit {
		w.Balance -= input.Amount
	} else {
		w.Balance += input.Amount
	}
	w.UpdatedAt = time.Now().UTC()
	return created, nil
}

func (s *inMemoryStore) CreatePending(_ context.Context, input ApplyInput) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[input.WalletID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if w.Frozen {
		return Transaction{}, ErrWalletFrozen
	}
	if input.Reference != "" {
		if id, exists := s.byReference[input.Reference]; exists {
			return s.transactions[s.byID[id]], ErrDuplicateReference
		}
	}
	return s.record(input, StatusPending), nil
}

func (s *inMemoryStore) Settle(_ context.Context, reference, status string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byReference[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	idx := s.byID[id]
	record := s.transactions[idx]
	if record.Terminal() {
		return record, ErrAlreadySettled
	}

	w := s.wallets[record.WalletID]
	if status == StatusCompleted && record.Type == TypeDebit && w.Balance < record.Amount {
		status = StatusFailed
	}

	s.transactions[idx].Status = status
	record.Status = status

	if status == StatusCompleted {
		if record.Type == TypeDebit {
			w.Balance -= record.Amount
		} else {
			w.Balance += record.Amount
		}
		w.UpdatedAt = time.Now().UTC()
	}
	if record.Type == TypeDebit && status == StatusFailed {
		return record, ErrInsufficientFunds
	}
	return record, nil
}

func (s *inMemoryStore) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	var out []Transaction
	for _, t := range s.transactions {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryStore) FindByReference(_ context.Context, reference string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byReference[reference]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.transactions[s.byID[id]], nil
}

func (s *inMemoryStore) Freeze(_ context.Context, walletID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	now := time.Now().UTC()
	w.Frozen = true
	w.FrozenReason = reason
	w.FrozenAt = &now
	w.UpdatedAt = now
	return nil
}

func (s *inMemoryStore) Unfreeze(_ context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Frozen = false
	w.FrozenReason = ""
	w.FrozenAt = nil
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) Reconcile(_ context.Context, walletID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	var recomputed int64
	for _, t := range s.transactions {
		if t.WalletID != walletID || t.Status != StatusCompleted {
			continue
		}
		if t.Type == TypeDebit {
			recomputed -= t.Amount
		} else {
			recomputed += t.Amount
		}
	}
	w.Balance = recomputed
	w.UpdatedAt = time.Now().UTC()
	return recomputed, nil
}

// record appends a transaction; caller holds the lock.
func (s *inMemoryStore) record(input ApplyInput, status string) Transaction {
	t := Transaction{
		ID:          uuid.NewString(),
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
	s.byID[t.ID] = len(s.transactions)
	if t.Reference != "" {
		s.byReference[t.Reference] = t.ID
	}
	s.transactions = append(s.transactions, t)
	return t
}
