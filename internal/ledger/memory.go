package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/nathanyu/transfer-actuator/internal/domain"
)

// MemoryStore keeps accounts in a map guarded by a RWMutex
type MemoryStore struct {
	accounts map[string]*domain.Account
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Get implements State
func (s *MemoryStore) Get(_ context.Context, addr domain.Address) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[string(addr)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// Put implements State
func (s *MemoryStore) Put(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[string(account.Address)] = account.Clone()
	return nil
}

// AdjustBalance implements State
func (s *MemoryStore) AdjustBalance(ctx context.Context, addr domain.Address, delta int64) error {
	return s.Apply(ctx, Batch{Deltas: []Delta{{Address: addr, Amount: delta}}})
}

// Apply implements State. The batch is planned against a consistent view
// and swapped in under the write lock, so a failed plan leaves the map untouched.
func (s *MemoryStore) Apply(_ context.Context, batch Batch) error {
	if batch.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := batch.plan(func(key string) (*domain.Account, error) {
		return s.accounts[key], nil
	})
	if err != nil {
		return err
	}

	for _, acc := range updated {
		s.accounts[string(acc.Address)] = acc
	}
	return nil
}

// Accounts implements Lister, ordered by address
func (s *MemoryStore) Accounts(_ context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		result = append(result, acc.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address, result[j].Address) < 0
	})
	return result, nil
}
