package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nathanyu/transfer-actuator/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("balance is not sufficient")
	ErrConflict          = errors.New("concurrent modification of ledger state")
)

// State is the key-addressed account store the actuators read and mutate
type State interface {
	// Get returns a copy of the account, or ErrAccountNotFound
	Get(ctx context.Context, addr domain.Address) (*domain.Account, error)
	// Put inserts or replaces an account record
	Put(ctx context.Context, account *domain.Account) error
	// AdjustBalance adds delta to the account balance.
	// Fails with domain.ErrArithmeticOverflow or ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, addr domain.Address, delta int64) error
	// Apply commits every change in the batch or none of them
	Apply(ctx context.Context, batch Batch) error
}

// Lister is implemented by stores that can enumerate their accounts
type Lister interface {
	Accounts(ctx context.Context) ([]*domain.Account, error)
}

// Delta is a signed balance change on one account
type Delta struct {
	Address domain.Address
	Amount  int64
}

// Batch is a staged set of mutations applied atomically.
// Creates are inserted first, then Deltas are applied in order.
type Batch struct {
	Creates []*domain.Account
	Deltas  []Delta
}

// Empty reports whether the batch carries no mutation
func (b Batch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Deltas) == 0
}

// lookupFunc reads the committed state of one account; nil, nil means absent
type lookupFunc func(key string) (*domain.Account, error)

// plan computes the post-batch state of every touched account without writing anything.
// It returns accounts in first-touch order.
func (b Batch) plan(lookup lookupFunc) ([]*domain.Account, error) {
	staged := make(map[string]*domain.Account)
	var order []string

	load := func(key string) (*domain.Account, error) {
		if acc, ok := staged[key]; ok {
			return acc, nil
		}
		acc, err := lookup(key)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			staged[key] = acc.Clone()
			order = append(order, key)
		}
		return staged[key], nil
	}

	for _, create := range b.Creates {
		key := string(create.Address)
		existing, err := load(key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, create.Address)
		}
		staged[key] = create.Clone()
		order = append(order, key)
	}

	for _, d := range b.Deltas {
		key := string(d.Address)
		acc, err := load(key)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, d.Address)
		}
		next, err := domain.AddExact(acc.Balance, d.Amount)
		if err != nil {
			return nil, fmt.Errorf("adjust balance of %s: %w", d.Address, err)
		}
		if next < 0 {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, d.Address)
		}
		acc.Balance = next
	}

	result := make([]*domain.Account, 0, len(order))
	for _, key := range order {
		result = append(result, staged[key])
	}
	return result, nil
}
