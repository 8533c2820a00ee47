package params

import (
	"errors"
	"sync/atomic"
)

const (
	// DefaultNonExistentAccountTransferMin is 1 TRX expressed in sun
	DefaultNonExistentAccountTransferMin int64 = 1_000_000
	// DefaultTransferFee is the fixed fee charged per transfer, in sun
	DefaultTransferFee int64 = 0
)

var ErrNegativeParameter = errors.New("chain parameter must not be negative")

// Provider exposes the chain parameters the actuators read
type Provider interface {
	NonExistentAccountTransferMin() int64
	TransferFee() int64
}

// Static is a Provider whose transfer fee is fixed for its lifetime.
// The non-existent account minimum may be updated between transactions.
type Static struct {
	fee         int64
	transferMin atomic.Int64
}

// NewStatic creates a provider with the given minimum and fee
func NewStatic(transferMin, fee int64) (*Static, error) {
	if transferMin < 0 || fee < 0 {
		return nil, ErrNegativeParameter
	}
	s := &Static{fee: fee}
	s.transferMin.Store(transferMin)
	return s, nil
}

// Default returns a provider with the main network defaults
func Default() *Static {
	s, _ := NewStatic(DefaultNonExistentAccountTransferMin, DefaultTransferFee)
	return s
}

func (s *Static) NonExistentAccountTransferMin() int64 { return s.transferMin.Load() }

func (s *Static) TransferFee() int64 { return s.fee }

// SetNonExistentAccountTransferMin updates the minimum for subsequent transactions
func (s *Static) SetNonExistentAccountTransferMin(v int64) error {
	if v < 0 {
		return ErrNegativeParameter
	}
	s.transferMin.Store(v)
	return nil
}
