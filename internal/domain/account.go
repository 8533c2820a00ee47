package domain

import (
	"errors"
	"math"
)

// AccountType classifies ledger accounts
type AccountType string

const (
	AccountTypeNormal     AccountType = "Normal"
	AccountTypeAssetIssue AccountType = "AssetIssue"
	AccountTypeContract   AccountType = "Contract"
)

var ErrArithmeticOverflow = errors.New("long overflow")

// Account is a ledger entry for one address.
// Balance is denominated in sun and is never negative.
type Account struct {
	Address    Address     `json:"address"`
	Balance    int64       `json:"balance"`
	Type       AccountType `json:"type"`
	CreateTime int64       `json:"create_time"` // unix millis
}

// NewAccount returns a zero-balance account
func NewAccount(addr Address, accountType AccountType, createTime int64) *Account {
	if accountType == "" {
		accountType = AccountTypeNormal
	}
	return &Account{
		Address:    append(Address(nil), addr...),
		Type:       accountType,
		CreateTime: createTime,
	}
}

// Clone returns a deep copy of the account
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Address = append(Address(nil), a.Address...)
	return &c
}

// AddExact adds two int64 values and reports overflow instead of wrapping
func AddExact(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// NegateExact negates v, failing for math.MinInt64
func NegateExact(v int64) (int64, error) {
	if v == math.MinInt64 {
		return 0, ErrArithmeticOverflow
	}
	return -v, nil
}
