package types

import "math/big"

// Account holds the spendable balance for an address. Amounts are expressed
// in the smallest currency unit.
type Account struct {
	Balance *big.Int `json:"balance"`
	Nonce   uint64   `json:"nonce"`
}

// EnsureAccount normalises a possibly-nil account into one with a usable
// balance pointer.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
