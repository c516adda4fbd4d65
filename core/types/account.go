package types

import "math/big"

// Account is the balance record backing the custody model. The escrow vault
// is an ordinary account; the sum of all pending job amounts equals its
// balance at any observation point.
type Account struct {
	Balance *big.Int
	Nonce   uint64
}

// NewAccount returns an account with a zeroed, non-nil balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}
