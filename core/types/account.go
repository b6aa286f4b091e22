package types

import "math/big"

// Account tracks the per-address token balances the ledger can move around.
// Gems, reward tokens and fee tokens all live in the same balance map keyed by
// token symbol.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// NewAccount returns an account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// Balance returns the balance held for token, treating missing entries as zero.
func (a *Account) Balance(token string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetBalance records the balance held for token.
func (a *Account) SetBalance(token string, amount *big.Int) {
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[token] = new(big.Int).Set(amount)
}
