package token

import (
	"fmt"

	"CoffeeFutures/internal/keys"
)

// InvariantValidator checks supply conservation over the ledger: for every
// mint, the sum of account balances must equal the minted supply. Transfers
// move value between accounts, mints create it on both sides, so the
// identity holds after every applied batch.
type InvariantValidator struct {
	ledger *Ledger
}

func NewInvariantValidator(l *Ledger) *InvariantValidator {
	return &InvariantValidator{ledger: l}
}

// ValidateSupply verifies Σ balances == supply for every mint.
func (v *InvariantValidator) ValidateSupply() error {
	totals := make(map[keys.Address]uint64)
	for _, acct := range v.ledger.accounts {
		totals[acct.Mint] += acct.Balance
	}

	for addr, mint := range v.ledger.mints {
		if totals[addr] != mint.Supply {
			return fmt.Errorf("mint %s: account total %d != supply %d", addr, totals[addr], mint.Supply)
		}
	}

	return nil
}
