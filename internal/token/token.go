package token

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/math"
)

// Mint is a fungible-token mint. Supply only changes through MintTo steps
// signed by the mint authority.
type Mint struct {
	Address   keys.Address
	Decimals  uint8
	Authority keys.Address
	Supply    uint64
}

// Account holds a balance of one mint for one owner. Transfers out of an
// account must be signed by its owner.
type Account struct {
	Address keys.Address
	Mint    keys.Address
	Owner   keys.Address
	Balance uint64
}

// Ledger is the in-process token collaborator: mints, accounts, and atomic
// batch application with authority checks. It is only touched from the
// single-threaded core, so it carries no locking.
type Ledger struct {
	mints    map[keys.Address]*Mint
	accounts map[keys.Address]*Account
}

func NewLedger() *Ledger {
	return &Ledger{
		mints:    make(map[keys.Address]*Mint),
		accounts: make(map[keys.Address]*Account),
	}
}

// CreateMint registers a new mint under the given authority.
func (l *Ledger) CreateMint(addr keys.Address, decimals uint8, authority keys.Address) error {
	if _, exists := l.mints[addr]; exists {
		return coffee.Errf(coffee.CodeInvalidAssetBasket, "mint %s already exists", addr)
	}
	l.mints[addr] = &Mint{
		Address:   addr,
		Decimals:  decimals,
		Authority: authority,
	}
	return nil
}

// CreateAccount registers a token account for (mint, owner).
func (l *Ledger) CreateAccount(addr, mint, owner keys.Address) error {
	if _, exists := l.accounts[addr]; exists {
		return coffee.Errf(coffee.CodeInvalidAssetBasket, "account %s already exists", addr)
	}
	if _, ok := l.mints[mint]; !ok {
		return coffee.Errf(coffee.CodeInvalidAssetBasket, "account %s references unknown mint %s", addr, mint)
	}
	l.accounts[addr] = &Account{
		Address: addr,
		Mint:    mint,
		Owner:   owner,
	}
	return nil
}

// MintInfo returns the mint record, if registered.
func (l *Ledger) MintInfo(addr keys.Address) (*Mint, bool) {
	m, ok := l.mints[addr]
	return m, ok
}

// Account returns the account record, if registered.
func (l *Ledger) Account(addr keys.Address) (*Account, bool) {
	a, ok := l.accounts[addr]
	return a, ok
}

// Balance returns an account balance; unknown accounts read as zero.
func (l *Ledger) Balance(addr keys.Address) uint64 {
	if a, ok := l.accounts[addr]; ok {
		return a.Balance
	}
	return 0
}

// Apply validates and applies a batch atomically: either every step commits
// or none does. Validation simulates the steps against a working view of the
// touched balances so later steps see earlier debits.
func (l *Ledger) Apply(b *Batch) error {
	if err := l.validate(b); err != nil {
		return err
	}

	for _, s := range b.Steps {
		switch s.Kind {
		case StepTransfer:
			l.accounts[s.From].Balance -= s.Amount
			l.accounts[s.To].Balance += s.Amount
		case StepMintTo:
			l.mints[s.Mint].Supply += s.Amount
			l.accounts[s.To].Balance += s.Amount
		}
	}

	return nil
}

func (l *Ledger) validate(b *Batch) error {
	working := make(map[keys.Address]uint64)

	balanceOf := func(addr keys.Address) uint64 {
		if bal, ok := working[addr]; ok {
			return bal
		}
		return l.Balance(addr)
	}

	for i, s := range b.Steps {
		if s.Amount == 0 {
			return coffee.Errf(coffee.CodeZeroAmount, "batch %s step %d has zero amount", b.Ref, i)
		}

		switch s.Kind {
		case StepTransfer:
			from, ok := l.accounts[s.From]
			if !ok {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "transfer from unknown account %s", s.From)
			}
			to, ok := l.accounts[s.To]
			if !ok {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "transfer to unknown account %s", s.To)
			}
			if from.Mint != to.Mint {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "transfer mint mismatch %s -> %s", s.From, s.To)
			}
			if from.Owner != s.Signer {
				return coffee.Errf(coffee.CodeUnauthorized, "signer %s does not own account %s", s.Signer, s.From)
			}
			if balanceOf(s.From) < s.Amount {
				return coffee.Errf(coffee.CodeInsufficientMargin,
					"account %s has %d, transfer needs %d", s.From, balanceOf(s.From), s.Amount)
			}
			working[s.From] = balanceOf(s.From) - s.Amount
			working[s.To] = balanceOf(s.To) + s.Amount

		case StepMintTo:
			mint, ok := l.mints[s.Mint]
			if !ok {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "mint_to unknown mint %s", s.Mint)
			}
			to, ok := l.accounts[s.To]
			if !ok {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "mint_to unknown account %s", s.To)
			}
			if to.Mint != s.Mint {
				return coffee.Errf(coffee.CodeInvalidAssetBasket, "mint_to account %s holds a different mint", s.To)
			}
			if mint.Authority != s.Signer {
				return coffee.Errf(coffee.CodeUnauthorized, "signer %s is not the authority of mint %s", s.Signer, s.Mint)
			}
			if _, ok := math.CheckedAdd(mint.Supply, s.Amount); !ok {
				return coffee.Errf(coffee.CodeMathOverflow, "mint %s supply overflow", s.Mint)
			}
			working[s.To] = balanceOf(s.To) + s.Amount

		default:
			return coffee.Errf(coffee.CodeInvalidAssetBasket, "batch %s step %d has unknown kind", b.Ref, i)
		}
	}

	return nil
}

// CloseAccount removes an empty account. Used to unwind account creation
// when a multi-step entrypoint aborts, keeping failed transitions
// side-effect free.
func (l *Ledger) CloseAccount(addr keys.Address) error {
	acct, ok := l.accounts[addr]
	if !ok {
		return nil
	}
	if acct.Balance != 0 {
		return coffee.Errf(coffee.CodeDustTransfer, "account %s still holds %d", addr, acct.Balance)
	}
	delete(l.accounts, addr)
	return nil
}

// Snapshot returns a copy of every account balance, keyed by address. Used
// for state digests and snapshots.
func (l *Ledger) Snapshot() map[keys.Address]uint64 {
	out := make(map[keys.Address]uint64, len(l.accounts))
	for addr, acct := range l.accounts {
		out[addr] = acct.Balance
	}
	return out
}

// Accounts returns all account records for snapshot export.
func (l *Ledger) Accounts() []*Account {
	out := make([]*Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	return out
}

// Mints returns all mint records for snapshot export.
func (l *Ledger) Mints() []*Mint {
	out := make([]*Mint, 0, len(l.mints))
	for _, m := range l.mints {
		out = append(out, m)
	}
	return out
}

// RestoreMint reloads a mint record during snapshot recovery.
func (l *Ledger) RestoreMint(m *Mint) {
	cp := *m
	l.mints[m.Address] = &cp
}

// RestoreAccount reloads an account record during snapshot recovery.
func (l *Ledger) RestoreAccount(a *Account) {
	cp := *a
	l.accounts[a.Address] = &cp
}
