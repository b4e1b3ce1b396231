package token

import (
	"CoffeeFutures/internal/keys"

	"github.com/google/uuid"
)

// StepKind discriminates batch steps.
type StepKind int32

const (
	StepTransfer StepKind = iota
	StepMintTo
)

// Step is one token movement. Transfers carry the owning signer; mints carry
// the mint authority as signer.
type Step struct {
	Kind   StepKind
	From   keys.Address // transfer source (unused for mint_to)
	To     keys.Address
	Mint   keys.Address // mint_to target mint (unused for transfer)
	Amount uint64
	Signer keys.Address
	Memo   string
}

// Batch groups the token movements of one entrypoint. Application is
// all-or-nothing: a batch that fails validation leaves every balance intact.
type Batch struct {
	BatchID uuid.UUID
	Ref     string // idempotency key of the originating command
	Steps   []Step
}

func NewBatch(ref string) *Batch {
	return &Batch{
		BatchID: uuid.New(),
		Ref:     ref,
	}
}

// Transfer appends a signed transfer step. Zero amounts are skipped so
// callers can add conditional legs without branching.
func (b *Batch) Transfer(from, to keys.Address, amount uint64, signer keys.Address, memo string) {
	if amount == 0 {
		return
	}
	b.Steps = append(b.Steps, Step{
		Kind:   StepTransfer,
		From:   from,
		To:     to,
		Amount: amount,
		Signer: signer,
		Memo:   memo,
	})
}

// MintTo appends a mint step signed by the mint authority.
func (b *Batch) MintTo(mint, to keys.Address, amount uint64, signer keys.Address, memo string) {
	if amount == 0 {
		return
	}
	b.Steps = append(b.Steps, Step{
		Kind:   StepMintTo,
		Mint:   mint,
		To:     to,
		Amount: amount,
		Signer: signer,
		Memo:   memo,
	})
}

// Touched returns the set of account addresses affected by the batch, for
// state-digest computation.
func (b *Batch) Touched() map[keys.Address]bool {
	touched := make(map[keys.Address]bool)
	for _, s := range b.Steps {
		if s.Kind == StepTransfer {
			touched[s.From] = true
		}
		touched[s.To] = true
	}
	return touched
}
