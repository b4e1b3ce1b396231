package token_test

import (
	"testing"

	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/token"
)

func addr(label string) keys.Address {
	a, _ := keys.Derive([]byte("token-test"), []byte(label))
	return a
}

func newLedgerWithMint(t *testing.T) (*token.Ledger, keys.Address, keys.Address) {
	t.Helper()
	l := token.NewLedger()
	mint := addr("mint")
	authority := addr("mint-authority")
	if err := l.CreateMint(mint, 6, authority); err != nil {
		t.Fatalf("create mint: %v", err)
	}
	return l, mint, authority
}

func fund(t *testing.T, l *token.Ledger, mint, authority, to keys.Address, amount uint64) {
	t.Helper()
	b := token.NewBatch("fund")
	b.MintTo(mint, to, amount, authority, "")
	if err := l.Apply(b); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

// ============================================================================
// Test: atomic batch application
// ============================================================================

func TestApply_AtomicOnInsufficientBalance(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)

	alice, bob, carol := addr("alice"), addr("bob"), addr("carol")
	aliceAcct, bobAcct, carolAcct := addr("alice-acct"), addr("bob-acct"), addr("carol-acct")
	for owner, acct := range map[keys.Address]keys.Address{alice: aliceAcct, bob: bobAcct, carol: carolAcct} {
		if err := l.CreateAccount(acct, mint, owner); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}
	fund(t, l, mint, authority, aliceAcct, 1_000)

	// Second leg exceeds bob's balance: the whole batch must not apply.
	b := token.NewBatch("two-legs")
	b.Transfer(aliceAcct, bobAcct, 500, alice, "")
	b.Transfer(bobAcct, carolAcct, 600, bob, "")
	err := l.Apply(b)
	if !coffee.IsCode(err, coffee.CodeInsufficientMargin) {
		t.Fatalf("expected InsufficientMargin, got %v", err)
	}

	if l.Balance(aliceAcct) != 1_000 || l.Balance(bobAcct) != 0 || l.Balance(carolAcct) != 0 {
		t.Errorf("failed batch mutated balances: %d/%d/%d",
			l.Balance(aliceAcct), l.Balance(bobAcct), l.Balance(carolAcct))
	}
}

func TestApply_LaterStepsSeeEarlierDebits(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)

	alice, bob := addr("alice"), addr("bob")
	aliceAcct, bobAcct := addr("alice-acct"), addr("bob-acct")
	l.CreateAccount(aliceAcct, mint, alice)
	l.CreateAccount(bobAcct, mint, bob)
	fund(t, l, mint, authority, aliceAcct, 100)

	// alice -> bob 100, then bob -> alice 100: valid only if validation
	// tracks the working balances.
	b := token.NewBatch("chain")
	b.Transfer(aliceAcct, bobAcct, 100, alice, "")
	b.Transfer(bobAcct, aliceAcct, 100, bob, "")
	if err := l.Apply(b); err != nil {
		t.Fatalf("chained batch: %v", err)
	}

	if l.Balance(aliceAcct) != 100 || l.Balance(bobAcct) != 0 {
		t.Errorf("balances after chain: %d/%d", l.Balance(aliceAcct), l.Balance(bobAcct))
	}
}

// ============================================================================
// Test: authority checks
// ============================================================================

func TestApply_TransferRequiresOwner(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)

	alice, bob := addr("alice"), addr("bob")
	aliceAcct, bobAcct := addr("alice-acct"), addr("bob-acct")
	l.CreateAccount(aliceAcct, mint, alice)
	l.CreateAccount(bobAcct, mint, bob)
	fund(t, l, mint, authority, aliceAcct, 100)

	b := token.NewBatch("theft")
	b.Transfer(aliceAcct, bobAcct, 50, bob, "") // bob signs for alice's account
	err := l.Apply(b)
	if !coffee.IsCode(err, coffee.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if l.Balance(aliceAcct) != 100 {
		t.Error("unauthorized transfer mutated balance")
	}
}

func TestApply_MintRequiresAuthority(t *testing.T) {
	l, mint, _ := newLedgerWithMint(t)

	alice := addr("alice")
	aliceAcct := addr("alice-acct")
	l.CreateAccount(aliceAcct, mint, alice)

	b := token.NewBatch("rogue-mint")
	b.MintTo(mint, aliceAcct, 1_000, alice, "")
	err := l.Apply(b)
	if !coffee.IsCode(err, coffee.CodeUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestApply_MintMismatchRejected(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)

	other := addr("other-mint")
	if err := l.CreateMint(other, 0, authority); err != nil {
		t.Fatalf("create other mint: %v", err)
	}

	alice := addr("alice")
	quoteAcct, otherAcct := addr("quote-acct"), addr("other-acct")
	l.CreateAccount(quoteAcct, mint, alice)
	l.CreateAccount(otherAcct, other, alice)
	fund(t, l, mint, authority, quoteAcct, 100)

	b := token.NewBatch("cross-mint")
	b.Transfer(quoteAcct, otherAcct, 10, alice, "")
	if err := l.Apply(b); err == nil {
		t.Fatal("cross-mint transfer should fail")
	}
}

// ============================================================================
// Test: supply conservation
// ============================================================================

func TestInvariantValidator_SupplyConservation(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)
	v := token.NewInvariantValidator(l)

	alice, bob := addr("alice"), addr("bob")
	aliceAcct, bobAcct := addr("alice-acct"), addr("bob-acct")
	l.CreateAccount(aliceAcct, mint, alice)
	l.CreateAccount(bobAcct, mint, bob)

	if err := v.ValidateSupply(); err != nil {
		t.Fatalf("empty ledger: %v", err)
	}

	fund(t, l, mint, authority, aliceAcct, 1_000)
	if err := v.ValidateSupply(); err != nil {
		t.Fatalf("after mint: %v", err)
	}

	b := token.NewBatch("move")
	b.Transfer(aliceAcct, bobAcct, 400, alice, "")
	if err := l.Apply(b); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := v.ValidateSupply(); err != nil {
		t.Fatalf("after transfer: %v", err)
	}

	m, _ := l.MintInfo(mint)
	if m.Supply != 1_000 {
		t.Errorf("supply: got %d, want 1000", m.Supply)
	}
}

func TestCloseAccount_RefusesNonEmpty(t *testing.T) {
	l, mint, authority := newLedgerWithMint(t)

	alice := addr("alice")
	acct := addr("alice-acct")
	l.CreateAccount(acct, mint, alice)
	fund(t, l, mint, authority, acct, 1)

	if err := l.CloseAccount(acct); err == nil {
		t.Fatal("closing a funded account should fail")
	}
}
