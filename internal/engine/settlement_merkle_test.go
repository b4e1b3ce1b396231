package engine_test

import (
	"testing"

	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/merkle"

	"github.com/google/uuid"
)

// openMerkleDeal opens a physical deal whose deliveries must carry a proof
// against the given root, with the CFT mint listed in the basket.
func (f *fixture) openMerkleDeal(root [32]byte) keys.Address {
	f.t.Helper()
	f.mustProcess(&event.OpenDeal{
		CommandID:        uuid.New(),
		Market:           f.market,
		Farmer:           f.farmer,
		Buyer:            f.buyer,
		FarmerFunding:    f.farmerFunding,
		BuyerFunding:     f.buyerFunding,
		AgreedPricePerKg: 2_000,
		QuantityKg:       5,
		PhysicalDelivery: true,
		DeadlineTS:       baseTS + 50_000,
		Assets:           []keys.Address{f.cftMint},
		AssetQty:         []uint64{5},
		MerkleRoot:       &root,
		TS:               baseTS,
	})
	dealAddr, _ := keys.DealAddress(f.market, f.farmer, f.buyer)
	return dealAddr
}

func TestSettlePhysical_MerkleGate(t *testing.T) {
	f := newFixture(t, defaultMarketParams())
	f.fund(f.farmerFunding, 20_000)
	f.fund(f.buyerFunding, 20_000)

	leaf := merkle.HashLeaf([]byte("delivery-lot-7"))
	sibling := merkle.HashLeaf([]byte("delivery-lot-8"))
	root := merkle.ComputeRoot(leaf, []merkle.Hash{sibling})

	deal := f.openMerkleDeal(root)
	d, _ := f.eng.Deal(deal)

	f.mustProcess(&event.TopUpMargin{
		CommandID: uuid.New(), Market: f.market, Deal: deal,
		Who: f.buyer, From: f.buyerFunding, Amount: 9_000, TS: baseTS + 10,
	})

	// Missing leaf.
	err := f.eng.ProcessCommand(&event.SettlePhysical{
		ID: uuid.New(), Market: f.market, Deal: deal, Verifier: f.verifier,
		DeliveredKg: 2, ProofHashes: [][32]byte{sibling},
		BuyerCftAccount: f.buyerCft, FarmerReceive: f.farmerReceive, BuyerReceive: f.buyerReceive,
		TS: baseTS + 20,
	})
	if !coffee.IsCode(err, coffee.CodeMerkleProofMissing) {
		t.Fatalf("expected MerkleProofMissing, got %v", err)
	}

	// Tampered sibling.
	badSibling := sibling
	badSibling[0] ^= 0x01
	badLeaf := [32]byte(leaf)
	err = f.eng.ProcessCommand(&event.SettlePhysical{
		ID: uuid.New(), Market: f.market, Deal: deal, Verifier: f.verifier,
		DeliveredKg: 2, ProofHashes: [][32]byte{badSibling}, Leaf: &badLeaf,
		BuyerCftAccount: f.buyerCft, FarmerReceive: f.farmerReceive, BuyerReceive: f.buyerReceive,
		TS: baseTS + 30,
	})
	if !coffee.IsCode(err, coffee.CodeBadMerkleProof) {
		t.Fatalf("expected BadMerkleProof, got %v", err)
	}
	if d.DeliveredKgTotal != 0 {
		t.Fatal("rejected delivery mutated the deal")
	}

	// Valid proof: delivery goes through, guard released.
	goodLeaf := [32]byte(leaf)
	if err := f.eng.ProcessCommand(&event.SettlePhysical{
		ID: uuid.New(), Market: f.market, Deal: deal, Verifier: f.verifier,
		DeliveredKg: 2, ProofHashes: [][32]byte{sibling}, Leaf: &goodLeaf,
		BuyerCftAccount: f.buyerCft, FarmerReceive: f.farmerReceive, BuyerReceive: f.buyerReceive,
		TS: baseTS + 40,
	}); err != nil {
		t.Fatalf("valid delivery: %v", err)
	}

	if d.DeliveredKgTotal != 2 {
		t.Errorf("delivered total: got %d, want 2", d.DeliveredKgTotal)
	}
	if d.Settling {
		t.Error("settling guard not released after partial delivery")
	}
	if got := f.balance(f.buyerCft); got != 2_000 {
		t.Errorf("delivery tokens: got %d, want 2000", got)
	}
}

func TestSettlePhysical_ProofTooLarge(t *testing.T) {
	f := newFixture(t, defaultMarketParams())
	f.fund(f.farmerFunding, 20_000)
	f.fund(f.buyerFunding, 20_000)

	root := merkle.HashLeaf([]byte("root"))
	deal := f.openMerkleDeal(root)

	proofs := make([][32]byte, merkle.MaxProofHashes+1)
	leaf := [32]byte(merkle.HashLeaf([]byte("leaf")))
	err := f.eng.ProcessCommand(&event.SettlePhysical{
		ID: uuid.New(), Market: f.market, Deal: deal, Verifier: f.verifier,
		DeliveredKg: 1, ProofHashes: proofs, Leaf: &leaf,
		BuyerCftAccount: f.buyerCft, FarmerReceive: f.farmerReceive, BuyerReceive: f.buyerReceive,
		TS: baseTS + 20,
	})
	if !coffee.IsCode(err, coffee.CodeProofTooLarge) {
		t.Fatalf("expected ProofTooLarge, got %v", err)
	}
}
