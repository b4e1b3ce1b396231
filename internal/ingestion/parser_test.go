package ingestion_test

import (
	"fmt"
	"testing"

	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/ingestion"
	"CoffeeFutures/internal/keys"
)

func hexAddr(label string) string {
	a, _ := keys.Derive([]byte("parser-test"), []byte(label))
	return a.String()
}

func TestParsePublishPrice(t *testing.T) {
	payload := fmt.Sprintf(`{
		"market": %q,
		"publisher": %q,
		"price_per_kg": 1500,
		"nonce": 7,
		"ts": 1700000000
	}`, hexAddr("market"), hexAddr("oracle"))

	cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(payload)}, "PublishPrice")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	pp, ok := cmd.(*event.PublishPrice)
	if !ok {
		t.Fatalf("wrong type: %T", cmd)
	}
	if pp.PricePerKg != 1500 || pp.Nonce != 7 || pp.TS != 1700000000 {
		t.Errorf("fields: %+v", pp)
	}
	if pp.Market.String() != hexAddr("market") {
		t.Error("market address mismatch")
	}
	// The idempotency key covers the nonce, price and timestamp.
	if pp.IdempotencyKey() != fmt.Sprintf("%s:price:7:1500:1700000000", pp.Market) {
		t.Errorf("idempotency key: %s", pp.IdempotencyKey())
	}
}

func TestParseOpenDeal_WithBasketAndRoot(t *testing.T) {
	root := hexAddr("some-root") // any 32-byte hex works as a root
	payload := fmt.Sprintf(`{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"market": %q,
		"farmer": %q,
		"buyer": %q,
		"farmer_funding": %q,
		"buyer_funding": %q,
		"agreed_price_per_kg": 2000,
		"quantity_kg": 5,
		"physical_delivery": true,
		"deadline_ts": 1700050000,
		"assets": [%q],
		"asset_qty": [5],
		"merkle_root": %q,
		"ts": 1700000000
	}`, hexAddr("market"), hexAddr("farmer"), hexAddr("buyer"),
		hexAddr("farmer-funding"), hexAddr("buyer-funding"), hexAddr("cft-mint"), root)

	cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(payload)}, "OpenDeal")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	od := cmd.(*event.OpenDeal)
	if !od.PhysicalDelivery || od.AgreedPricePerKg != 2000 || od.QuantityKg != 5 {
		t.Errorf("fields: %+v", od)
	}
	if len(od.Assets) != 1 || len(od.AssetQty) != 1 || od.AssetQty[0] != 5 {
		t.Errorf("basket: %v / %v", od.Assets, od.AssetQty)
	}
	if od.MerkleRoot == nil {
		t.Error("merkle root missing")
	}
	if !od.Referrer.IsZero() {
		t.Error("absent referrer should parse as zero address")
	}
}

func TestParseSettlePhysical_ProofHashes(t *testing.T) {
	payload := fmt.Sprintf(`{
		"command_id": "550e8400-e29b-41d4-a716-446655440001",
		"market": %q,
		"deal": %q,
		"verifier": %q,
		"delivered_kg": 2,
		"proof_hashes": [%q, %q],
		"leaf": %q,
		"buyer_cft_account": %q,
		"farmer_receive": %q,
		"buyer_receive": %q,
		"ts": 1700000100
	}`, hexAddr("market"), hexAddr("deal"), hexAddr("verifier"),
		hexAddr("p0"), hexAddr("p1"), hexAddr("leaf"),
		hexAddr("buyer-cft"), hexAddr("farmer-recv"), hexAddr("buyer-recv"))

	cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(payload)}, "SettlePhysical")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sp := cmd.(*event.SettlePhysical)
	if sp.DeliveredKg != 2 || len(sp.ProofHashes) != 2 || sp.Leaf == nil {
		t.Errorf("fields: kg=%d proofs=%d leaf=%v", sp.DeliveredKg, len(sp.ProofHashes), sp.Leaf)
	}
}

func TestParseRawCommand_Rejects(t *testing.T) {
	if _, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(`{}`)}, "NoSuchCommand"); err == nil {
		t.Error("unknown command type should fail")
	}

	if _, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(`{not json`)}, "PublishPrice"); err == nil {
		t.Error("malformed JSON should fail")
	}

	// Bad address length
	payload := `{"market": "abcd", "publisher": "abcd", "price_per_kg": 1, "nonce": 1, "ts": 1}`
	if _, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: []byte(payload)}, "PublishPrice"); err == nil {
		t.Error("short address should fail")
	}
}
