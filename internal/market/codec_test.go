package market_test

import (
	"bytes"
	"testing"

	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/market"
)

func testAddr(label string) keys.Address {
	a, _ := keys.Derive([]byte("codec-test"), []byte(label))
	return a
}

func TestMarketCodec_RoundTrip(t *testing.T) {
	in := &market.Market{
		Version:                   market.ProgramVersion,
		Address:                   testAddr("market"),
		Authority:                 testAddr("authority"),
		Verifier:                  testAddr("verifier"),
		OraclePublisher:           testAddr("oracle"),
		PendingOracle:             testAddr("pending"),
		PendingOracleEffectiveTS:  1_700_010_000,
		CftMint:                   testAddr("cft"),
		QuoteMint:                 testAddr("quote"),
		InsuranceTreasury:         testAddr("insurance"),
		SettlementTS:              1_700_100_000,
		ContractSizeKg:            60,
		InitialMarginBps:          1_000,
		MaintenanceMarginBps:      500,
		FeeBps:                    50,
		FarmerFeeBps:              25,
		BuyerFeeBps:               25,
		InsuranceBps:              100,
		DefaultMarginCallGraceSec: 60,
		MaxNotionalPerDeal:        1_000_000_000,
		MaxQtyPerDeal:             1_000_000,
		LastPricePerKg:            1_800,
		PrevPricePerKg:            1_500,
		LastPriceNonce:            7,
		LastOracleUpdateTS:        1_700_000_123,
		MaxOracleAgeSec:           3_600,
		TwapAcc:                   123_456,
		TwapTimeAcc:               60,
		TwapWindowSec:             60,
		PriceMode:                 market.PriceModeTWAP,
		Paused:                    true,
		MinTransferAmount:         10,
		ProgramVersion:            market.ProgramVersion,
	}

	raw := market.EncodeMarket(in)
	out, err := market.DecodeMarket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if *out != *in {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}

	// Encoding is byte-stable.
	if !bytes.Equal(raw, market.EncodeMarket(out)) {
		t.Error("re-encoding produced different bytes")
	}
}

func TestDealCodec_RoundTrip(t *testing.T) {
	in := &market.Deal{
		Version:           market.ProgramVersion,
		Address:           testAddr("deal"),
		Market:            testAddr("market"),
		Farmer:            testAddr("farmer"),
		Buyer:             testAddr("buyer"),
		Referrer:          testAddr("referrer"),
		FeeSplitBps:       250,
		AgreedPricePerKg:  2_000,
		QuantityKg:        5,
		InitialMarginEach: 1_000,
		PhysicalDelivery:  true,
		DeadlineTS:        1_700_050_000,
		FarmerDeposited:   true,
		BuyerDeposited:    true,
		AssetCount:         2,
		DeliveredKgTotal:   2,
		MarginCallTS:       1_700_000_500,
		MarginCallGraceSec: 60,
		Settling:           false,
		Liquidated:         false,
		VaultAuth:          testAddr("vault-auth"),
		VaultAuthBump:      17,
		FarmerVault:        testAddr("farmer-vault"),
		BuyerVault:         testAddr("buyer-vault"),
	}
	in.Assets[0] = testAddr("asset-0")
	in.Assets[1] = testAddr("asset-1")
	in.AssetQty[0] = 3
	in.AssetQty[1] = 2
	in.MerkleRoot[0] = 0xAB
	in.MerkleRoot[31] = 0xCD

	raw := market.EncodeDeal(in)
	out, err := market.DecodeDeal(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if *out != *in {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestDealCodec_TruncatedFails(t *testing.T) {
	in := &market.Deal{Version: market.ProgramVersion}
	raw := market.EncodeDeal(in)

	if _, err := market.DecodeDeal(raw[:len(raw)/2]); err == nil {
		t.Error("truncated record should fail to decode")
	}
}

func TestDealCodec_BadAssetCountFails(t *testing.T) {
	in := &market.Deal{Version: market.ProgramVersion}
	raw := market.EncodeDeal(in)

	// Corrupt the asset count field (version + 5 addresses + bps(2) +
	// 3*u64 + bool + i64 + 2 bools).
	off := 1 + 32*5 + 2 + 8*3 + 1 + 8 + 2
	raw[off] = 200
	if _, err := market.DecodeDeal(raw); err == nil {
		t.Error("oversized asset count should fail to decode")
	}
}
