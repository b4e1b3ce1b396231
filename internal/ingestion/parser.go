package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"CoffeeFutures/internal/event"
	"CoffeeFutures/internal/keys"
	"CoffeeFutures/internal/market"

	"github.com/google/uuid"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed event.Command. The ingestion shell parses and validates wire
// payloads before anything reaches the deterministic core.
func ParseRawCommand(raw RawCommand, commandType string) (event.Command, error) {
	switch commandType {
	case "PublishPrice":
		return parsePublishPrice(raw.Data)
	case "OpenDeal":
		return parseOpenDeal(raw.Data)
	case "TopUpMargin":
		return parseTopUpMargin(raw.Data)
	case "MarkToMarket":
		return parseMarkToMarket(raw.Data)
	case "MarginCall":
		return parseMarginCall(raw.Data)
	case "SettleCash":
		return parseSettleCash(raw.Data)
	case "SettlePhysical":
		return parseSettlePhysical(raw.Data)
	case "CancelDeal":
		return parseCancelDeal(raw.Data)
	case "CloseDeal":
		return parseCloseDeal(raw.Data)
	case "InitCftMint":
		return parseInitCftMint(raw.Data)
	case "CreateMarket":
		return parseCreateMarket(raw.Data)
	case "SetPaused":
		return parseSetPaused(raw.Data)
	case "ProposeRotateOracle":
		return parseProposeRotateOracle(raw.Data)
	case "ActivateRotateOracle":
		return parseActivateRotateOracle(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

func parseAddr(field, s string) (keys.Address, error) {
	addr, err := keys.ParseAddress(s)
	if err != nil {
		return keys.ZeroAddress, fmt.Errorf("parse %s: %w", field, err)
	}
	return addr, nil
}

func parseOptionalAddr(field, s string) (keys.Address, error) {
	if s == "" {
		return keys.ZeroAddress, nil
	}
	return parseAddr(field, s)
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func parseHash32(field, s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse %s: %w", field, err)
	}
	if len(b) != 32 {
		return h, fmt.Errorf("parse %s: want 32 bytes, got %d", field, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Addresses travel
// as 64-char hex, hashes as 64-char hex, timestamps as epoch seconds.

type publishPriceJSON struct {
	Market     string `json:"market"`
	Publisher  string `json:"publisher"`
	PricePerKg uint64 `json:"price_per_kg"`
	Nonce      uint64 `json:"nonce"`
	TS         int64  `json:"ts"`
}

func parsePublishPrice(data []byte) (*event.PublishPrice, error) {
	var j publishPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PublishPrice: %w", err)
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	pub, err := parseAddr("publisher", j.Publisher)
	if err != nil {
		return nil, err
	}
	return &event.PublishPrice{
		Market:     mkt,
		Publisher:  pub,
		PricePerKg: j.PricePerKg,
		Nonce:      j.Nonce,
		TS:         j.TS,
	}, nil
}

type openDealJSON struct {
	CommandID        string   `json:"command_id"`
	Market           string   `json:"market"`
	Farmer           string   `json:"farmer"`
	Buyer            string   `json:"buyer"`
	FarmerFunding    string   `json:"farmer_funding"`
	BuyerFunding     string   `json:"buyer_funding"`
	AgreedPricePerKg uint64   `json:"agreed_price_per_kg"`
	QuantityKg       uint64   `json:"quantity_kg"`
	PhysicalDelivery bool     `json:"physical_delivery"`
	DeadlineTS       int64    `json:"deadline_ts"`
	Assets           []string `json:"assets,omitempty"`
	AssetQty         []uint64 `json:"asset_qty,omitempty"`
	MerkleRoot       string   `json:"merkle_root,omitempty"`
	Referrer         string   `json:"referrer,omitempty"`
	FeeSplitBps      uint16   `json:"fee_split_bps,omitempty"`
	TS               int64    `json:"ts"`
}

func parseOpenDeal(data []byte) (*event.OpenDeal, error) {
	var j openDealJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenDeal: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	farmer, err := parseAddr("farmer", j.Farmer)
	if err != nil {
		return nil, err
	}
	buyer, err := parseAddr("buyer", j.Buyer)
	if err != nil {
		return nil, err
	}
	farmerFunding, err := parseAddr("farmer_funding", j.FarmerFunding)
	if err != nil {
		return nil, err
	}
	buyerFunding, err := parseAddr("buyer_funding", j.BuyerFunding)
	if err != nil {
		return nil, err
	}
	referrer, err := parseOptionalAddr("referrer", j.Referrer)
	if err != nil {
		return nil, err
	}

	cmd := &event.OpenDeal{
		CommandID:        id,
		Market:           mkt,
		Farmer:           farmer,
		Buyer:            buyer,
		FarmerFunding:    farmerFunding,
		BuyerFunding:     buyerFunding,
		AgreedPricePerKg: j.AgreedPricePerKg,
		QuantityKg:       j.QuantityKg,
		PhysicalDelivery: j.PhysicalDelivery,
		DeadlineTS:       j.DeadlineTS,
		AssetQty:         j.AssetQty,
		Referrer:         referrer,
		FeeSplitBps:      j.FeeSplitBps,
		TS:               j.TS,
	}
	for i, a := range j.Assets {
		addr, err := parseAddr(fmt.Sprintf("assets[%d]", i), a)
		if err != nil {
			return nil, err
		}
		cmd.Assets = append(cmd.Assets, addr)
	}
	if j.MerkleRoot != "" {
		root, err := parseHash32("merkle_root", j.MerkleRoot)
		if err != nil {
			return nil, err
		}
		cmd.MerkleRoot = &root
	}
	return cmd, nil
}

type topUpMarginJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Deal      string `json:"deal"`
	Who       string `json:"who"`
	From      string `json:"from"`
	Amount    uint64 `json:"amount"`
	TS        int64  `json:"ts"`
}

func parseTopUpMargin(data []byte) (*event.TopUpMargin, error) {
	var j topUpMarginJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TopUpMargin: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	who, err := parseAddr("who", j.Who)
	if err != nil {
		return nil, err
	}
	from, err := parseAddr("from", j.From)
	if err != nil {
		return nil, err
	}
	return &event.TopUpMargin{
		CommandID: id,
		Market:    mkt,
		Deal:      deal,
		Who:       who,
		From:      from,
		Amount:    j.Amount,
		TS:        j.TS,
	}, nil
}

type markToMarketJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Deal      string `json:"deal"`
	TS        int64  `json:"ts"`
}

func parseMarkToMarket(data []byte) (*event.MarkToMarket, error) {
	var j markToMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkToMarket: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	return &event.MarkToMarket{CommandID: id, Market: mkt, Deal: deal, TS: j.TS}, nil
}

type marginCallJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Deal      string `json:"deal"`
	Authority string `json:"authority"`
	GraceSec  uint64 `json:"grace_sec"`
	SetCallTS bool   `json:"set_call_ts"`
	TS        int64  `json:"ts"`
}

func parseMarginCall(data []byte) (*event.MarginCall, error) {
	var j marginCallJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginCall: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddr("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	return &event.MarginCall{
		CommandID: id,
		Market:    mkt,
		Deal:      deal,
		Authority: authority,
		GraceSec:  j.GraceSec,
		SetCallTS: j.SetCallTS,
		TS:        j.TS,
	}, nil
}

type settleCashJSON struct {
	CommandID     string `json:"command_id"`
	Market        string `json:"market"`
	Deal          string `json:"deal"`
	Caller        string `json:"caller"`
	FarmerReceive string `json:"farmer_receive"`
	BuyerReceive  string `json:"buyer_receive"`
	FeeTreasury   string `json:"fee_treasury"`
	TS            int64  `json:"ts"`
}

func parseSettleCash(data []byte) (*event.SettleCash, error) {
	var j settleCashJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettleCash: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	caller, err := parseOptionalAddr("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	farmerReceive, err := parseAddr("farmer_receive", j.FarmerReceive)
	if err != nil {
		return nil, err
	}
	buyerReceive, err := parseAddr("buyer_receive", j.BuyerReceive)
	if err != nil {
		return nil, err
	}
	feeTreasury, err := parseAddr("fee_treasury", j.FeeTreasury)
	if err != nil {
		return nil, err
	}
	return &event.SettleCash{
		ID:            id,
		Market:        mkt,
		Deal:          deal,
		Caller:        caller,
		FarmerReceive: farmerReceive,
		BuyerReceive:  buyerReceive,
		FeeTreasury:   feeTreasury,
		TS:            j.TS,
	}, nil
}

type settlePhysicalJSON struct {
	CommandID       string   `json:"command_id"`
	Market          string   `json:"market"`
	Deal            string   `json:"deal"`
	Verifier        string   `json:"verifier"`
	DeliveredKg     uint64   `json:"delivered_kg"`
	ProofHashes     []string `json:"proof_hashes,omitempty"`
	Leaf            string   `json:"leaf,omitempty"`
	BuyerCftAccount string   `json:"buyer_cft_account"`
	FarmerReceive   string   `json:"farmer_receive"`
	BuyerReceive    string   `json:"buyer_receive"`
	TS              int64    `json:"ts"`
}

func parseSettlePhysical(data []byte) (*event.SettlePhysical, error) {
	var j settlePhysicalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettlePhysical: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	verifier, err := parseAddr("verifier", j.Verifier)
	if err != nil {
		return nil, err
	}
	buyerCft, err := parseAddr("buyer_cft_account", j.BuyerCftAccount)
	if err != nil {
		return nil, err
	}
	farmerReceive, err := parseAddr("farmer_receive", j.FarmerReceive)
	if err != nil {
		return nil, err
	}
	buyerReceive, err := parseAddr("buyer_receive", j.BuyerReceive)
	if err != nil {
		return nil, err
	}

	cmd := &event.SettlePhysical{
		ID:              id,
		Market:          mkt,
		Deal:            deal,
		Verifier:        verifier,
		DeliveredKg:     j.DeliveredKg,
		BuyerCftAccount: buyerCft,
		FarmerReceive:   farmerReceive,
		BuyerReceive:    buyerReceive,
		TS:              j.TS,
	}
	for i, p := range j.ProofHashes {
		h, err := parseHash32(fmt.Sprintf("proof_hashes[%d]", i), p)
		if err != nil {
			return nil, err
		}
		cmd.ProofHashes = append(cmd.ProofHashes, h)
	}
	if j.Leaf != "" {
		leaf, err := parseHash32("leaf", j.Leaf)
		if err != nil {
			return nil, err
		}
		cmd.Leaf = &leaf
	}
	return cmd, nil
}

type cancelDealJSON struct {
	CommandID     string `json:"command_id"`
	Market        string `json:"market"`
	Deal          string `json:"deal"`
	Caller        string `json:"caller"`
	FarmerReceive string `json:"farmer_receive"`
	BuyerReceive  string `json:"buyer_receive"`
	TS            int64  `json:"ts"`
}

func parseCancelDeal(data []byte) (*event.CancelDeal, error) {
	var j cancelDealJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelDeal: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	caller, err := parseOptionalAddr("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	farmerReceive, err := parseAddr("farmer_receive", j.FarmerReceive)
	if err != nil {
		return nil, err
	}
	buyerReceive, err := parseAddr("buyer_receive", j.BuyerReceive)
	if err != nil {
		return nil, err
	}
	return &event.CancelDeal{
		ID:            id,
		Market:        mkt,
		Deal:          deal,
		Caller:        caller,
		FarmerReceive: farmerReceive,
		BuyerReceive:  buyerReceive,
		TS:            j.TS,
	}, nil
}

type closeDealJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Deal      string `json:"deal"`
	Caller    string `json:"caller"`
	TS        int64  `json:"ts"`
}

func parseCloseDeal(data []byte) (*event.CloseDeal, error) {
	var j closeDealJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CloseDeal: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	deal, err := parseAddr("deal", j.Deal)
	if err != nil {
		return nil, err
	}
	caller, err := parseOptionalAddr("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.CloseDeal{ID: id, Market: mkt, Deal: deal, Caller: caller, TS: j.TS}, nil
}

type initCftMintJSON struct {
	CommandID string `json:"command_id"`
	Payer     string `json:"payer"`
	CftMint   string `json:"cft_mint"`
	Decimals  uint8  `json:"decimals"`
	TS        int64  `json:"ts"`
}

func parseInitCftMint(data []byte) (*event.InitCftMint, error) {
	var j initCftMintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse InitCftMint: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	payer, err := parseAddr("payer", j.Payer)
	if err != nil {
		return nil, err
	}
	cftMint, err := parseAddr("cft_mint", j.CftMint)
	if err != nil {
		return nil, err
	}
	return &event.InitCftMint{
		CommandID: id,
		Payer:     payer,
		CftMint:   cftMint,
		Decimals:  j.Decimals,
		TS:        j.TS,
	}, nil
}

type createMarketJSON struct {
	CommandID         string `json:"command_id"`
	Authority         string `json:"authority"`
	Verifier          string `json:"verifier"`
	OraclePublisher   string `json:"oracle_publisher"`
	CftMint           string `json:"cft_mint"`
	QuoteMint         string `json:"quote_mint"`
	InsuranceTreasury string `json:"insurance_treasury"`

	SettlementTS         int64  `json:"settlement_ts"`
	ContractSizeKg       uint64 `json:"contract_size_kg"`
	InitialMarginBps     uint16 `json:"initial_margin_bps"`
	MaintenanceMarginBps uint16 `json:"maintenance_margin_bps"`
	FeeBps               uint16 `json:"fee_bps"`
	FarmerFeeBps         uint16 `json:"farmer_fee_bps"`
	BuyerFeeBps          uint16 `json:"buyer_fee_bps"`
	InsuranceBps         uint16 `json:"insurance_bps"`

	MaxNotionalPerDeal uint64 `json:"max_notional_per_deal"`
	MaxQtyPerDeal      uint64 `json:"max_qty_per_deal"`
	MaxOracleAgeSec    uint64 `json:"max_oracle_age_sec"`
	TwapWindowSec      uint64 `json:"twap_window_sec"`
	PriceMode          uint8  `json:"price_mode"`

	MinTransferAmount         uint64 `json:"min_transfer_amount"`
	DefaultMarginCallGraceSec uint64 `json:"default_margin_call_grace_sec"`

	TS int64 `json:"ts"`
}

func parseCreateMarket(data []byte) (*event.CreateMarket, error) {
	var j createMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddr("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	verifier, err := parseAddr("verifier", j.Verifier)
	if err != nil {
		return nil, err
	}
	oracle, err := parseAddr("oracle_publisher", j.OraclePublisher)
	if err != nil {
		return nil, err
	}
	cftMint, err := parseAddr("cft_mint", j.CftMint)
	if err != nil {
		return nil, err
	}
	quoteMint, err := parseAddr("quote_mint", j.QuoteMint)
	if err != nil {
		return nil, err
	}
	insurance, err := parseAddr("insurance_treasury", j.InsuranceTreasury)
	if err != nil {
		return nil, err
	}
	return &event.CreateMarket{
		CommandID:                 id,
		Authority:                 authority,
		Verifier:                  verifier,
		OraclePublisher:           oracle,
		CftMint:                   cftMint,
		QuoteMint:                 quoteMint,
		InsuranceTreasury:         insurance,
		SettlementTS:              j.SettlementTS,
		ContractSizeKg:            j.ContractSizeKg,
		InitialMarginBps:          j.InitialMarginBps,
		MaintenanceMarginBps:      j.MaintenanceMarginBps,
		FeeBps:                    j.FeeBps,
		FarmerFeeBps:              j.FarmerFeeBps,
		BuyerFeeBps:               j.BuyerFeeBps,
		InsuranceBps:              j.InsuranceBps,
		MaxNotionalPerDeal:        j.MaxNotionalPerDeal,
		MaxQtyPerDeal:             j.MaxQtyPerDeal,
		MaxOracleAgeSec:           j.MaxOracleAgeSec,
		TwapWindowSec:             j.TwapWindowSec,
		PriceMode:                 market.PriceMode(j.PriceMode),
		MinTransferAmount:         j.MinTransferAmount,
		DefaultMarginCallGraceSec: j.DefaultMarginCallGraceSec,
		TS:                        j.TS,
	}, nil
}

type setPausedJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Authority string `json:"authority"`
	Paused    bool   `json:"paused"`
	TS        int64  `json:"ts"`
}

func parseSetPaused(data []byte) (*event.SetPaused, error) {
	var j setPausedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPaused: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddr("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	return &event.SetPaused{ID: id, Market: mkt, Authority: authority, Paused: j.Paused, TS: j.TS}, nil
}

type proposeRotateOracleJSON struct {
	CommandID        string `json:"command_id"`
	Market           string `json:"market"`
	Authority        string `json:"authority"`
	NewOracle        string `json:"new_oracle"`
	EffectiveAfterTS int64  `json:"effective_after_ts"`
	TS               int64  `json:"ts"`
}

func parseProposeRotateOracle(data []byte) (*event.ProposeRotateOracle, error) {
	var j proposeRotateOracleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProposeRotateOracle: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddr("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	newOracle, err := parseAddr("new_oracle", j.NewOracle)
	if err != nil {
		return nil, err
	}
	return &event.ProposeRotateOracle{
		ID:               id,
		Market:           mkt,
		Authority:        authority,
		NewOracle:        newOracle,
		EffectiveAfterTS: j.EffectiveAfterTS,
		TS:               j.TS,
	}, nil
}

type activateRotateOracleJSON struct {
	CommandID string `json:"command_id"`
	Market    string `json:"market"`
	Authority string `json:"authority"`
	TS        int64  `json:"ts"`
}

func parseActivateRotateOracle(data []byte) (*event.ActivateRotateOracle, error) {
	var j activateRotateOracleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ActivateRotateOracle: %w", err)
	}
	id, err := parseID("command_id", j.CommandID)
	if err != nil {
		return nil, err
	}
	mkt, err := parseAddr("market", j.Market)
	if err != nil {
		return nil, err
	}
	authority, err := parseAddr("authority", j.Authority)
	if err != nil {
		return nil, err
	}
	return &event.ActivateRotateOracle{ID: id, Market: mkt, Authority: authority, TS: j.TS}, nil
}
