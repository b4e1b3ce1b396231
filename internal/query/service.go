package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// QueryService provides read-only access to the projection tables. Market
// and deal responses include as_of_sequence so callers can reason about
// freshness relative to the core sequence; price and settlement listings do
// not carry it.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

type MarketResponse struct {
	Market       string `json:"market"`
	Authority    string `json:"authority"`
	CftMint      string `json:"cft_mint"`
	QuoteMint    string `json:"quote_mint"`
	SettlementTS int64  `json:"settlement_ts"`
	LastPrice    uint64 `json:"last_price_per_kg"`
	LastNonce    uint64 `json:"last_price_nonce"`
	Paused       bool   `json:"paused"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type DealResponse struct {
	Deal             string `json:"deal"`
	Market           string `json:"market"`
	Farmer           string `json:"farmer"`
	Buyer            string `json:"buyer"`
	AgreedPricePerKg uint64 `json:"agreed_price_per_kg"`
	QuantityKg       uint64 `json:"quantity_kg"`
	PhysicalDelivery bool   `json:"physical_delivery"`
	DeliveredKgTotal uint64 `json:"delivered_kg_total"`
	Settled          bool   `json:"settled"`
	Liquidated       bool   `json:"liquidated"`
	MarginCalled     bool   `json:"margin_called"`
	Closed           bool   `json:"closed"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

type PriceResponse struct {
	Market     string `json:"market"`
	Nonce      uint64 `json:"nonce"`
	PricePerKg uint64 `json:"price_per_kg"`
	TS         int64  `json:"ts"`
}

type SettlementResponse struct {
	Sequence int64           `json:"sequence"`
	Deal     string          `json:"deal"`
	Market   string          `json:"market"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	TS       int64           `json:"ts"`
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT sequence FROM projections.watermark WHERE id = 1`,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// GetMarket returns one market read model.
func (qs *QueryService) GetMarket(ctx context.Context, market string) (*MarketResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp MarketResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT market, authority, cft_mint, quote_mint, settlement_ts,
		       last_price_per_kg, last_price_nonce, paused
		FROM projections.markets
		WHERE market = $1
	`, market).Scan(
		&resp.Market, &resp.Authority, &resp.CftMint, &resp.QuoteMint,
		&resp.SettlementTS, &resp.LastPrice, &resp.LastNonce, &resp.Paused,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.AsOfSequence = asOf
	return &resp, nil
}

// GetDeal returns one deal read model.
func (qs *QueryService) GetDeal(ctx context.Context, deal string) (*DealResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp DealResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT deal, market, farmer, buyer, agreed_price_per_kg, quantity_kg,
		       physical_delivery, delivered_kg_total, settled, liquidated, margin_called, closed
		FROM projections.deals
		WHERE deal = $1
	`, deal).Scan(
		&resp.Deal, &resp.Market, &resp.Farmer, &resp.Buyer,
		&resp.AgreedPricePerKg, &resp.QuantityKg, &resp.PhysicalDelivery,
		&resp.DeliveredKgTotal, &resp.Settled, &resp.Liquidated,
		&resp.MarginCalled, &resp.Closed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.AsOfSequence = asOf
	return &resp, nil
}

// ListDeals returns the deals for a market.
func (qs *QueryService) ListDeals(ctx context.Context, market string) ([]DealResponse, error) {
	asOf, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT deal, market, farmer, buyer, agreed_price_per_kg, quantity_kg,
		       physical_delivery, delivered_kg_total, settled, liquidated, margin_called, closed
		FROM projections.deals
		WHERE market = $1
		ORDER BY deal
	`, market)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DealResponse
	for rows.Next() {
		var resp DealResponse
		if err := rows.Scan(
			&resp.Deal, &resp.Market, &resp.Farmer, &resp.Buyer,
			&resp.AgreedPricePerKg, &resp.QuantityKg, &resp.PhysicalDelivery,
			&resp.DeliveredKgTotal, &resp.Settled, &resp.Liquidated,
			&resp.MarginCalled, &resp.Closed,
		); err != nil {
			return nil, err
		}
		resp.AsOfSequence = asOf
		out = append(out, resp)
	}
	return out, rows.Err()
}

// ListPrices returns the most recent accepted prices for a market, newest
// first.
func (qs *QueryService) ListPrices(ctx context.Context, market string, limit int) ([]PriceResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market, nonce, price_per_kg, ts
		FROM projections.prices
		WHERE market = $1
		ORDER BY nonce DESC
		LIMIT $2
	`, market, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceResponse
	for rows.Next() {
		var resp PriceResponse
		if err := rows.Scan(&resp.Market, &resp.Nonce, &resp.PricePerKg, &resp.TS); err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

// ListSettlements returns the settlement history for a deal.
func (qs *QueryService) ListSettlements(ctx context.Context, deal string) ([]SettlementResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, deal, market, kind, payload, ts
		FROM projections.settlements
		WHERE deal = $1
		ORDER BY sequence
	`, deal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var resp SettlementResponse
		if err := rows.Scan(&resp.Sequence, &resp.Deal, &resp.Market, &resp.Kind, &resp.Payload, &resp.TS); err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}
