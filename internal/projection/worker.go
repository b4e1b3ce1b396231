package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"CoffeeFutures/internal/observability"
)

var log = observability.NewLogger("projection")

// ProjectionOutput mirrors engine.Output in projection-ready form. The
// orchestrator bridges between the two to avoid an import cycle.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Market    string
	Deal      string
	Payload   json.RawMessage
	Timestamp int64
}

// ProjectionWorker drains the projection channel and maintains the read
// models. The channel drops on full; an event dropped there is never applied
// to the read models, and this worker does not read the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run processes projection updates until ctx is cancelled.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.apply(ctx, output); err != nil {
				log.Warn().Int64("sequence", output.Sequence).
					Str("event_type", output.EventType).Err(err).
					Msg("projection update failed")
				continue
			}

			if _, err := pw.db.ExecContext(ctx,
				`UPDATE projections.watermark SET sequence = GREATEST(sequence, $1) WHERE id = 1`,
				output.Sequence,
			); err != nil {
				log.Warn().Err(err).Msg("watermark update failed")
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, out ProjectionOutput) error {
	switch out.EventType {
	case "MarketCreated":
		return pw.applyMarketCreated(ctx, out)
	case "PricePublished":
		return pw.applyPricePublished(ctx, out)
	case "MarketPauseSet":
		return pw.applyPauseSet(ctx, out)
	case "DealOpened":
		return pw.applyDealOpened(ctx, out)
	case "MarginCalled":
		return pw.setDealFlag(ctx, out, "margin_called")
	case "LiquidationFlagged":
		return pw.setDealFlag(ctx, out, "liquidated")
	case "SettledCash":
		return pw.applySettlement(ctx, out, "cash", true)
	case "SettledPhysical":
		return pw.applyPhysical(ctx, out)
	case "DealCanceled":
		return pw.applySettlement(ctx, out, "canceled", true)
	case "DealClosed":
		return pw.setDealFlag(ctx, out, "closed")
	default:
		// CftMintInitialized, MarginToppedUp, rotation events carry no read
		// model of their own.
		return nil
	}
}

func (pw *ProjectionWorker) applyMarketCreated(ctx context.Context, out ProjectionOutput) error {
	var rec struct {
		Market       string `json:"market"`
		Authority    string `json:"authority"`
		CftMint      string `json:"cft_mint"`
		QuoteMint    string `json:"quote_mint"`
		SettlementTS int64  `json:"settlement_ts"`
	}
	if err := json.Unmarshal(out.Payload, &rec); err != nil {
		return err
	}

	_, err := pw.db.ExecContext(ctx, `
		INSERT INTO projections.markets (market, authority, cft_mint, quote_mint, settlement_ts, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market) DO NOTHING
	`, rec.Market, rec.Authority, rec.CftMint, rec.QuoteMint, rec.SettlementTS, out.Sequence)
	return err
}

func (pw *ProjectionWorker) applyPricePublished(ctx context.Context, out ProjectionOutput) error {
	var rec struct {
		Market     string `json:"market"`
		PricePerKg uint64 `json:"price_per_kg"`
		Nonce      uint64 `json:"nonce"`
		TS         int64  `json:"ts"`
	}
	if err := json.Unmarshal(out.Payload, &rec); err != nil {
		return err
	}

	if _, err := pw.db.ExecContext(ctx, `
		INSERT INTO projections.prices (market, nonce, price_per_kg, ts, sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market, nonce) DO NOTHING
	`, rec.Market, rec.Nonce, rec.PricePerKg, rec.TS, out.Sequence); err != nil {
		return err
	}

	_, err := pw.db.ExecContext(ctx, `
		UPDATE projections.markets
		SET last_price_per_kg = $2, last_price_nonce = $3, updated_seq = $4
		WHERE market = $1 AND last_price_nonce < $3
	`, rec.Market, rec.PricePerKg, rec.Nonce, out.Sequence)
	return err
}

func (pw *ProjectionWorker) applyPauseSet(ctx context.Context, out ProjectionOutput) error {
	var rec struct {
		Market string `json:"market"`
		Paused bool   `json:"paused"`
	}
	if err := json.Unmarshal(out.Payload, &rec); err != nil {
		return err
	}

	_, err := pw.db.ExecContext(ctx, `
		UPDATE projections.markets SET paused = $2, updated_seq = $3 WHERE market = $1
	`, rec.Market, rec.Paused, out.Sequence)
	return err
}

func (pw *ProjectionWorker) applyDealOpened(ctx context.Context, out ProjectionOutput) error {
	var rec struct {
		Deal             string `json:"deal"`
		Market           string `json:"market"`
		Farmer           string `json:"farmer"`
		Buyer            string `json:"buyer"`
		AgreedPricePerKg uint64 `json:"agreed_price_per_kg"`
		QuantityKg       uint64 `json:"quantity_kg"`
		PhysicalDelivery bool   `json:"physical_delivery"`
	}
	if err := json.Unmarshal(out.Payload, &rec); err != nil {
		return err
	}

	_, err := pw.db.ExecContext(ctx, `
		INSERT INTO projections.deals
			(deal, market, farmer, buyer, agreed_price_per_kg, quantity_kg, physical_delivery, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (deal) DO NOTHING
	`, rec.Deal, rec.Market, rec.Farmer, rec.Buyer,
		rec.AgreedPricePerKg, rec.QuantityKg, rec.PhysicalDelivery, out.Sequence)
	return err
}

func (pw *ProjectionWorker) setDealFlag(ctx context.Context, out ProjectionOutput, column string) error {
	if out.Deal == "" {
		return nil
	}
	// column comes from the dispatch switch above, never from input
	_, err := pw.db.ExecContext(ctx,
		`UPDATE projections.deals SET `+column+` = TRUE, updated_seq = $2 WHERE deal = $1`,
		out.Deal, out.Sequence)
	return err
}

func (pw *ProjectionWorker) applySettlement(ctx context.Context, out ProjectionOutput, kind string, markSettled bool) error {
	if _, err := pw.db.ExecContext(ctx, `
		INSERT INTO projections.settlements (sequence, deal, market, kind, payload, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, out.Sequence, out.Deal, out.Market, kind, []byte(out.Payload), out.Timestamp); err != nil {
		return err
	}

	if markSettled {
		if _, err := pw.db.ExecContext(ctx,
			`UPDATE projections.deals SET settled = TRUE, updated_seq = $2 WHERE deal = $1`,
			out.Deal, out.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func (pw *ProjectionWorker) applyPhysical(ctx context.Context, out ProjectionOutput) error {
	var rec struct {
		Cumulative uint64 `json:"cumulative"`
		Completed  bool   `json:"completed"`
	}
	if err := json.Unmarshal(out.Payload, &rec); err != nil {
		return err
	}

	if err := pw.applySettlement(ctx, out, "physical", rec.Completed); err != nil {
		return err
	}

	_, err := pw.db.ExecContext(ctx,
		`UPDATE projections.deals SET delivered_kg_total = $2, updated_seq = $3 WHERE deal = $1`,
		out.Deal, rec.Cumulative, out.Sequence)
	return err
}
