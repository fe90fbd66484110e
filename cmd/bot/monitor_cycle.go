package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/strategy"
)

// runMonitorCycle values every open position against one batched quote
// snapshot, applies due exits, and runs the settlement sweep when the
// session ends.
func (b *Bot) runMonitorCycle(ctx context.Context, now time.Time) {
	open := b.ledger.GetOpenPositions()

	if len(open) > 0 {
		b.evaluateOpen(ctx, now, open)
	}

	if b.clock.SettlementDue(now) {
		b.settle(ctx, now)
	}
}

func (b *Bot) evaluateOpen(ctx context.Context, now time.Time, open []*models.Position) {
	symbols := make([]string, 0, len(open)*4+1)
	for _, p := range open {
		symbols = append(symbols, p.Legs.Symbols()...)
	}

	quotes, err := b.broker.GetQuotes(ctx, symbols)
	if err != nil {
		// No data, no decisions: hold everything until the next poll.
		b.logger.Printf("ERROR: fetching quotes for %d position(s): %v", len(open), err)
		b.metrics.BrokerFailures.WithLabelValues("quotes").Inc()
		return
	}

	// Refresh the settlement fallback while the stream is healthy.
	if spot, err := b.broker.GetUnderlyingPrice(ctx, b.cfg.Underlying.Symbol); err == nil {
		b.lastSpot = spot
	}

	for _, p := range open {
		b.applyDecision(now, p, quotes)
	}
}

func (b *Bot) applyDecision(now time.Time, p *models.Position, quotes map[string]models.Quote) {
	timeExit := ""
	if v := b.variantFor(p.StrategyID); v != nil {
		timeExit = v.TimeExit
	}

	d := b.evaluator.Evaluate(p, quotes, now, timeExit)
	switch d.Action {
	case strategy.Close:
		note := fmt.Sprintf("Closed at Debit: %.2f", d.Debit)
		if d.Reason == strategy.ExitReasonStale {
			note = "Stale position from previous session; assumed max loss"
		}
		if err := b.ledger.ClosePosition(p.ID, now.In(b.loc), d.PL, d.Reason, note); err != nil {
			// Lost the race with another transition this tick; the ledger
			// already holds a terminal record.
			b.logger.Printf("WARNING: closing %s: %v", p.ID, err)
			return
		}
		b.logger.Printf("Closed %s: P/L %.2f (%s)", p.ID, d.PL, d.Reason)
		b.metrics.ExitsClosed.WithLabelValues(d.Reason).Inc()
		if closed, ok := b.ledger.GetPositionByID(p.ID); ok {
			b.notifier.PositionClosed(closed)
		}
	case strategy.MarkStale:
		b.metrics.StaleQuoteTicks.Inc()
	case strategy.Hold:
		b.logger.Printf("Holding %s: P/L %.2f of %.2f target", p.ID, d.PL, p.ProfitTarget)
	}
}

// settle expires whatever remains open at the settlement price. A live
// quote is preferred; the cached spot is the fallback and is flagged as
// such on the record.
func (b *Bot) settle(ctx context.Context, now time.Time) {
	price, fallback := b.lastSpot, true
	if live, err := b.broker.GetUnderlyingPrice(ctx, b.cfg.Underlying.Symbol); err == nil {
		price, fallback = live, false
	} else {
		b.logger.Printf("WARNING: no live settlement price, using cached %.2f: %v", price, err)
		b.metrics.BrokerFailures.WithLabelValues("settlement_price").Inc()
	}

	count := b.settler.SettleAll(now.In(b.loc), price, fallback)
	if count > 0 {
		b.metrics.Settlements.Add(float64(count))
		b.notifier.SettlementComplete(count, b.clock.TradingDay(now))
	}
}
