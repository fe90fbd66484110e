package main

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// runEntryCycle opens positions for every checkpoint whose window is due.
// Market data is fetched once per checkpoint and shared by all variants
// entering at it; one variant failing never blocks the others.
func (b *Bot) runEntryCycle(ctx context.Context, now time.Time) {
	due, skipped := b.clock.DueCheckpoints(now)
	for _, cp := range skipped {
		b.logger.Printf("Checkpoint %s missed its entry window, skipping for today", cp)
		b.metrics.EntriesSkipped.WithLabelValues("missed_window").Inc()
	}
	if len(due) == 0 {
		return
	}

	for _, cp := range due {
		b.enterCheckpoint(ctx, now, cp)
	}
}

func (b *Bot) enterCheckpoint(ctx context.Context, now time.Time, checkpoint string) {
	variants := b.cfg.VariantsAt(checkpoint)
	b.logger.Printf("Checkpoint %s due: %d variant(s)", checkpoint, len(variants))

	chain, err := b.broker.GetOptionChain(ctx, b.cfg.Underlying.Symbol)
	if err != nil {
		b.logger.Printf("ERROR: checkpoint %s: fetching chain: %v", checkpoint, err)
		b.metrics.BrokerFailures.WithLabelValues("chain").Inc()
		b.skipAll(variants, "chain_unavailable")
		return
	}
	spot, err := b.broker.GetUnderlyingPrice(ctx, b.cfg.Underlying.Symbol)
	if err != nil {
		b.logger.Printf("ERROR: checkpoint %s: fetching spot: %v", checkpoint, err)
		b.metrics.BrokerFailures.WithLabelValues("spot").Inc()
		b.skipAll(variants, "spot_unavailable")
		return
	}
	b.lastSpot = spot

	// IV rank is informational; a failed fetch records zero rather than
	// blocking the entry.
	ivRank, err := b.broker.GetIVRank(ctx, b.cfg.Underlying.Symbol)
	if err != nil {
		b.logger.Printf("WARNING: checkpoint %s: fetching IV rank: %v", checkpoint, err)
		b.metrics.BrokerFailures.WithLabelValues("iv_rank").Inc()
		ivRank = 0
	}

	expiration := models.ExpirationKey(now.In(b.loc))
	for _, v := range variants {
		b.enterVariant(now, v, checkpoint, chain, expiration, spot, ivRank)
	}
}

// enterVariant selects and records one position. Selection failures and
// duplicate entries are skips, not errors: the loop moves on.
func (b *Bot) enterVariant(now time.Time, v *config.VariantConfig, checkpoint string,
	chain models.Chain, expiration string, spot, ivRank float64) {
	strategyID := v.StrategyID(checkpoint)

	legs, err := b.selector.Select(chain, expiration, spot, v)
	if err != nil {
		b.logger.Printf("Skipping %s: %v", strategyID, err)
		b.metrics.EntriesSkipped.WithLabelValues("selection").Inc()
		return
	}

	p := models.NewPosition(strategyID, b.cfg.Underlying.Symbol, v.Name, legs,
		v.ProfitTargetPct, ivRank, now.In(b.loc))

	if err := b.ledger.AddPosition(p); err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			b.logger.Printf("Skipping %s: already traded today", strategyID)
			b.metrics.EntriesSkipped.WithLabelValues("already_traded").Inc()
			return
		}
		b.logger.Printf("ERROR: recording %s: %v", strategyID, err)
		b.metrics.EntriesSkipped.WithLabelValues("ledger").Inc()
		return
	}

	b.logger.Printf("Opened %s: credit %.2f, bp $%.0f, target %.2f",
		p.ID, p.Credit, p.BuyingPower, p.ProfitTarget)
	b.metrics.EntriesOpened.WithLabelValues(strategyID).Inc()
	b.notifier.PositionOpened(p)
}

func (b *Bot) skipAll(variants []*config.VariantConfig, reason string) {
	for range variants {
		b.metrics.EntriesSkipped.WithLabelValues(reason).Inc()
	}
}
