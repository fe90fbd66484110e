package main

import (
	"context"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/metrics"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/schedule"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/eddiefleurent/stamford_condor/internal/strategy"
)

// Bot owns one trading session: entries at the configured checkpoints,
// exit monitoring on every poll, and settlement at end of day. All market
// data flows through the broker; all position state flows through the
// ledger.
type Bot struct {
	cfg       *config.Config
	broker    broker.Broker
	ledger    storage.Interface
	clock     *schedule.MarketClock
	selector  *strategy.Selector
	evaluator *strategy.ExitEvaluator
	settler   *strategy.SettlementEngine
	notifier  *notify.Notifier
	metrics   *metrics.Metrics
	logger    *log.Logger
	loc       *time.Location

	// variantsByID maps a strategy id (prefix + checkpoint) to its
	// variant, for exit policy lookups on open positions.
	variantsByID map[string]*config.VariantConfig

	// lastSpot is the most recent underlying mid, kept as the settlement
	// fallback when the live quote is unavailable at the sweep. Only the
	// run loop goroutine touches it.
	lastSpot float64
}

// newBot wires the trading core together.
func newBot(cfg *config.Config, b broker.Broker, ledger storage.Interface,
	notifier *notify.Notifier, m *metrics.Metrics, logger *log.Logger) *Bot {
	loc := cfg.Location()

	variantsByID := make(map[string]*config.VariantConfig)
	for i := range cfg.Variants {
		v := &cfg.Variants[i]
		for _, cp := range v.Checkpoints {
			variantsByID[v.StrategyID(cp)] = v
		}
	}

	return &Bot{
		cfg:    cfg,
		broker: b,
		ledger: ledger,
		clock: schedule.NewMarketClock(loc, cfg.AllCheckpoints(),
			cfg.Schedule.EntryTolerance.Std(), cfg.Schedule.SettlementTime),
		selector:     strategy.NewSelector(logger),
		evaluator:    strategy.NewExitEvaluator(loc, logger),
		settler:      strategy.NewSettlementEngine(ledger, logger),
		notifier:     notifier,
		metrics:      m,
		logger:       logger,
		loc:          loc,
		variantsByID: variantsByID,
	}
}

// Run drives the trading loop until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Printf("Trading loop started: %d variants, checkpoints %v, settlement %s %s",
		len(b.cfg.Variants), b.cfg.AllCheckpoints(),
		b.cfg.Schedule.SettlementTime, b.cfg.Schedule.Timezone)

	b.reconcileStale(time.Now())

	ticker := time.NewTicker(b.cfg.Schedule.PollInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Printf("Trading loop stopping: %v", ctx.Err())
			return ctx.Err()
		case now := <-ticker.C:
			b.tick(ctx, now)
		}
	}
}

// tick runs one poll: entries first so a brand-new position is monitored
// on the same pass, then exits and settlement.
func (b *Bot) tick(ctx context.Context, now time.Time) {
	b.runEntryCycle(ctx, now)
	b.runMonitorCycle(ctx, now)
}

// reconcileStale closes out positions still open from a previous trading
// day, before the first tick. The contracts are long gone and the price
// they settled at cannot be reconstructed, so the record takes the
// defined-risk worst case. The evaluator applies the same rule for a day
// rollover mid-run.
func (b *Bot) reconcileStale(now time.Time) {
	today := b.clock.TradingDay(now)
	for _, p := range b.ledger.GetOpenPositions() {
		if !p.EntryDate.In(b.loc).Before(today) {
			continue
		}
		pl := -p.MaxLoss()
		err := b.ledger.ClosePosition(p.ID, now.In(b.loc), pl, strategy.ExitReasonStale,
			"Stale position from previous session; assumed max loss")
		if err != nil {
			b.logger.Printf("WARNING: reconciling stale position %s: %v", p.ID, err)
			continue
		}
		b.logger.Printf("Stale position %s from %s closed at assumed max loss %.2f",
			p.ID, p.EntryDate.In(b.loc).Format("2006-01-02"), pl)
		b.metrics.ExitsClosed.WithLabelValues(strategy.ExitReasonStale).Inc()
	}
}

// variantFor resolves the exit policy for an open position. Positions
// recorded before a config change may reference a strategy id that no
// longer exists; they are monitored with no time exit.
func (b *Bot) variantFor(strategyID string) *config.VariantConfig {
	return b.variantsByID[strategyID]
}
