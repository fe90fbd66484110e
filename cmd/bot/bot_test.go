package main

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/metrics"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/stretchr/testify/require"
)

// fakeBroker serves canned market data to the trading loop.
type fakeBroker struct {
	chain     models.Chain
	chainErr  error
	quotes    map[string]models.Quote
	quotesErr error
	spot      float64
	spotErr   error
	ivr       float64
	ivrErr    error
}

func (f *fakeBroker) GetOptionChain(ctx context.Context, underlying string) (models.Chain, error) {
	return f.chain, f.chainErr
}

func (f *fakeBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	if f.quotesErr != nil {
		return nil, f.quotesErr
	}
	out := make(map[string]models.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (f *fakeBroker) GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	return f.spot, f.spotErr
}

func (f *fakeBroker) GetIVRank(ctx context.Context, symbol string) (float64, error) {
	return f.ivr, f.ivrErr
}

const testDay = "2026-08-27"

var testExpiry = time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

func opt(typ models.OptionType, strike, bid, ask, delta float64) models.Option {
	return models.Option{
		Symbol: models.FormatOptionSymbol("SPXW", testExpiry, typ, strike),
		Strike: strike,
		Type:   typ,
		Bid:    bid,
		Ask:    ask,
		Delta:  delta,
	}
}

// testChain lists calls and puts around a 6850 spot, with 0.20-delta
// strikes at 6900 and 6800 and full wings 25 points out.
func testChain() models.Chain {
	return models.Chain{
		testDay: {
			opt(models.OptionTypeCall, 6875, 5.00, 5.20, 0.30),
			opt(models.OptionTypeCall, 6900, 3.10, 3.30, 0.21),
			opt(models.OptionTypeCall, 6925, 1.00, 1.10, 0.12),
			opt(models.OptionTypeCall, 6950, 0.40, 0.50, 0.05),
			opt(models.OptionTypePut, 6825, 4.80, 5.00, -0.31),
			opt(models.OptionTypePut, 6800, 2.80, 3.00, -0.19),
			opt(models.OptionTypePut, 6775, 0.90, 1.00, -0.10),
			opt(models.OptionTypePut, 6750, 0.30, 0.40, -0.04),
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Underlying:  config.UnderlyingConfig{Symbol: "SPX", Root: "SPXW"},
		Schedule: config.ScheduleConfig{
			Timezone:       "Europe/London",
			PollInterval:   config.Duration(30 * time.Second),
			EntryTolerance: config.Duration(5 * time.Minute),
			SettlementTime: "21:00",
		},
		Variants: []config.VariantConfig{
			{
				Name:              "20 Delta",
				Prefix:            "IC-20D",
				Structure:         config.StructureCondor,
				TargetDelta:       0.20,
				MaxDeltaDeviation: 0.05,
				WingWidth:         25,
				ProfitTargetPct:   0.25,
				Checkpoints:       []string{"14:45", "15:30"},
			},
			{
				Name:            "Fly V1",
				Prefix:          "IF-V1",
				Structure:       config.StructureFly,
				WingWidth:       25,
				ProfitTargetPct: 0.20,
				TimeExit:        "18:00",
				Checkpoints:     []string{"14:45"},
			},
		},
	}
}

type testHarness struct {
	bot    *Bot
	broker *fakeBroker
	ledger *storage.MemoryStore
	loc    *time.Location
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := testConfig()
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	require.NoError(t, err)

	fb := &fakeBroker{chain: testChain(), spot: 6850, ivr: 35}
	ledger := storage.NewMemoryStore()
	logger := log.New(io.Discard, "", 0)
	bot := newBot(cfg, fb, ledger, notify.NewNotifier(nil, logger), metrics.New(), logger)
	return &testHarness{bot: bot, broker: fb, ledger: ledger, loc: loc}
}

func (h *testHarness) at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", testDay+" "+hhmm, h.loc)
	require.NoError(t, err)
	return ts
}

// legQuotes prices the four legs of a position so closing costs
// 2*shortAsk - 2*longBid points.
func legQuotes(p *models.Position, shortAsk, longBid float64) map[string]models.Quote {
	return map[string]models.Quote{
		p.Legs.ShortCall.Symbol: {Symbol: p.Legs.ShortCall.Symbol, Bid: shortAsk - 0.1, Ask: shortAsk},
		p.Legs.ShortPut.Symbol:  {Symbol: p.Legs.ShortPut.Symbol, Bid: shortAsk - 0.1, Ask: shortAsk},
		p.Legs.LongCall.Symbol:  {Symbol: p.Legs.LongCall.Symbol, Bid: longBid, Ask: longBid + 0.1},
		p.Legs.LongPut.Symbol:   {Symbol: p.Legs.LongPut.Symbol, Bid: longBid, Ask: longBid + 0.1},
	}
}
