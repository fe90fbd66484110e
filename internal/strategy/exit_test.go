package strategy

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPosition(t *testing.T) *models.Position {
	t.Helper()
	legs, err := quietSelector().Select(testChain(), testExpiration, 6850, condorVariant())
	require.NoError(t, err)
	entry := time.Date(2026, 8, 27, 14, 45, 0, 0, londonLoc(t))
	return models.NewPosition("IC-20D-1445", "SPX", "20 Delta", legs, 0.25, 35.0, entry)
}

func londonLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

// legQuotes builds a full quote set priced so that buying back the spread
// costs debit points: shorts at the ask, longs at the bid.
func legQuotes(p *models.Position, shortAsk, longBid float64) map[string]models.Quote {
	return map[string]models.Quote{
		p.Legs.ShortCall.Symbol: {Symbol: p.Legs.ShortCall.Symbol, Bid: shortAsk - 0.1, Ask: shortAsk},
		p.Legs.ShortPut.Symbol:  {Symbol: p.Legs.ShortPut.Symbol, Bid: shortAsk - 0.1, Ask: shortAsk},
		p.Legs.LongCall.Symbol:  {Symbol: p.Legs.LongCall.Symbol, Bid: longBid, Ask: longBid + 0.1},
		p.Legs.LongPut.Symbol:   {Symbol: p.Legs.LongPut.Symbol, Bid: longBid, Ask: longBid + 0.1},
	}
}

func quietEvaluator(t *testing.T) *ExitEvaluator {
	return NewExitEvaluator(londonLoc(t), log.New(io.Discard, "", 0))
}

func TestEvaluateProfitTarget(t *testing.T) {
	p := testPosition(t) // credit 4.10, profit target 1.025
	now := p.EntryDate.Add(time.Hour)

	// Debit 2 * 1.25 - 2 * 0.10 = 2.30, P/L = 1.80 >= 1.025.
	quotes := legQuotes(p, 1.25, 0.10)
	d := quietEvaluator(t).Evaluate(p, quotes, now, "")

	assert.Equal(t, Close, d.Action)
	assert.Equal(t, ExitReasonProfitTarget, d.Reason)
	assert.InDelta(t, 2.30, d.Debit, 1e-9)
	assert.InDelta(t, 1.80, d.PL, 1e-9)
}

func TestEvaluateHoldBelowTarget(t *testing.T) {
	p := testPosition(t)
	now := p.EntryDate.Add(time.Hour)

	// Debit 2 * 2.00 - 2 * 0.10 = 3.80, P/L = 0.30 < 1.025.
	d := quietEvaluator(t).Evaluate(p, legQuotes(p, 2.00, 0.10), now, "")
	assert.Equal(t, Hold, d.Action)
	assert.InDelta(t, 0.30, d.PL, 1e-9)
	assert.Empty(t, d.Reason)
}

func TestEvaluateTimeExit(t *testing.T) {
	p := testPosition(t)
	eval := quietEvaluator(t)
	loc := londonLoc(t)
	quotes := legQuotes(p, 2.50, 0.10) // losing: P/L = 4.10 - 4.80 = -0.70

	before := time.Date(2026, 8, 27, 17, 59, 0, 0, loc)
	d := eval.Evaluate(p, quotes, before, "18:00")
	assert.Equal(t, Hold, d.Action)

	after := time.Date(2026, 8, 27, 18, 0, 0, 0, loc)
	d = eval.Evaluate(p, quotes, after, "18:00")
	assert.Equal(t, Close, d.Action)
	assert.Equal(t, ExitReasonTimeExit, d.Reason)
	assert.InDelta(t, -0.70, d.PL, 1e-9)
}

func TestProfitTargetWinsOverDueTimeExit(t *testing.T) {
	p := testPosition(t)
	loc := londonLoc(t)
	// Both conditions true at once: profitable and past the exit time.
	now := time.Date(2026, 8, 27, 18, 30, 0, 0, loc)
	d := quietEvaluator(t).Evaluate(p, legQuotes(p, 1.25, 0.10), now, "18:00")

	assert.Equal(t, Close, d.Action)
	assert.Equal(t, ExitReasonProfitTarget, d.Reason)
}

func TestEvaluateIncompleteQuotesMarksStale(t *testing.T) {
	p := testPosition(t)
	now := p.EntryDate.Add(time.Hour)
	eval := quietEvaluator(t)

	missing := legQuotes(p, 1.25, 0.10)
	delete(missing, p.Legs.LongPut.Symbol)
	d := eval.Evaluate(p, missing, now, "18:00")
	assert.Equal(t, MarkStale, d.Action, "missing leg quote")

	zeroAsk := legQuotes(p, 1.25, 0.10)
	q := zeroAsk[p.Legs.ShortCall.Symbol]
	q.Ask = 0
	zeroAsk[p.Legs.ShortCall.Symbol] = q
	d = eval.Evaluate(p, zeroAsk, now, "18:00")
	assert.Equal(t, MarkStale, d.Action, "short leg without an ask")
}

func TestEvaluateStalePositionClosesAtMaxLoss(t *testing.T) {
	p := testPosition(t)
	nextDay := p.EntryDate.AddDate(0, 0, 1)

	// Stale cleanup precedes everything, including the quote check: no
	// quotes are needed to write off a dead position.
	d := quietEvaluator(t).Evaluate(p, nil, nextDay, "18:00")
	assert.Equal(t, Close, d.Action)
	assert.Equal(t, ExitReasonStale, d.Reason)
	assert.InDelta(t, -p.MaxLoss(), d.PL, 1e-9)
}

func TestEvaluateZeroLongBidsAreUsable(t *testing.T) {
	p := testPosition(t)
	now := p.EntryDate.Add(time.Hour)

	// Worthless wings bid zero; the spread is still priceable.
	d := quietEvaluator(t).Evaluate(p, legQuotes(p, 1.25, 0), now, "")
	assert.Equal(t, Close, d.Action)
	assert.InDelta(t, 4.10-2.50, d.PL, 1e-9)
}
