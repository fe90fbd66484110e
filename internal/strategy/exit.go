package strategy

import (
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/schedule"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// Action says what the monitor should do with a position this tick.
type Action int

const (
	// Hold leaves the position open.
	Hold Action = iota
	// Close realizes the P/L now.
	Close
	// MarkStale means leg quotes were incomplete; the position is held and
	// the gap logged, never acted on.
	MarkStale
)

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Close:
		return "close"
	case MarkStale:
		return "stale"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the outcome of evaluating one open position.
type Decision struct {
	Action Action
	Debit  float64 // cost to close now, points
	PL     float64 // credit minus debit, points
	Reason string  // close reason; empty for Hold and MarkStale
}

// Close reasons the evaluator emits, in precedence order.
const (
	ExitReasonStale        = "stale/assumed max loss"
	ExitReasonProfitTarget = "profit target"
	ExitReasonTimeExit     = "time exit"
)

// ExitEvaluator decides whether open spreads should be closed. Closing is
// valued conservatively: buy back shorts at the ask, sell longs at the
// bid.
type ExitEvaluator struct {
	loc    *time.Location
	logger *log.Logger
}

// NewExitEvaluator creates an evaluator working in the trading timezone.
func NewExitEvaluator(loc *time.Location, logger *log.Logger) *ExitEvaluator {
	if logger == nil {
		logger = log.Default()
	}
	return &ExitEvaluator{loc: loc, logger: logger}
}

// Evaluate returns the decision for one position given the latest quote
// snapshot. timeExit is the variant's hard exit ("HH:MM", empty for none).
// A profit target hit wins over a due time exit.
//
// A position carried over from a previous trading day is closed first,
// at assumed max loss: its contracts expired unobserved, and the
// defined-risk worst case is the only defensible record.
func (e *ExitEvaluator) Evaluate(p *models.Position, quotes map[string]models.Quote, now time.Time, timeExit string) Decision {
	if olderDay(p.EntryDate, now, e.loc) {
		return Decision{
			Action: Close,
			Debit:  p.Legs.Width(),
			PL:     -p.MaxLoss(),
			Reason: ExitReasonStale,
		}
	}

	debit, ok := debitToClose(p, quotes)
	if !ok {
		e.logger.Printf("Position %s: incomplete quotes, holding", p.ID)
		return Decision{Action: MarkStale}
	}
	pl := util.RoundToTick(p.Credit-debit, 0.01)

	if pl >= p.ProfitTarget {
		return Decision{Action: Close, Debit: debit, PL: pl, Reason: ExitReasonProfitTarget}
	}

	if timeExit != "" {
		at := schedule.TimeOn(now, timeExit, e.loc)
		if !now.In(e.loc).Before(at) {
			return Decision{Action: Close, Debit: debit, PL: pl, Reason: ExitReasonTimeExit}
		}
	}

	return Decision{Action: Hold, Debit: debit, PL: pl}
}

// olderDay reports whether entry falls on an earlier calendar day than
// now in the trading timezone.
func olderDay(entry, now time.Time, loc *time.Location) bool {
	return entry.In(loc).Format("2006-01-02") < now.In(loc).Format("2006-01-02")
}

// debitToClose prices the four-leg unwind. ok is false when any leg lacks
// a usable quote.
func debitToClose(p *models.Position, quotes map[string]models.Quote) (float64, bool) {
	shortCall, ok1 := quotes[p.Legs.ShortCall.Symbol]
	shortPut, ok2 := quotes[p.Legs.ShortPut.Symbol]
	longCall, ok3 := quotes[p.Legs.LongCall.Symbol]
	longPut, ok4 := quotes[p.Legs.LongPut.Symbol]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, false
	}
	// Shorts need an ask to buy back. Longs may legitimately bid zero far
	// out of the money.
	if shortCall.Ask <= 0 || shortPut.Ask <= 0 {
		return 0, false
	}
	debit := shortCall.Ask + shortPut.Ask - longCall.Bid - longPut.Bid
	return util.RoundToTick(debit, 0.01), true
}
