// Package models defines the core domain types for the 0DTE spread trader.
package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const sharesPerContract = 100.0

// Status is the lifecycle state of a position. Transitions only move
// forward: OPEN -> CLOSED or OPEN -> EXPIRED. CLOSED and EXPIRED are
// terminal and immutable.
type Status string

const (
	// StatusOpen indicates a live position being monitored for exits.
	StatusOpen Status = "OPEN"
	// StatusClosed indicates a position closed by the exit evaluator.
	StatusClosed Status = "CLOSED"
	// StatusExpired indicates a position settled at end of day.
	StatusExpired Status = "EXPIRED"
)

// Valid returns true if the Status is one of the defined constants.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that permit no further mutation.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusExpired
}

// CanTransitionTo reports whether the transition s -> to is legal.
func (s Status) CanTransitionTo(to Status) bool {
	return s == StatusOpen && (to == StatusClosed || to == StatusExpired)
}

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "put"
)

// LegSide indicates whether a leg was sold (short) or bought (long).
type LegSide string

const (
	// SideShort is a sold leg; it collects premium and caps profit.
	SideShort LegSide = "short"
	// SideLong is a bought leg; it defines the wing and caps risk.
	SideLong LegSide = "long"
)

// Leg is one option contract within a spread.
type Leg struct {
	Symbol string     `json:"symbol"`
	Strike float64    `json:"strike"`
	Type   OptionType `json:"type"`
	Side   LegSide    `json:"side"`
}

// LegSet holds the four legs of an iron condor or iron fly together with
// the net credit computed at selection time. For a fly the short call and
// short put share a strike.
type LegSet struct {
	ShortCall Leg     `json:"short_call"`
	LongCall  Leg     `json:"long_call"`
	ShortPut  Leg     `json:"short_put"`
	LongPut   Leg     `json:"long_put"`
	Credit    float64 `json:"credit"` // net credit in index points
}

// Legs returns the four legs in a fixed order (short call, long call,
// short put, long put).
func (ls *LegSet) Legs() []Leg {
	return []Leg{ls.ShortCall, ls.LongCall, ls.ShortPut, ls.LongPut}
}

// Symbols returns the four leg symbols in the same fixed order as Legs.
func (ls *LegSet) Symbols() []string {
	legs := ls.Legs()
	out := make([]string, 0, len(legs))
	for _, l := range legs {
		out = append(out, l.Symbol)
	}
	return out
}

// Width returns the wider of the call-side and put-side wing widths in
// index points. Risk is capped at Width - Credit per spread.
func (ls *LegSet) Width() float64 {
	callWidth := ls.LongCall.Strike - ls.ShortCall.Strike
	if callWidth < 0 {
		callWidth = -callWidth
	}
	putWidth := ls.ShortPut.Strike - ls.LongPut.Strike
	if putWidth < 0 {
		putWidth = -putWidth
	}
	if callWidth > putWidth {
		return callWidth
	}
	return putWidth
}

// IsFly reports whether the short call and short put share a strike.
func (ls *LegSet) IsFly() bool {
	return ls.ShortCall.Strike == ls.ShortPut.Strike
}

// Position represents one opened defined-risk spread.
//
// Credit, BuyingPower and ProfitTarget are fixed at creation and never
// mutated. Once Status reaches CLOSED or EXPIRED the position is
// immutable; the ledger enforces this.
type Position struct {
	ID           string    `json:"id"`          // strategy id + trading date, e.g. IC-20D-1445-20260827
	Symbol       string    `json:"symbol"`      // underlying, e.g. SPX
	Strategy     string    `json:"strategy"`    // variant name, e.g. "20 Delta"
	StrategyID   string    `json:"strategy_id"` // {PREFIX}-{HHMM}, e.g. IC-20D-1445
	Legs         LegSet    `json:"legs"`
	Credit       float64   `json:"credit"`        // points per spread
	BuyingPower  float64   `json:"buying_power"`  // dollars committed
	ProfitTarget float64   `json:"profit_target"` // points of profit that triggers a close
	Status       Status    `json:"status"`
	EntryDate    time.Time `json:"entry_date"`
	ExitDate     time.Time `json:"exit_date,omitempty"`
	ExitPL       float64   `json:"exit_pl"` // realized P/L in points
	ExitReason   string    `json:"exit_reason,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	IVRank       float64   `json:"iv_rank"` // entry IV rank snapshot, 0-100
}

// NewPosition creates an OPEN position from a selected leg set. Buying
// power is the defined risk of the spread: (width - credit) * 100 per
// contract. profitTargetPct is the fraction of the credit taken as the
// profit target (e.g. 0.25 closes at 25% of max profit).
func NewPosition(strategyID, symbol, strategyName string, legs LegSet,
	profitTargetPct float64, ivRank float64, entry time.Time) *Position {
	risk := legs.Width() - legs.Credit
	return &Position{
		ID:           fmt.Sprintf("%s-%s", strategyID, entry.Format("20060102")),
		Symbol:       symbol,
		Strategy:     strategyName,
		StrategyID:   strategyID,
		Legs:         legs,
		Credit:       legs.Credit,
		BuyingPower:  risk * sharesPerContract,
		ProfitTarget: legs.Credit * profitTargetPct,
		Status:       StatusOpen,
		EntryDate:    entry,
		IVRank:       ivRank,
	}
}

// MaxLoss returns the worst-case loss in points: the spread expiring at
// full width against the short strikes, net of the credit received.
func (p *Position) MaxLoss() float64 {
	return p.Legs.Width() - p.Credit
}

// Close transitions the position to CLOSED with a realized P/L and
// reason. Returns an error if the transition is not legal.
func (p *Position) Close(when time.Time, pl float64, reason string) error {
	return p.terminate(StatusClosed, when, pl, reason)
}

// Expire transitions the position to EXPIRED with the settlement P/L.
func (p *Position) Expire(when time.Time, pl float64, reason string) error {
	return p.terminate(StatusExpired, when, pl, reason)
}

func (p *Position) terminate(to Status, when time.Time, pl float64, reason string) error {
	if !p.Status.CanTransitionTo(to) {
		return fmt.Errorf("position %s: illegal transition %s -> %s", p.ID, p.Status, to)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("position %s: transition to %s requires a reason", p.ID, to)
	}
	p.Status = to
	p.ExitDate = when
	p.ExitPL = pl
	p.ExitReason = reason
	return nil
}

// AppendNote appends a note fragment, separated by " | " as in the trade
// record.
func (p *Position) AppendNote(note string) {
	if note == "" {
		return
	}
	if p.Notes == "" {
		p.Notes = note
		return
	}
	p.Notes = p.Notes + " | " + note
}

// Validate ensures the position data is consistent with its status.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position has empty ID")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: invalid status %q", p.ID, p.Status)
	}
	if p.Credit <= 0 {
		return fmt.Errorf("position %s: credit must be positive (got %.2f)", p.ID, p.Credit)
	}
	if p.BuyingPower < 0 {
		return fmt.Errorf("position %s: buying power cannot be negative (got %.2f)", p.ID, p.BuyingPower)
	}
	if p.EntryDate.IsZero() {
		return fmt.Errorf("position %s: entry date must be set", p.ID)
	}
	for _, leg := range p.Legs.Legs() {
		if leg.Symbol == "" {
			return fmt.Errorf("position %s: leg with empty symbol", p.ID)
		}
		if leg.Strike <= 0 {
			return fmt.Errorf("position %s: leg %s has non-positive strike", p.ID, leg.Symbol)
		}
	}
	if p.Status.Terminal() {
		if p.ExitDate.IsZero() {
			return fmt.Errorf("position %s: terminal position must have exit date", p.ID)
		}
		if strings.TrimSpace(p.ExitReason) == "" {
			return fmt.Errorf("position %s: terminal position must have exit reason", p.ID)
		}
	} else {
		if !p.ExitDate.IsZero() {
			return fmt.Errorf("position %s: open position must not have exit date", p.ID)
		}
		if p.ExitReason != "" {
			return fmt.Errorf("position %s: open position must not have exit reason", p.ID)
		}
	}
	return nil
}

// optionSymbolRe matches streamer-style symbols such as .SPXW250827C6850
// or .SPXW250827P6847.5.
var optionSymbolRe = regexp.MustCompile(`^\.([A-Z]+)(\d{6})([CP])(\d+(?:\.\d+)?)$`)

// FormatOptionSymbol builds a streamer symbol: .{ROOT}{YYMMDD}{C|P}{strike}.
// Whole-number strikes are rendered without a decimal point.
func FormatOptionSymbol(root string, expiration time.Time, typ OptionType, strike float64) string {
	cp := "C"
	if typ == OptionTypePut {
		cp = "P"
	}
	strikeStr := strconv.FormatFloat(strike, 'f', -1, 64)
	return fmt.Sprintf(".%s%s%s%s", root, expiration.Format("060102"), cp, strikeStr)
}

// ParseOptionSymbol decodes a streamer symbol into its parts. The trade
// record persists leg symbols only; strikes and types are re-derived
// here, once, when the ledger loads.
func ParseOptionSymbol(symbol string) (root string, expiration time.Time, typ OptionType, strike float64, err error) {
	m := optionSymbolRe.FindStringSubmatch(symbol)
	if m == nil {
		return "", time.Time{}, "", 0, fmt.Errorf("malformed option symbol %q", symbol)
	}
	expiration, err = time.Parse("060102", m[2])
	if err != nil {
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q: bad expiration: %w", symbol, err)
	}
	typ = OptionTypeCall
	if m[3] == "P" {
		typ = OptionTypePut
	}
	strike, err = strconv.ParseFloat(m[4], 64)
	if err != nil {
		return "", time.Time{}, "", 0, fmt.Errorf("option symbol %q: bad strike: %w", symbol, err)
	}
	return m[1], expiration, typ, strike, nil
}
