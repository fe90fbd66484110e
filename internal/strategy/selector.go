// Package strategy holds the trading decisions: which strikes to sell,
// when an open spread should be closed, and how expired spreads settle.
// Everything here is pure calculation over chain and quote snapshots; the
// bot loop owns scheduling and persistence.
package strategy

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// ErrNoCandidate is the base of every selection rejection: the variant
// has nothing tradable at this checkpoint and is skipped without retry.
var ErrNoCandidate = errors.New("no tradable candidate")

var (
	// ErrNoExpiration means the chain has no contracts for the requested
	// expiration date.
	ErrNoExpiration = fmt.Errorf("%w: expiration not in chain", ErrNoCandidate)
	// ErrDeltaTooFar means the closest available strike is further from
	// the target delta than the variant tolerates.
	ErrDeltaTooFar = fmt.Errorf("%w: no strike within delta tolerance", ErrNoCandidate)
	// ErrStrikeUnavailable means a wing strike the structure requires does
	// not exist in the chain. Wings are never substituted.
	ErrStrikeUnavailable = fmt.Errorf("%w: required wing strike unavailable", ErrNoCandidate)
	// ErrNoCredit means the selected legs do not price to a positive net
	// credit.
	ErrNoCredit = fmt.Errorf("%w: zero or negative credit", ErrNoCandidate)
)

// Selector builds iron condor and iron fly leg sets from a chain snapshot.
type Selector struct {
	logger *log.Logger
}

// NewSelector creates a Selector.
func NewSelector(logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{logger: logger}
}

// Select builds the leg set for a variant. spot is only consulted for
// flies, which center on the money.
func (s *Selector) Select(chain models.Chain, expiration string, spot float64, v *config.VariantConfig) (models.LegSet, error) {
	options, ok := chain[expiration]
	if !ok || len(options) == 0 {
		return models.LegSet{}, fmt.Errorf("%w: %s", ErrNoExpiration, expiration)
	}
	calls, puts := splitChain(options)

	switch v.Structure {
	case config.StructureFly:
		return s.selectFly(calls, puts, spot, v)
	default:
		return s.selectCondor(calls, puts, v)
	}
}

// selectCondor sells the call and put closest to the target delta and
// buys wings exactly one width further out.
func (s *Selector) selectCondor(calls, puts []models.Option, v *config.VariantConfig) (models.LegSet, error) {
	shortCall, err := closestByDelta(calls, v.TargetDelta, v.MaxDeltaDeviation)
	if err != nil {
		return models.LegSet{}, fmt.Errorf("short call: %w", err)
	}
	shortPut, err := closestByDelta(puts, v.TargetDelta, v.MaxDeltaDeviation)
	if err != nil {
		return models.LegSet{}, fmt.Errorf("short put: %w", err)
	}
	if shortPut.Strike >= shortCall.Strike {
		return models.LegSet{}, fmt.Errorf("inverted condor: short put %.0f >= short call %.0f",
			shortPut.Strike, shortCall.Strike)
	}
	return s.assemble(calls, puts, shortCall, shortPut, v.WingWidth)
}

// selectFly sells the strike nearest the spot on both sides and buys
// wings one width out.
func (s *Selector) selectFly(calls, puts []models.Option, spot float64, v *config.VariantConfig) (models.LegSet, error) {
	strikes := commonStrikes(calls, puts)
	body, ok := util.NearestStrike(spot, strikes)
	if !ok {
		return models.LegSet{}, fmt.Errorf("%w: no strike listed on both sides", ErrStrikeUnavailable)
	}
	shortCall, ok := atStrike(calls, body)
	if !ok {
		return models.LegSet{}, fmt.Errorf("%w: call %.0f", ErrStrikeUnavailable, body)
	}
	shortPut, ok := atStrike(puts, body)
	if !ok {
		return models.LegSet{}, fmt.Errorf("%w: put %.0f", ErrStrikeUnavailable, body)
	}
	return s.assemble(calls, puts, shortCall, shortPut, v.WingWidth)
}

// assemble attaches the wings and prices the structure. Wing strikes must
// exist at exactly short +/- width; a chain with a hole there rejects the
// entry rather than trading a different risk profile.
func (s *Selector) assemble(calls, puts []models.Option, shortCall, shortPut models.Option, width float64) (models.LegSet, error) {
	longCall, ok := atStrike(calls, shortCall.Strike+width)
	if !ok {
		return models.LegSet{}, fmt.Errorf("%w: call %.0f", ErrStrikeUnavailable, shortCall.Strike+width)
	}
	longPut, ok := atStrike(puts, shortPut.Strike-width)
	if !ok {
		return models.LegSet{}, fmt.Errorf("%w: put %.0f", ErrStrikeUnavailable, shortPut.Strike-width)
	}

	credit := util.RoundToTick(
		shortCall.Mid()+shortPut.Mid()-longCall.Mid()-longPut.Mid(), 0.01)
	if credit <= 0 {
		return models.LegSet{}, fmt.Errorf("%w: %.2f", ErrNoCredit, credit)
	}

	s.logger.Printf("Selected %.0f/%.0f calls, %.0f/%.0f puts for %.2f credit",
		shortCall.Strike, longCall.Strike, shortPut.Strike, longPut.Strike, credit)

	return models.LegSet{
		ShortCall: leg(shortCall, models.SideShort),
		LongCall:  leg(longCall, models.SideLong),
		ShortPut:  leg(shortPut, models.SideShort),
		LongPut:   leg(longPut, models.SideLong),
		Credit:    credit,
	}, nil
}

func leg(o models.Option, side models.LegSide) models.Leg {
	return models.Leg{Symbol: o.Symbol, Strike: o.Strike, Type: o.Type, Side: side}
}

func splitChain(options []models.Option) (calls, puts []models.Option) {
	for _, o := range options {
		switch o.Type {
		case models.OptionTypeCall:
			calls = append(calls, o)
		case models.OptionTypePut:
			puts = append(puts, o)
		}
	}
	return calls, puts
}

// closestByDelta returns the option whose absolute delta is nearest the
// target, rejecting matches outside maxDeviation.
func closestByDelta(options []models.Option, target, maxDeviation float64) (models.Option, error) {
	var best models.Option
	bestDist := math.Inf(1)
	for _, o := range options {
		dist := math.Abs(math.Abs(o.Delta) - target)
		if dist < bestDist {
			best = o
			bestDist = dist
		}
	}
	if math.IsInf(bestDist, 1) {
		return models.Option{}, fmt.Errorf("%w: empty side", ErrDeltaTooFar)
	}
	if bestDist > maxDeviation {
		return models.Option{}, fmt.Errorf("%w: closest is %.0f at %.3f delta (target %.2f)",
			ErrDeltaTooFar, best.Strike, best.Delta, target)
	}
	return best, nil
}

func atStrike(options []models.Option, strike float64) (models.Option, bool) {
	for _, o := range options {
		if o.Strike == strike {
			return o, true
		}
	}
	return models.Option{}, false
}

// commonStrikes returns the sorted strikes listed on both sides.
func commonStrikes(calls, puts []models.Option) []float64 {
	callStrikes := make(map[float64]bool, len(calls))
	for _, c := range calls {
		callStrikes[c.Strike] = true
	}
	var out []float64
	seen := make(map[float64]bool)
	for _, p := range puts {
		if callStrikes[p.Strike] && !seen[p.Strike] {
			out = append(out, p.Strike)
			seen[p.Strike] = true
		}
	}
	sort.Float64s(out)
	return out
}
