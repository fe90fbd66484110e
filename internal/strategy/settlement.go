package strategy

import (
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
	"github.com/eddiefleurent/stamford_condor/internal/util"
)

// SettlementEngine expires whatever is still open when the session ends,
// at intrinsic value against the settlement price.
type SettlementEngine struct {
	ledger storage.Interface
	logger *log.Logger
}

// NewSettlementEngine creates a settlement engine over the ledger.
func NewSettlementEngine(ledger storage.Interface, logger *log.Logger) *SettlementEngine {
	if logger == nil {
		logger = log.Default()
	}
	return &SettlementEngine{ledger: ledger, logger: logger}
}

// SettleAll expires every open position. fallback marks that price is a
// cached value rather than a live settlement quote; the note records it.
// With no price at all (price <= 0) positions settle at max loss, the
// only safe assumption for a defined-risk spread that cannot be valued.
// Returns the number of positions settled.
func (s *SettlementEngine) SettleAll(when time.Time, price float64, fallback bool) int {
	open := s.ledger.GetOpenPositions()
	settled := 0
	for _, p := range open {
		var pl float64
		var note string
		switch {
		case price <= 0:
			pl = -p.MaxLoss()
			note = "Settled at max loss (no price available)"
		case fallback:
			pl = SettlementPL(p, price)
			note = fmt.Sprintf("Settled at %.2f (fallback price)", price)
		default:
			pl = SettlementPL(p, price)
			note = fmt.Sprintf("Settled at %.2f", price)
		}

		if err := s.ledger.ExpirePosition(p.ID, when, pl, "expired", note); err != nil {
			s.logger.Printf("WARNING: settling %s: %v", p.ID, err)
			continue
		}
		s.logger.Printf("Settled %s: P/L %.2f (%s)", p.ID, pl, note)
		settled++
	}
	return settled
}

// SettlementPL is the expiration P/L of a spread in points: the credit
// received minus the net intrinsic value owed at the settlement price.
func SettlementPL(p *models.Position, price float64) float64 {
	owed := intrinsic(p.Legs.ShortCall, price) +
		intrinsic(p.Legs.ShortPut, price) -
		intrinsic(p.Legs.LongCall, price) -
		intrinsic(p.Legs.LongPut, price)
	return util.RoundToTick(p.Credit-owed, 0.01)
}

func intrinsic(l models.Leg, price float64) float64 {
	var v float64
	if l.Type == models.OptionTypeCall {
		v = price - l.Strike
	} else {
		v = l.Strike - price
	}
	if v < 0 {
		return 0
	}
	return v
}
