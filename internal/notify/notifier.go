// Package notify pushes trade events to an operator channel. Delivery is
// fire-and-forget: a dead webhook never delays or fails a trading
// decision.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

const sendTimeout = 10 * time.Second

// Sender delivers one formatted message to a channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier formats trade events and hands them to a Sender in the
// background. A nil Sender disables notifications.
type Notifier struct {
	sender Sender
	logger *log.Logger
}

// NewNotifier creates a Notifier. sender may be nil.
func NewNotifier(sender Sender, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{sender: sender, logger: logger}
}

// PositionOpened announces a new entry.
func (n *Notifier) PositionOpened(p *models.Position) {
	structure := "Iron Condor"
	if p.Legs.IsFly() {
		structure = "Iron Fly"
	}
	n.send("Position Opened",
		fmt.Sprintf("%s %s (%s)\nCalls %.0f/%.0f, Puts %.0f/%.0f\nCredit %.2f, BP $%.0f, target %.2f",
			p.Symbol, structure, p.StrategyID,
			p.Legs.ShortCall.Strike, p.Legs.LongCall.Strike,
			p.Legs.ShortPut.Strike, p.Legs.LongPut.Strike,
			p.Credit, p.BuyingPower, p.ProfitTarget))
}

// PositionClosed announces an exit.
func (n *Notifier) PositionClosed(p *models.Position) {
	n.send("Position Closed",
		fmt.Sprintf("%s (%s): %.2f P/L on %s", p.Symbol, p.StrategyID, p.ExitPL, p.ExitReason))
}

// SettlementComplete announces the end-of-day sweep.
func (n *Notifier) SettlementComplete(count int, day time.Time) {
	if count == 0 {
		return
	}
	n.send("Settlement Complete",
		fmt.Sprintf("%d position(s) expired on %s", count, day.Format("2006-01-02")))
}

// send dispatches in the background. Failures are logged and dropped.
func (n *Notifier) send(title, message string) {
	if n.sender == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.sender.Send(ctx, title, message); err != nil {
			n.logger.Printf("WARNING: %s notification failed: %v", n.sender.Name(), err)
		}
	}()
}
