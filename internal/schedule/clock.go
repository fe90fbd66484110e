// Package schedule decides when the trader acts: entry checkpoints, the
// end-of-day settlement sweep, and per-variant time exits, all evaluated
// in the configured trading timezone.
package schedule

import (
	"sync"
	"time"
)

// MarketClock tracks which entry checkpoints have fired today. A
// checkpoint fires exactly once, and only while the current time is inside
// its tolerance window; a checkpoint whose window was missed (process
// restart, long stall) is skipped for the rest of the day rather than
// fired late. All state resets when the trading date changes.
type MarketClock struct {
	loc            *time.Location
	checkpoints    []string // "HH:MM", sorted
	tolerance      time.Duration
	settlementTime string // "HH:MM"

	mu      sync.Mutex
	day     string // "2006-01-02" the sets below belong to
	fired   map[string]bool
	skipped map[string]bool
	settled bool
}

// NewMarketClock creates a clock over the given checkpoint times.
func NewMarketClock(loc *time.Location, checkpoints []string, tolerance time.Duration, settlementTime string) *MarketClock {
	return &MarketClock{
		loc:            loc,
		checkpoints:    append([]string(nil), checkpoints...),
		tolerance:      tolerance,
		settlementTime: settlementTime,
		fired:          make(map[string]bool),
		skipped:        make(map[string]bool),
	}
}

// rollDay resets per-day state when the trading date changes. Callers hold
// c.mu.
func (c *MarketClock) rollDay(now time.Time) {
	day := now.In(c.loc).Format("2006-01-02")
	if day == c.day {
		return
	}
	c.day = day
	c.fired = make(map[string]bool)
	c.skipped = make(map[string]bool)
	c.settled = false
}

// DueCheckpoints returns the checkpoints that should fire now and the ones
// whose window has been missed since the last call. Each checkpoint
// appears in at most one of the two lists, at most once per day.
func (c *MarketClock) DueCheckpoints(now time.Time) (due, skipped []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(now)

	local := now.In(c.loc)
	for _, cp := range c.checkpoints {
		if c.fired[cp] || c.skipped[cp] {
			continue
		}
		at := TimeOn(local, cp, c.loc)
		switch {
		case local.Before(at):
			// Not yet.
		case local.Before(at.Add(c.tolerance)):
			c.fired[cp] = true
			due = append(due, cp)
		default:
			c.skipped[cp] = true
			skipped = append(skipped, cp)
		}
	}
	return due, skipped
}

// SettlementDue reports, once per day, that the settlement time has been
// reached.
func (c *MarketClock) SettlementDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(now)

	if c.settled {
		return false
	}
	local := now.In(c.loc)
	if local.Before(TimeOn(local, c.settlementTime, c.loc)) {
		return false
	}
	c.settled = true
	return true
}

// TradingDay returns the current trading date in the clock's timezone.
func (c *MarketClock) TradingDay(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// TimeOn resolves a "HH:MM" clock time to an instant on the same day as
// ref, in loc. Malformed input yields the zero time, which compares as
// already past.
func TimeOn(ref time.Time, hhmm string, loc *time.Location) time.Time {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}
	}
	local := ref.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, loc)
}
