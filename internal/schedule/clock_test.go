package schedule

import (
	"testing"
	"time"
)

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}
	return loc
}

func at(t *testing.T, loc *time.Location, day, hhmm string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", day+" "+hhmm, loc)
	if err != nil {
		t.Fatalf("parsing %s %s: %v", day, hhmm, err)
	}
	return ts
}

func TestCheckpointFiresOnceInsideWindow(t *testing.T) {
	loc := london(t)
	clock := NewMarketClock(loc, []string{"14:45", "15:30"}, 5*time.Minute, "21:00")

	due, skipped := clock.DueCheckpoints(at(t, loc, "2026-08-27", "14:00"))
	if len(due) != 0 || len(skipped) != 0 {
		t.Fatalf("before window: due=%v skipped=%v", due, skipped)
	}

	due, _ = clock.DueCheckpoints(at(t, loc, "2026-08-27", "14:46"))
	if len(due) != 1 || due[0] != "14:45" {
		t.Fatalf("inside window: due=%v", due)
	}

	// Same tick again: already fired.
	due, skipped = clock.DueCheckpoints(at(t, loc, "2026-08-27", "14:47"))
	if len(due) != 0 || len(skipped) != 0 {
		t.Fatalf("repeat poll: due=%v skipped=%v", due, skipped)
	}
}

func TestMissedWindowIsSkippedNotFiredLate(t *testing.T) {
	loc := london(t)
	clock := NewMarketClock(loc, []string{"14:45", "15:30"}, 5*time.Minute, "21:00")

	// First poll arrives well after the 14:45 window but inside 15:30's.
	due, skipped := clock.DueCheckpoints(at(t, loc, "2026-08-27", "15:31"))
	if len(due) != 1 || due[0] != "15:30" {
		t.Errorf("due = %v, want [15:30]", due)
	}
	if len(skipped) != 1 || skipped[0] != "14:45" {
		t.Errorf("skipped = %v, want [14:45]", skipped)
	}

	// A skipped checkpoint never resurfaces the same day.
	due, skipped = clock.DueCheckpoints(at(t, loc, "2026-08-27", "16:00"))
	if len(due) != 0 || len(skipped) != 0 {
		t.Errorf("later poll: due=%v skipped=%v", due, skipped)
	}
}

func TestDateChangeResetsState(t *testing.T) {
	loc := london(t)
	clock := NewMarketClock(loc, []string{"14:45"}, 5*time.Minute, "21:00")

	due, _ := clock.DueCheckpoints(at(t, loc, "2026-08-27", "14:45"))
	if len(due) != 1 {
		t.Fatalf("day 1: due=%v", due)
	}
	if !clock.SettlementDue(at(t, loc, "2026-08-27", "21:05")) {
		t.Fatal("day 1 settlement should be due")
	}

	due, _ = clock.DueCheckpoints(at(t, loc, "2026-08-28", "14:45"))
	if len(due) != 1 || due[0] != "14:45" {
		t.Errorf("day 2: due=%v, want [14:45] after reset", due)
	}
	if !clock.SettlementDue(at(t, loc, "2026-08-28", "21:00")) {
		t.Error("day 2 settlement should be due after reset")
	}
}

func TestSettlementDueOncePerDay(t *testing.T) {
	loc := london(t)
	clock := NewMarketClock(loc, nil, 5*time.Minute, "21:00")

	if clock.SettlementDue(at(t, loc, "2026-08-27", "20:59")) {
		t.Error("settlement before the settlement time")
	}
	if !clock.SettlementDue(at(t, loc, "2026-08-27", "21:00")) {
		t.Error("settlement exactly at the settlement time")
	}
	if clock.SettlementDue(at(t, loc, "2026-08-27", "21:30")) {
		t.Error("settlement fired twice in one day")
	}
}

func TestTimeOnResolvesInTradingTimezone(t *testing.T) {
	loc := london(t)
	// A UTC instant on a BST day: 14:00 UTC is 15:00 in London.
	ref := time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC)
	got := TimeOn(ref, "15:30", loc)
	want := at(t, loc, "2026-08-27", "15:30")
	if !got.Equal(want) {
		t.Errorf("TimeOn = %v, want %v", got, want)
	}
	if !ref.Before(got) {
		t.Error("14:00 UTC should precede 15:30 London on a BST day")
	}
}
