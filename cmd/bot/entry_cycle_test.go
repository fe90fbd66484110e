package main

import (
	"context"
	"errors"
	"testing"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryOpensCondorAtCheckpoint(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// The test chain has no strike listed on both sides, so the fly
	// variant sharing this checkpoint cannot trade; the condor must open
	// regardless.
	h.bot.tick(ctx, h.at(t, "14:46"))

	p, ok := h.ledger.GetPositionByID("IC-20D-1445-20260827")
	require.True(t, ok, "condor should be open: have %v", h.ledger.GetAllPositions())
	assert.Equal(t, models.StatusOpen, p.Status)
	assert.Equal(t, 6900.0, p.Legs.ShortCall.Strike)
	assert.Equal(t, 6775.0, p.Legs.LongPut.Strike)
	assert.InDelta(t, 4.10, p.Credit, 1e-9)
	assert.InDelta(t, 4.10*0.25, p.ProfitTarget, 1e-9)
	assert.InDelta(t, (25-4.10)*100, p.BuyingPower, 1e-9)
	assert.InDelta(t, 35.0, p.IVRank, 1e-9)

	_, flyOpened := h.ledger.GetPositionByID("IF-V1-1445-20260827")
	assert.False(t, flyOpened, "fly selection should fail on this chain")
}

func TestEntryFiresOncePerCheckpoint(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.bot.tick(ctx, h.at(t, "14:46"))
	h.bot.tick(ctx, h.at(t, "14:47"))
	h.bot.tick(ctx, h.at(t, "14:49"))

	assert.Len(t, h.ledger.GetAllPositions(), 1)
}

func TestEntrySkipsWhenAlreadyTradedToday(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// A restart mid-session reloads the ledger and rebuilds the clock;
	// the duplicate id is the backstop against double entry.
	h.bot.tick(ctx, h.at(t, "14:46"))
	before := h.ledger.GetAllPositions()

	h.bot.clock = newTestHarness(t).bot.clock // fresh clock, same ledger
	h.bot.tick(ctx, h.at(t, "14:47"))

	assert.Equal(t, len(before), len(h.ledger.GetAllPositions()))
}

func TestEntryChainFailureOpensNothing(t *testing.T) {
	h := newTestHarness(t)
	h.broker.chainErr = errors.New("chain down")

	h.bot.tick(context.Background(), h.at(t, "14:46"))
	assert.Empty(t, h.ledger.GetAllPositions())

	// The checkpoint has burned for today: recovery on a later tick does
	// not re-enter.
	h.broker.chainErr = nil
	h.bot.tick(context.Background(), h.at(t, "14:48"))
	assert.Empty(t, h.ledger.GetAllPositions())
}

func TestEntryMissedWindowSkips(t *testing.T) {
	h := newTestHarness(t)

	// First tick of the day lands long past the 14:45 window.
	h.bot.tick(context.Background(), h.at(t, "15:20"))
	assert.Empty(t, h.ledger.GetAllPositions())

	// 15:30 still fires on time.
	h.bot.tick(context.Background(), h.at(t, "15:31"))
	_, ok := h.ledger.GetPositionByID("IC-20D-1530-20260827")
	assert.True(t, ok)
}
