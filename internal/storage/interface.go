// Package storage persists the trade record. The canonical store is a CSV
// file written atomically after every mutation; an in-memory store backs
// tests.
package storage

import (
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// Interface is the position ledger. Implementations serialize mutations,
// reject duplicate ids on add, and refuse any mutation of a terminal
// position. Getters return copies; callers never share memory with the
// ledger.
type Interface interface {
	// AddPosition inserts a new OPEN position. A duplicate id returns
	// ErrDuplicateID and leaves the ledger unchanged.
	AddPosition(p *models.Position) error

	// UpdatePosition replaces an existing position wholesale. The stored
	// position must be OPEN; a status change must be a legal transition.
	UpdatePosition(p *models.Position) error

	// ClosePosition transitions an open position to CLOSED with a realized
	// P/L, an exit reason and an optional note.
	ClosePosition(id string, when time.Time, pl float64, reason, note string) error

	// ExpirePosition transitions an open position to EXPIRED with the
	// settlement P/L.
	ExpirePosition(id string, when time.Time, pl float64, reason, note string) error

	// AppendNote attaches a note to an open position without changing its
	// status.
	AppendNote(id, note string) error

	// GetPositionByID returns a copy of the position, if present.
	GetPositionByID(id string) (*models.Position, bool)

	// GetOpenPositions returns copies of all OPEN positions.
	GetOpenPositions() []*models.Position

	// GetAllPositions returns copies of every position in the ledger.
	GetAllPositions() []*models.Position

	// Load replaces in-memory state from the backing store.
	Load() error
}
