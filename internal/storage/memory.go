package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
)

// MemoryStore is the in-memory ledger. It holds the book for the CSV store
// and stands alone in tests. All mutations go through a single write lock,
// which serializes the open -> terminal transition per position.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]*models.Position)}
}

// AddPosition inserts a new position, rejecting duplicates and invalid data.
func (m *MemoryStore) AddPosition(p *models.Position) error {
	if p == nil {
		return fmt.Errorf("cannot add nil position")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	clone := *p
	m.positions[p.ID] = &clone
	return nil
}

// UpdatePosition replaces the stored position with p. Only an OPEN
// position may be replaced, and a status change must follow the legal
// transitions.
func (m *MemoryStore) UpdatePosition(p *models.Position) error {
	if p == nil {
		return fmt.Errorf("cannot update nil position")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}
	return m.mutate(p.ID, func(stored *models.Position) error {
		if p.Status != stored.Status && !stored.Status.CanTransitionTo(p.Status) {
			return fmt.Errorf("position %s: illegal transition %s -> %s",
				p.ID, stored.Status, p.Status)
		}
		*stored = *p
		return nil
	})
}

// mutate applies fn to the stored position under the write lock. Terminal
// positions are rejected before fn runs.
func (m *MemoryStore) mutate(id string, fn func(*models.Position) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, exists := m.positions[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrPositionTerminal, id, p.Status)
	}
	return fn(p)
}

// ClosePosition transitions an open position to CLOSED.
func (m *MemoryStore) ClosePosition(id string, when time.Time, pl float64, reason, note string) error {
	return m.mutate(id, func(p *models.Position) error {
		if err := p.Close(when, pl, reason); err != nil {
			return err
		}
		p.AppendNote(note)
		return nil
	})
}

// ExpirePosition transitions an open position to EXPIRED.
func (m *MemoryStore) ExpirePosition(id string, when time.Time, pl float64, reason, note string) error {
	return m.mutate(id, func(p *models.Position) error {
		if err := p.Expire(when, pl, reason); err != nil {
			return err
		}
		p.AppendNote(note)
		return nil
	})
}

// AppendNote attaches a note to an open position.
func (m *MemoryStore) AppendNote(id, note string) error {
	return m.mutate(id, func(p *models.Position) error {
		p.AppendNote(note)
		return nil
	})
}

// GetPositionByID returns a copy of the position, if present.
func (m *MemoryStore) GetPositionByID(id string) (*models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.positions[id]
	if !exists {
		return nil, false
	}
	clone := *p
	return &clone, true
}

// GetOpenPositions returns copies of all OPEN positions, ordered by entry
// time then id.
func (m *MemoryStore) GetOpenPositions() []*models.Position {
	return m.snapshot(func(p *models.Position) bool { return p.Status == models.StatusOpen })
}

// GetAllPositions returns copies of every position, ordered by entry time
// then id.
func (m *MemoryStore) GetAllPositions() []*models.Position {
	return m.snapshot(func(*models.Position) bool { return true })
}

func (m *MemoryStore) snapshot(keep func(*models.Position) bool) []*models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if keep(p) {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Load is a no-op for the in-memory store.
func (m *MemoryStore) Load() error { return nil }

// replaceAll swaps in a freshly loaded book.
func (m *MemoryStore) replaceAll(positions map[string]*models.Position) {
	m.mu.Lock()
	m.positions = positions
	m.mu.Unlock()
}

// Ensure MemoryStore implements Interface at compile time.
var _ Interface = (*MemoryStore)(nil)
