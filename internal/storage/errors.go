package storage

import "errors"

var (
	// ErrDuplicateID is returned when adding a position whose ID already
	// exists. Entry idempotency rests on this: one strategy id trades at
	// most once per day.
	ErrDuplicateID = errors.New("position id already exists")

	// ErrPositionNotFound is returned when the referenced position is not
	// in the ledger.
	ErrPositionNotFound = errors.New("position not found")

	// ErrPositionTerminal is returned when mutating a CLOSED or EXPIRED
	// position.
	ErrPositionTerminal = errors.New("position is terminal")
)
