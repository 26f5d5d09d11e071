package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the ledger and lock
// backends return these (optionally wrapped) so services can translate them
// into coded domain errors.
//
// - ErrNotFound: record or account does not exist in the store
// - ErrConflict: a record already exists at the derived address
// - ErrInvalidState: a conditional update matched no row
// - ErrUnavailable: a backing service (lock, broker) is temporarily unavailable
//
// For validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
