package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Ledger stores return these
// (optionally wrapped) so the service can translate them into domain errors.
//
//   - ErrNotFound: the ledger has not been initialized in this store
//   - ErrConflict: a concurrent writer won an optimistic transaction too many times
//   - ErrInvalidState: persisted state contradicts startup configuration
//   - ErrUnavailable: backing store temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
