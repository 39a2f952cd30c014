package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"ttkn/pkg/domain"
)

// EventKind names a ledger event. Values match the contract event names
// consumed by wallets and explorers.
type EventKind string

const (
	EventTokensMinted EventKind = "TokensMinted"
	EventPersonAdded  EventKind = "PersonAdded"
)

// IsValid checks the kind against the supported events.
func (k EventKind) IsValid() bool {
	return k == EventTokensMinted || k == EventPersonAdded
}

// Event is an immutable record of a public-mint transition.
//
// TokensMinted uses Amount and TotalMinted; PersonAdded uses PersonCount.
// Seq is assigned by the store on append and is strictly increasing.
type Event struct {
	Seq          uint64
	TransitionID uuid.UUID
	Kind         EventKind
	Account      domain.Account
	Amount       uint256.Int
	TotalMinted  uint256.Int
	PersonCount  uint64
	Timestamp    time.Time
}

// NewTokensMinted builds a TokensMinted(to, amount, totalMinted) event.
func NewTokensMinted(transition uuid.UUID, to domain.Account, amount, totalMinted *uint256.Int, at time.Time) Event {
	return Event{
		TransitionID: transition,
		Kind:         EventTokensMinted,
		Account:      to,
		Amount:       *amount,
		TotalMinted:  *totalMinted,
		Timestamp:    at.UTC(),
	}
}

// NewPersonAdded builds a PersonAdded(person, personCount) event.
func NewPersonAdded(transition uuid.UUID, person domain.Account, count uint64, at time.Time) Event {
	return Event{
		TransitionID: transition,
		Kind:         EventPersonAdded,
		Account:      person,
		PersonCount:  count,
		Timestamp:    at.UTC(),
	}
}

const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// EventFilter selects events for history queries. Zero values match all.
type EventFilter struct {
	Account  *domain.Account
	Kind     EventKind
	AfterSeq uint64
	Limit    int
}

// Normalize clamps Limit into (0, MaxEventLimit].
func (f *EventFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultEventLimit
	}
	if f.Limit > MaxEventLimit {
		f.Limit = MaxEventLimit
	}
}

// Matches reports whether e passes the account, kind and cursor predicates.
// Limit is applied by the caller.
func (f EventFilter) Matches(e Event) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.Account != nil && e.Account != *f.Account {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}
