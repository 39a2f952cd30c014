package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, sinks, and routing.
type EventCategory string

const (
	// CategoryCompliance covers ledger state transitions. These mirror the
	// authoritative event trail and feed external transaction histories.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers access violations such as privileged calls by
	// non-owners.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle activity (bootstrap,
	// shutdown).
	CategoryOperations EventCategory = "operations"
)

// Event is the transport-agnostic envelope handed to sinks.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Subject is the account the event is about.
	Subject string
	// ActorID is the authenticated caller when known.
	ActorID   string
	RequestID string
	Reason    string
	// Seq and TransitionID link compliance events back to the ledger trail.
	Seq          uint64
	TransitionID string
	Attributes   map[string]string
}

type AuditEvent string

const (
	// Ledger events
	EventTokensMinted AuditEvent = "tokens_minted"
	EventPersonAdded  AuditEvent = "person_added"

	// Security events
	EventOwnerMintDenied AuditEvent = "owner_mint_denied"

	// Operations events
	EventLedgerInitialized AuditEvent = "ledger_initialized"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventTokensMinted:      CategoryCompliance,
	EventPersonAdded:       CategoryCompliance,
	EventOwnerMintDenied:   CategorySecurity,
	EventLedgerInitialized: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Sink receives events drained by a Publisher.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Store is a Sink that can be read back, used by tests and the in-memory
// deployment.
type Store interface {
	Sink
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
