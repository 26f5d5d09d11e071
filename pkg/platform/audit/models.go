package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// The category becomes the Kafka record key prefix so consumers can route
// fund movements separately from operational noise.
type EventCategory string

const (
	// CategoryCompliance covers every event that moves custodied value.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authority changes: freezes, pauses, admin transfer.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers lifecycle steps that move no value.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain services to capture one transition. It stays
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	// Subject is the record address (escrow, pool, or "platform_config").
	Subject string `json:"subject"`
	// ActorID is the caller identity that triggered the transition.
	ActorID string `json:"actor_id,omitempty"`
	// Amount is the value moved by the transition, if any.
	Amount    uint64 `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	// Escrow events
	EventEscrowCreated       AuditEvent = "escrow_created"
	EventEscrowFunded        AuditEvent = "escrow_funded"
	EventEscrowApproved      AuditEvent = "escrow_approved"
	EventEscrowSettled       AuditEvent = "escrow_settled"
	EventEscrowRefunded      AuditEvent = "escrow_refunded"
	EventEscrowCancelled     AuditEvent = "escrow_cancelled"
	EventEscrowFrozen        AuditEvent = "escrow_frozen"
	EventEscrowClosed        AuditEvent = "escrow_closed"
	EventEscrowAdminSettled  AuditEvent = "escrow_admin_settled"
	EventEscrowAdminRefunded AuditEvent = "escrow_admin_refunded"

	// Pool events
	EventPoolCreated  AuditEvent = "pool_created"
	EventPoolFunded   AuditEvent = "pool_funded"
	EventPoolReleased AuditEvent = "pool_released"
	EventPoolClosed   AuditEvent = "pool_closed"

	// Platform events
	EventPlatformInitialized   AuditEvent = "platform_initialized"
	EventPlatformUpdated       AuditEvent = "platform_updated"
	EventAdminProposed         AuditEvent = "admin_proposed"
	EventAdminAccepted         AuditEvent = "admin_accepted"
	EventAdminTransferCanceled AuditEvent = "admin_transfer_cancelled"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventEscrowFunded:        CategoryCompliance,
	EventEscrowSettled:       CategoryCompliance,
	EventEscrowRefunded:      CategoryCompliance,
	EventEscrowClosed:        CategoryCompliance,
	EventEscrowAdminSettled:  CategoryCompliance,
	EventEscrowAdminRefunded: CategoryCompliance,
	EventPoolFunded:          CategoryCompliance,
	EventPoolReleased:        CategoryCompliance,
	EventPoolClosed:          CategoryCompliance,

	EventEscrowFrozen:          CategorySecurity,
	EventPlatformInitialized:   CategorySecurity,
	EventPlatformUpdated:       CategorySecurity,
	EventAdminProposed:         CategorySecurity,
	EventAdminAccepted:         CategorySecurity,
	EventAdminTransferCanceled: CategorySecurity,

	EventEscrowCreated:   CategoryOperations,
	EventEscrowApproved:  CategoryOperations,
	EventEscrowCancelled: CategoryOperations,
	EventPoolCreated:     CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Append must join the transaction carried by
// ctx when there is one, so an event commits with the transition it records.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
