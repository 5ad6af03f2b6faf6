package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the durable billing record for one kitchen.
// Each kitchen has at most one live (non-terminal) subscription at a
// time; terminal rows are retained for audit and never hard-deleted.
type Subscription struct {
	ID        uuid.UUID
	KitchenID uuid.UUID
	OwnerID   uuid.UUID // user allowed to cancel/manage the subscription
	PlanType  PlanType
	Status    Status

	// ExternalRef correlates to the payment provider's subscription
	// object. Empty until the first checkout completes; immutable once
	// set. A new provider subscription implies a new local record.
	ExternalRef string

	// Period bounds come from the latest provider event, never from
	// local wall-clock arithmetic (trials excepted).
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	AutoRenew    bool
	CancelReason string

	// ActivatedAt is set the first time the record reaches active.
	// A kitchen that has ever paid may not restart a free trial.
	ActivatedAt *time.Time

	// LastEventSeq is a monotonic marker (provider event timestamp in
	// unix nanoseconds). Events at or below it are stale no-ops even
	// under a novel event id.
	LastEventSeq int64

	// Version is the optimistic-concurrency token. Incremented by the
	// store on every committed write; writers supply the version they
	// read and lose with ErrConflict if it moved.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTrialing reports whether the subscription is in its free trial.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsActive reports whether the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// Premium reports whether the kitchen is currently entitled to premium
// placement.
func (s *Subscription) Premium() bool {
	return s.Status.Premium()
}

// HasEverPaid reports whether the record ever reached active status.
func (s *Subscription) HasEverPaid() bool {
	return s.ActivatedAt != nil
}

// Lapsed reports whether the paid/trial period has passed without
// renewal at the given instant.
func (s *Subscription) Lapsed(now time.Time) bool {
	return !s.AutoRenew && !s.CurrentPeriodEnd.IsZero() && now.After(s.CurrentPeriodEnd)
}

// clone returns a copy the lifecycle engine can mutate without touching
// the caller's snapshot.
func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	if s.ActivatedAt != nil {
		t := *s.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

// ProcessedEvent is one row of the idempotency ledger: an external
// event id that has already been applied (or deliberately absorbed).
type ProcessedEvent struct {
	EventID        string
	SubscriptionID *uuid.UUID // nil when the event arrived before a local record existed
	AppliedAt      time.Time
}

// Event is a verified payment-provider notification. The ingress layer
// guarantees authenticity (signature already checked); the core still
// de-duplicates by EventID and rejects stale sequences.
type Event struct {
	EventID     string
	Type        EventType
	ExternalRef string
	KitchenID   uuid.UUID // zero when the provider only knows the external ref
	OwnerID     uuid.UUID // from checkout custom data; zero on later events
	PlanType    PlanType  // set on checkout events
	PeriodStart time.Time
	PeriodEnd   time.Time
	OccurredAt  time.Time
}

// Seq returns the event's monotonic sequence marker.
func (e Event) Seq() int64 {
	return e.OccurredAt.UnixNano()
}

// Validate checks the event shape before it reaches the reconciler.
func (e Event) Validate() error {
	if e.EventID == "" {
		return ErrMissingEventID
	}
	if e.OccurredAt.IsZero() {
		return ErrMissingEventTime
	}
	switch e.Type {
	case EventCheckoutCompleted:
		if e.ExternalRef == "" {
			return ErrMissingExternalRef
		}
		if e.PeriodStart.IsZero() || e.PeriodEnd.IsZero() {
			return ErrMissingPeriodBounds
		}
	case EventPaymentFailed, EventPaymentRecovered, EventProviderCancelled, EventPeriodExpired:
		if e.ExternalRef == "" && e.KitchenID == uuid.Nil {
			return ErrMissingSubscriptionRef
		}
	default:
		return ErrUnknownEventType
	}
	return nil
}

// Checkout represents a hosted checkout session created by the payment
// provider. State changes only happen on the resulting webhook, never
// on session creation.
type Checkout struct {
	URL       string    // hosted checkout URL
	SessionID string    // provider's session identifier
	ExpiresAt time.Time // link expiration
}

// ChangeNotice describes a committed transition for the notification
// collaborator. Delivery is best effort and never rolls back state.
type ChangeNotice struct {
	SubscriptionID uuid.UUID
	KitchenID      uuid.UUID
	From           Status
	To             Status
	AutoRenew      bool
	OccurredAt     time.Time
}
