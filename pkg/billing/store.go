package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore is the durable record of one subscription per
// kitchen. All writes go through the compare-and-swap Upsert; the
// reconciler is the only caller allowed to mutate.
type SubscriptionStore interface {
	// GetByKitchen returns the kitchen's subscription or
	// ErrSubscriptionNotFound.
	GetByKitchen(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error)

	// GetByID returns the subscription or ErrSubscriptionNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByExternalRef resolves a provider subscription id to the local
	// record, for events that carry no kitchen identity.
	GetByExternalRef(ctx context.Context, externalRef string) (*Subscription, error)

	// Upsert writes the subscription if and only if the stored version
	// still equals expectedVersion (0 for a new record). On success the
	// stored and passed-in Version are incremented and UpdatedAt is
	// refreshed. Returns ErrConflict when the version moved; callers
	// must re-read and re-decide.
	Upsert(ctx context.Context, sub *Subscription, expectedVersion int64) error

	// ListLapsed returns up to limit subscriptions whose period ended
	// before the given instant with auto-renew off, still in a
	// premium-granting status. Feed for the expiry sweep.
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
}

// EventLedger is the durable idempotency record of processed provider
// event ids.
type EventLedger interface {
	// Seen reports whether the event id was already recorded.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Record marks the event id as processed. Recording an id twice is
	// not an error; losers of that race treat the event as a duplicate.
	Record(ctx context.Context, eventID string, subscriptionID *uuid.UUID) error
}

// StatusCache is the ephemeral projection of last-known subscription
// status, keyed by kitchen. Pure performance optimization: never the
// source of truth, and unavailability degrades to store reads.
type StatusCache interface {
	// Get returns the cached snapshot or ErrCacheMiss.
	Get(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error)

	// Set stores a snapshot under the kitchen's key with the TTL.
	Set(ctx context.Context, sub *Subscription, ttl time.Duration) error

	// Delete removes the kitchen's entry. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, kitchenID uuid.UUID) error
}

// CheckoutProvider creates hosted checkout sessions with the external
// payment collaborator. Session creation never mutates subscription
// state; state changes only on the resulting webhook.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// CheckoutRequest carries everything the provider needs to start a
// purchase flow for a kitchen.
type CheckoutRequest struct {
	PriceID    string    // provider's price identifier for the plan
	KitchenID  uuid.UUID // round-tripped through the session's custom data
	OwnerID    uuid.UUID
	Email      string
	SuccessURL string
	CancelURL  string
}

// Notifier receives fire-and-forget signals after committed
// transitions. Failures are logged and never roll back state.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, notice ChangeNotice)
}

// NoopNotifier discards all notices.
type NoopNotifier struct{}

func (NoopNotifier) SubscriptionChanged(context.Context, ChangeNotice) {}
