package billing

import "errors"

var (
	// ErrValidation marks a malformed command or event. No state change.
	ErrValidation = errors.New("billing: validation failed")

	// ErrInvalidTransition marks a command or event that is not valid
	// from the subscription's current state. Surfaced as a business-rule
	// failure, not a system fault; for webhook processing it commonly
	// means an already-applied event replayed from a fresh id.
	ErrInvalidTransition = errors.New("billing: invalid subscription transition")

	// ErrStaleEvent marks an event whose sequence is at or below the
	// subscription's last applied sequence. Absorbed, never applied.
	ErrStaleEvent = errors.New("billing: stale event sequence")

	// ErrConflict marks an optimistic-concurrency loss on the store.
	// The reconciler retries its decision once; afterwards the condition
	// is surfaced as retryable to the caller.
	ErrConflict = errors.New("billing: concurrent subscription update")

	// ErrDuplicateEvent marks an event id already present in the ledger.
	// Absorbed silently and logged at debug level.
	ErrDuplicateEvent = errors.New("billing: duplicate event")

	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrPermissionDenied     = errors.New("billing: not the subscription owner")
	ErrAlreadySubscribed    = errors.New("billing: kitchen already has a live subscription")
	ErrTrialNotAvailable    = errors.New("billing: free trial not available for a previously paid kitchen")

	// ErrDependencyUnavailable marks an unreachable collaborator. Store
	// unavailability is fatal to the operation; cache unavailability
	// degrades to store reads.
	ErrDependencyUnavailable = errors.New("billing: dependency unavailable")

	// ErrCacheMiss is returned by StatusCache.Get when no entry exists
	// within its TTL.
	ErrCacheMiss = errors.New("billing: cache miss")

	ErrMissingEventID         = errors.New("billing: event id is required")
	ErrMissingEventTime       = errors.New("billing: event timestamp is required")
	ErrMissingExternalRef     = errors.New("billing: external ref is required")
	ErrMissingPeriodBounds    = errors.New("billing: period bounds are required")
	ErrMissingSubscriptionRef = errors.New("billing: event references no subscription")
	ErrUnknownEventType       = errors.New("billing: unknown event type")
	ErrUnknownPlanType        = errors.New("billing: unknown plan type")
	ErrExternalRefMismatch    = errors.New("billing: external ref does not match existing subscription")

	// Provider configuration errors.
	ErrMissingAPIKey             = errors.New("billing: provider API key is required")
	ErrMissingWebhookSecret      = errors.New("billing: provider webhook secret is required")
	ErrInvalidProviderEnv        = errors.New("billing: invalid provider environment")
	ErrWebhookVerificationFailed = errors.New("billing: webhook signature verification failed")
	ErrNoCheckoutURL             = errors.New("billing: no checkout URL returned from provider")
)

// Kind is a stable machine-readable error classification for the HTTP
// layer to map onto response codes.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindDuplicate         Kind = "duplicate_event"
	KindNotFound          Kind = "not_found"
	KindPermission        Kind = "permission_denied"
	KindUnavailable       Kind = "dependency_unavailable"
	KindInternal          Kind = "internal"
)

// KindOf classifies an error returned by this package. Unrecognized
// errors classify as internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrMissingEventID),
		errors.Is(err, ErrMissingEventTime),
		errors.Is(err, ErrMissingExternalRef),
		errors.Is(err, ErrMissingPeriodBounds),
		errors.Is(err, ErrMissingSubscriptionRef),
		errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrUnknownPlanType),
		errors.Is(err, ErrExternalRefMismatch):
		return KindValidation
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrStaleEvent),
		errors.Is(err, ErrAlreadySubscribed),
		errors.Is(err, ErrTrialNotAvailable):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDuplicateEvent):
		return KindDuplicate
	case errors.Is(err, ErrSubscriptionNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrDependencyUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
