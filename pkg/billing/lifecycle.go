package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Input is a tagged variant fed to Decide. The set is sealed: every
// way a subscription can change is one of the types below, so the
// transition table stays exhaustively checkable.
type Input interface {
	kind() inputKind
}

type inputKind string

const (
	kindStartTrial        inputKind = "start_trial"
	kindCheckoutCompleted inputKind = "checkout_completed"
	kindPaymentFailed     inputKind = "payment_failed"
	kindPaymentRecovered  inputKind = "payment_recovered"
	kindProviderCancelled inputKind = "provider_cancelled"
	kindCancelRequest     inputKind = "cancel_request"
	kindPeriodExpired     inputKind = "period_expired"
)

// StartTrial begins a 30-day free trial for a kitchen that has never
// paid. A kitchen with a prior active subscription may not retrial.
type StartTrial struct {
	KitchenID uuid.UUID
	OwnerID   uuid.UUID
	PlanType  PlanType
	Now       time.Time
}

// CheckoutCompleted is the provider's confirmation that payment
// cleared and a remote subscription object exists. KitchenID and
// OwnerID come from the checkout session's custom data and are only
// needed when no local record exists yet.
type CheckoutCompleted struct {
	ExternalRef string
	KitchenID   uuid.UUID
	OwnerID     uuid.UUID
	PlanType    PlanType
	PeriodStart time.Time
	PeriodEnd   time.Time
	Seq         int64
}

// PaymentFailed moves an active subscription to past-due. AutoRenew is
// left on because the provider keeps retrying the charge.
type PaymentFailed struct {
	Seq int64
}

// PaymentRecovered reports a successful charge with fresh
// provider-reported period bounds: a retry restoring a past-due
// subscription, or a routine renewal advancing an active one.
type PaymentRecovered struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Seq         int64
}

// ProviderCancelled is a remote cancellation pushed by the provider.
type ProviderCancelled struct {
	Seq int64
}

// CancelRequest is a local user cancellation. Premium persists through
// the paid period; only renewal stops.
type CancelRequest struct {
	OwnerID uuid.UUID
	Reason  string
	Now     time.Time
}

// PeriodExpired demotes a lapsed, non-renewing subscription. Fired by
// the periodic sweep, never by the provider.
type PeriodExpired struct {
	Now time.Time
}

func (StartTrial) kind() inputKind        { return kindStartTrial }
func (CheckoutCompleted) kind() inputKind { return kindCheckoutCompleted }
func (PaymentFailed) kind() inputKind     { return kindPaymentFailed }
func (PaymentRecovered) kind() inputKind  { return kindPaymentRecovered }
func (ProviderCancelled) kind() inputKind { return kindProviderCancelled }
func (CancelRequest) kind() inputKind     { return kindCancelRequest }
func (PeriodExpired) kind() inputKind     { return kindPeriodExpired }

// allowedFrom is the full transition table: which states each input may
// fire from. Inputs arriving outside their row are invalid transitions,
// not faults; replayed webhooks commonly land there.
var allowedFrom = map[inputKind][]Status{
	kindStartTrial:        {StatusNone, StatusExpired, StatusCancelled},
	kindCheckoutCompleted: {StatusNone, StatusTrialing, StatusExpired, StatusCancelled, StatusPastDue},
	kindPaymentFailed:     {StatusActive},
	kindPaymentRecovered:  {StatusPastDue, StatusActive},
	kindProviderCancelled: {StatusActive, StatusPastDue, StatusTrialing},
	kindCancelRequest:     {StatusActive, StatusTrialing, StatusPastDue},
	kindPeriodExpired:     {StatusTrialing, StatusActive, StatusPastDue},
}

// Decision is the outcome of one lifecycle step.
type Decision struct {
	Next    *Subscription // state to persist; nil when nothing changed
	From    Status
	To      Status
	Changed bool
	Notify  bool // a committed transition worth announcing
}

// Decide is the lifecycle engine: given the current stored state
// (nil means no record, status none) and one input, it returns the
// next state. It has no side effects and never blocks; all persistence
// and cache work belongs to the reconciler.
func Decide(current *Subscription, in Input) (Decision, error) {
	from := StatusNone
	if current != nil {
		from = current.Status
	}
	d := Decision{From: from, To: from}

	// Stale or replayed provider events are rejected before the state
	// table: a logically older event must not be applied even when its
	// event id is novel.
	if seq, ok := inputSeq(in); ok && current != nil && seq <= current.LastEventSeq {
		return d, ErrStaleEvent
	}

	if !statusAllowed(from, allowedFrom[in.kind()]) {
		return d, ErrInvalidTransition
	}

	switch v := in.(type) {
	case StartTrial:
		if current != nil && current.HasEverPaid() {
			return d, errors.Join(ErrInvalidTransition, ErrTrialNotAvailable)
		}
		if !v.PlanType.Valid() {
			return d, errors.Join(ErrValidation, ErrUnknownPlanType)
		}
		now := v.Now.UTC()
		next := &Subscription{
			ID:                 uuid.New(),
			KitchenID:          v.KitchenID,
			OwnerID:            v.OwnerID,
			PlanType:           v.PlanType,
			Status:             StatusTrialing,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.Add(TrialPeriod),
			AutoRenew:          true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if current != nil {
			// Retrial after a lapsed trial reuses the record's identity.
			next.ID = current.ID
			next.CreatedAt = current.CreatedAt
			next.Version = current.Version
			next.LastEventSeq = current.LastEventSeq
		}
		return Decision{Next: next, From: from, To: StatusTrialing, Changed: true, Notify: true}, nil

	case CheckoutCompleted:
		next := current.clone()
		if next == nil {
			// First confirmed checkout for a kitchen with no prior record.
			if v.KitchenID == uuid.Nil {
				return d, errors.Join(ErrValidation, ErrMissingSubscriptionRef)
			}
			now := time.Unix(0, v.Seq).UTC()
			next = &Subscription{
				ID:        uuid.New(),
				KitchenID: v.KitchenID,
				OwnerID:   v.OwnerID,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		if next.ExternalRef != "" && next.ExternalRef != v.ExternalRef {
			if !next.Status.Terminal() {
				// A live record's ref is immutable; a different provider
				// subscription for it is a faulty event.
				return d, errors.Join(ErrValidation, ErrExternalRefMismatch)
			}
			// The old record is terminal and the kitchen bought again: a
			// new provider subscription starts a fresh local record. The
			// activation marker carries over so the retrial policy still
			// sees the kitchen's payment history.
			now := time.Unix(0, v.Seq).UTC()
			next = &Subscription{
				ID:        uuid.New(),
				KitchenID: current.KitchenID,
				OwnerID:   current.OwnerID,
				PlanType:  current.PlanType,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if current.ActivatedAt != nil {
				t := *current.ActivatedAt
				next.ActivatedAt = &t
			}
		}
		next.Status = StatusActive
		next.ExternalRef = v.ExternalRef
		if v.PlanType.Valid() {
			next.PlanType = v.PlanType
		}
		next.CurrentPeriodStart = v.PeriodStart
		next.CurrentPeriodEnd = v.PeriodEnd
		next.AutoRenew = true
		next.CancelReason = ""
		if next.ActivatedAt == nil {
			t := time.Unix(0, v.Seq).UTC()
			next.ActivatedAt = &t
		}
		next.LastEventSeq = v.Seq
		return Decision{Next: next, From: from, To: StatusActive, Changed: true, Notify: true}, nil

	case PaymentFailed:
		next := current.clone()
		next.Status = StatusPastDue
		next.LastEventSeq = v.Seq
		return Decision{Next: next, From: from, To: StatusPastDue, Changed: true, Notify: true}, nil

	case PaymentRecovered:
		next := current.clone()
		next.Status = StatusActive
		if !v.PeriodStart.IsZero() {
			next.CurrentPeriodStart = v.PeriodStart
		}
		if !v.PeriodEnd.IsZero() {
			next.CurrentPeriodEnd = v.PeriodEnd
		}
		next.LastEventSeq = v.Seq
		return Decision{Next: next, From: from, To: StatusActive, Changed: true, Notify: true}, nil

	case ProviderCancelled:
		next := current.clone()
		next.Status = StatusCancelled
		next.AutoRenew = false
		next.LastEventSeq = v.Seq
		return Decision{Next: next, From: from, To: StatusCancelled, Changed: true, Notify: true}, nil

	case CancelRequest:
		if v.OwnerID != current.OwnerID {
			return d, ErrPermissionDenied
		}
		next := current.clone()
		// No immediate demotion: premium persists through the paid
		// period, the sweep expires the record once it lapses.
		next.AutoRenew = false
		next.CancelReason = v.Reason
		return Decision{Next: next, From: from, To: from, Changed: true, Notify: true}, nil

	case PeriodExpired:
		if current.AutoRenew || !current.Lapsed(v.Now) {
			return d, ErrInvalidTransition
		}
		next := current.clone()
		next.Status = StatusExpired
		return Decision{Next: next, From: from, To: StatusExpired, Changed: true, Notify: true}, nil
	}

	return d, ErrInvalidTransition
}

// inputSeq extracts the monotonic sequence from provider-driven inputs.
// Local commands have no sequence and are never stale.
func inputSeq(in Input) (int64, bool) {
	switch v := in.(type) {
	case CheckoutCompleted:
		return v.Seq, true
	case PaymentFailed:
		return v.Seq, true
	case PaymentRecovered:
		return v.Seq, true
	case ProviderCancelled:
		return v.Seq, true
	}
	return 0, false
}

func statusAllowed(s Status, from []Status) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}
