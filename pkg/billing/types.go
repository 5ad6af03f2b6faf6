package billing

import "time"

// PlanType identifies one of the premium billing tiers a kitchen can buy.
type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanBimonthly PlanType = "bimonthly"
	PlanQuarterly PlanType = "quarterly"
)

// Valid reports whether the plan type is one of the known tiers.
func (p PlanType) Valid() bool {
	switch p {
	case PlanMonthly, PlanBimonthly, PlanQuarterly:
		return true
	}
	return false
}

// Status represents the current state of a kitchen's subscription.
type Status string

const (
	// StatusNone is the projection for a kitchen with no subscription
	// record. It is never persisted.
	StatusNone      Status = "none"
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status ends the subscription's life.
// Terminal records are retained for audit but never transition again
// except through a fresh trial or checkout.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Premium reports whether the status entitles the kitchen to premium
// placement. Past-due keeps premium while the provider retries payment;
// a cancel request keeps premium until the paid period lapses.
func (s Status) Premium() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

// Money represents a monetary amount in the smallest currency unit.
// For example, Rp20.000 IDR would be Amount: 20000, Currency: "IDR".
type Money struct {
	Amount   int64  // Amount in smallest currency unit
	Currency string // ISO 4217 currency code
}

// TrialPeriod is how long a free trial entitles a kitchen to premium.
const TrialPeriod = 30 * 24 * time.Hour

// EventType is the normalized payment-provider event type. The ingress
// layer maps provider-specific webhook names to these before calling
// ApplyEvent.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout_completed"
	EventPaymentFailed     EventType = "payment_failed"
	EventPaymentRecovered  EventType = "payment_recovered"
	EventProviderCancelled EventType = "provider_cancelled"
	EventPeriodExpired     EventType = "period_expired"
)

// CheckoutOptions carries optional checkout session parameters.
type CheckoutOptions struct {
	Email      string // Pre-fill billing email if known
	SuccessURL string // Redirect after successful payment
	CancelURL  string // Redirect if customer abandons checkout
}
