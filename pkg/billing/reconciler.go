package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service is the reconciler: the single component allowed to mutate
// the subscription store. User commands and provider events both funnel
// through it so every transition takes the same ledger-check, decide,
// compare-and-swap, cache-invalidation path.
type Service interface {
	// Plans returns the purchasable premium tiers.
	Plans() []Plan

	// StartTrial begins a 30-day free trial for the kitchen.
	StartTrial(ctx context.Context, kitchenID, ownerID uuid.UUID, planType PlanType) (*Subscription, error)

	// CreateCheckout opens a hosted checkout session with the payment
	// provider. It never mutates local state; activation happens on the
	// resulting webhook.
	CreateCheckout(ctx context.Context, ownerID, kitchenID uuid.UUID, planType PlanType, opts CheckoutOptions) (*Checkout, error)

	// Cancel turns off auto-renewal. Premium persists until the paid
	// period lapses; the sweep demotes the record afterwards.
	Cancel(ctx context.Context, subscriptionID, ownerID uuid.UUID, reason string) (*Subscription, error)

	// GetStatus returns the kitchen's subscription, cache-aside.
	GetStatus(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error)

	// ApplyEvent ingests one verified provider event: de-duplicated by
	// event id, sequence-checked, applied at most once.
	ApplyEvent(ctx context.Context, event Event) error

	// ExpireLapsed demotes up to limit lapsed, non-renewing
	// subscriptions to expired. Returns how many were demoted.
	ExpireLapsed(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	store    SubscriptionStore
	ledger   EventLedger
	cache    StatusCache
	provider CheckoutProvider
	notifier Notifier
	catalog  *Catalog
	cacheTTL time.Duration
	log      *slog.Logger
}

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithNotifier sets the notification collaborator. Default is a no-op.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithCatalog replaces the default plan catalog.
func WithCatalog(c *Catalog) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithCacheTTL sets the status cache TTL. Default is 5 minutes.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger for transition and degradation logs.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the reconciler. Panics on nil required
// dependencies to fail fast during initialization; pass a NoopCache
// when no cache backend is configured.
func NewService(store SubscriptionStore, ledger EventLedger, cache StatusCache, provider CheckoutProvider, opts ...ServiceOption) Service {
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	if ledger == nil {
		panic("billing: EventLedger is required")
	}
	if cache == nil {
		panic("billing: StatusCache is required")
	}
	if provider == nil {
		panic("billing: CheckoutProvider is required")
	}

	s := &service{
		store:    store,
		ledger:   ledger,
		cache:    cache,
		provider: provider,
		notifier: NoopNotifier{},
		catalog:  NewCatalog(),
		cacheTTL: 5 * time.Minute,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Plans() []Plan {
	return s.catalog.Plans()
}

func (s *service) StartTrial(ctx context.Context, kitchenID, ownerID uuid.UUID, planType PlanType) (*Subscription, error) {
	if kitchenID == uuid.Nil || ownerID == uuid.Nil {
		return nil, ErrValidation
	}

	load := func(ctx context.Context) (*Subscription, error) {
		return s.loadByKitchen(ctx, kitchenID)
	}
	return s.applyCommand(ctx, load, StartTrial{
		KitchenID: kitchenID,
		OwnerID:   ownerID,
		PlanType:  planType,
		Now:       time.Now().UTC(),
	})
}

func (s *service) CreateCheckout(ctx context.Context, ownerID, kitchenID uuid.UUID, planType PlanType, opts CheckoutOptions) (*Checkout, error) {
	if kitchenID == uuid.Nil || ownerID == uuid.Nil {
		return nil, ErrValidation
	}
	plan, ok := s.catalog.ByType(planType)
	if !ok {
		return nil, errors.Join(ErrValidation, ErrUnknownPlanType)
	}

	// A kitchen with a live paid subscription has nothing to buy.
	// Trialing kitchens may check out; the webhook upgrades them.
	current, err := s.loadByKitchen(ctx, kitchenID)
	if err != nil {
		return nil, err
	}
	if current != nil && (current.Status == StatusActive || current.Status == StatusPastDue) {
		return nil, ErrAlreadySubscribed
	}

	// Entirely outside any transactional boundary: no lock is held
	// across the provider call and no local state changes here.
	return s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		PriceID:    plan.PriceID,
		KitchenID:  kitchenID,
		OwnerID:    ownerID,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
}

func (s *service) Cancel(ctx context.Context, subscriptionID, ownerID uuid.UUID, reason string) (*Subscription, error) {
	if subscriptionID == uuid.Nil || ownerID == uuid.Nil {
		return nil, ErrValidation
	}

	load := func(ctx context.Context) (*Subscription, error) {
		return s.store.GetByID(ctx, subscriptionID)
	}
	return s.applyCommand(ctx, load, CancelRequest{
		OwnerID: ownerID,
		Reason:  reason,
		Now:     time.Now().UTC(),
	})
}

func (s *service) GetStatus(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	if kitchenID == uuid.Nil {
		return nil, ErrValidation
	}

	cached, err := s.cache.Get(ctx, kitchenID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		// Cache unavailability degrades to always-compute, never to
		// serving wrong data.
		s.log.DebugContext(ctx, "status cache read failed, falling back to store",
			slog.String("kitchen_id", kitchenID.String()), slog.Any("error", err))
	}

	sub, err := s.store.GetByKitchen(ctx, kitchenID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, sub, s.cacheTTL); err != nil {
		s.log.DebugContext(ctx, "status cache populate failed",
			slog.String("kitchen_id", kitchenID.String()), slog.Any("error", err))
	}
	return sub, nil
}

func (s *service) ApplyEvent(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return errors.Join(ErrValidation, err)
	}

	// At-least-once delivery: an id the ledger already holds was fully
	// processed before, so the replay is a success no-op.
	seen, err := s.ledger.Seen(ctx, event.EventID)
	if err != nil {
		return errors.Join(ErrDependencyUnavailable, err)
	}
	if seen {
		s.log.DebugContext(ctx, "duplicate event absorbed",
			slog.String("event_id", event.EventID), slog.String("type", string(event.Type)))
		return nil
	}

	current, err := s.loadForEvent(ctx, event)
	if err != nil {
		return err
	}

	in, err := inputForEvent(event, current)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		dec, derr := Decide(current, in)
		if derr != nil {
			if absorbable(derr) {
				// Record the id so replays keep being absorbed cheaply.
				s.recordEvent(ctx, event.EventID, current)
				s.log.DebugContext(ctx, "event absorbed without transition",
					slog.String("event_id", event.EventID),
					slog.String("type", string(event.Type)),
					slog.Any("reason", derr))
				return nil
			}
			return derr
		}

		if err := s.store.Upsert(ctx, dec.Next, expectedVersion(current, dec.Next)); err != nil {
			if errors.Is(err, ErrConflict) && attempt == 0 {
				// Lost the race with a concurrent writer: re-read and
				// re-decide once against the fresh state.
				current, err = s.loadForEvent(ctx, event)
				if err != nil {
					return err
				}
				continue
			}
			return err
		}

		s.recordEvent(ctx, event.EventID, dec.Next)
		s.afterCommit(ctx, dec)
		return nil
	}
}

func (s *service) ExpireLapsed(ctx context.Context, now time.Time, limit int) (int, error) {
	lapsed, err := s.store.ListLapsed(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range lapsed {
		// Synthetic event id keyed on the period bound, so overlapping
		// sweep replicas dedup through the ledger like any webhook.
		ev := Event{
			EventID:     fmt.Sprintf("sweep:%s:%d", sub.ID, sub.CurrentPeriodEnd.Unix()),
			Type:        EventPeriodExpired,
			KitchenID:   sub.KitchenID,
			ExternalRef: sub.ExternalRef,
			OccurredAt:  now,
		}
		if err := s.ApplyEvent(ctx, ev); err != nil {
			s.log.ErrorContext(ctx, "expiry sweep failed for subscription",
				slog.String("subscription_id", sub.ID.String()), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}

// applyCommand runs the decide/compare-and-swap loop for user commands:
// one retry against freshly read state, then the conflict surfaces as
// retryable.
func (s *service) applyCommand(ctx context.Context, load func(context.Context) (*Subscription, error), in Input) (*Subscription, error) {
	current, err := load(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		dec, derr := Decide(current, in)
		if derr != nil {
			return nil, derr
		}

		if err := s.store.Upsert(ctx, dec.Next, expectedVersion(current, dec.Next)); err != nil {
			if errors.Is(err, ErrConflict) && attempt == 0 {
				current, err = load(ctx)
				if err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		s.afterCommit(ctx, dec)
		return dec.Next, nil
	}
}

// afterCommit invalidates the status cache and fires the notification,
// strictly after the store write. Neither failure rolls back state.
func (s *service) afterCommit(ctx context.Context, dec Decision) {
	if err := s.cache.Delete(ctx, dec.Next.KitchenID); err != nil {
		s.log.WarnContext(ctx, "status cache invalidation failed",
			slog.String("kitchen_id", dec.Next.KitchenID.String()), slog.Any("error", err))
	}

	s.log.InfoContext(ctx, "subscription transition committed",
		slog.String("subscription_id", dec.Next.ID.String()),
		slog.String("kitchen_id", dec.Next.KitchenID.String()),
		slog.String("from", string(dec.From)),
		slog.String("to", string(dec.To)),
		slog.Bool("auto_renew", dec.Next.AutoRenew))

	if dec.Notify {
		s.notifier.SubscriptionChanged(ctx, ChangeNotice{
			SubscriptionID: dec.Next.ID,
			KitchenID:      dec.Next.KitchenID,
			From:           dec.From,
			To:             dec.To,
			AutoRenew:      dec.Next.AutoRenew,
			OccurredAt:     time.Now().UTC(),
		})
	}
}

// expectedVersion returns the compare-and-swap token for the decided
// write: the loaded record's version when the engine evolved it in
// place, zero (insert) when it minted a fresh record.
func expectedVersion(current, next *Subscription) int64 {
	if current != nil && current.ID == next.ID {
		return current.Version
	}
	return 0
}

// loadByKitchen treats absence as nil, the lifecycle engine's "none".
func (s *service) loadByKitchen(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetByKitchen(ctx, kitchenID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// loadForEvent resolves the event's target subscription: by kitchen
// when the event carries one, otherwise by the provider's external ref.
func (s *service) loadForEvent(ctx context.Context, event Event) (*Subscription, error) {
	if event.KitchenID != uuid.Nil {
		return s.loadByKitchen(ctx, event.KitchenID)
	}
	sub, err := s.store.GetByExternalRef(ctx, event.ExternalRef)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *service) recordEvent(ctx context.Context, eventID string, sub *Subscription) {
	var subID *uuid.UUID
	if sub != nil {
		id := sub.ID
		subID = &id
	}
	if err := s.ledger.Record(ctx, eventID, subID); err != nil {
		// A lost ledger write only means the next replay re-runs the
		// decide step, which lands on the stale-sequence no-op.
		s.log.WarnContext(ctx, "event ledger record failed",
			slog.String("event_id", eventID), slog.Any("error", err))
	}
}

// inputForEvent maps a normalized provider event onto a lifecycle
// input.
func inputForEvent(event Event, current *Subscription) (Input, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		kitchenID := event.KitchenID
		if kitchenID == uuid.Nil && current != nil {
			kitchenID = current.KitchenID
		}
		ownerID := event.OwnerID
		if current != nil {
			ownerID = current.OwnerID
		}
		return CheckoutCompleted{
			ExternalRef: event.ExternalRef,
			KitchenID:   kitchenID,
			OwnerID:     ownerID,
			PlanType:    event.PlanType,
			PeriodStart: event.PeriodStart,
			PeriodEnd:   event.PeriodEnd,
			Seq:         event.Seq(),
		}, nil
	case EventPaymentFailed:
		return PaymentFailed{Seq: event.Seq()}, nil
	case EventPaymentRecovered:
		return PaymentRecovered{
			PeriodStart: event.PeriodStart,
			PeriodEnd:   event.PeriodEnd,
			Seq:         event.Seq(),
		}, nil
	case EventProviderCancelled:
		return ProviderCancelled{Seq: event.Seq()}, nil
	case EventPeriodExpired:
		return PeriodExpired{Now: event.OccurredAt}, nil
	}
	return nil, errors.Join(ErrValidation, ErrUnknownEventType)
}

// absorbable reports whether a decide failure is the expected replay or
// out-of-order noise that webhook processing swallows, as opposed to a
// malformed event the caller should hear about.
func absorbable(err error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPermissionDenied) {
		return false
	}
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleEvent)
}
