// Package billing implements the subscription lifecycle engine that
// grants kitchens premium status and reconciles local state against
// asynchronous payment-provider events.
//
// Webhook deliveries can arrive multiple times, out of order, or
// arbitrarily late, and local user actions race with remote events.
// The package is built so that none of that can corrupt entitlement:
// a lapsed kitchen never keeps premium placement and an active payer
// is never demoted by a replay.
//
// # Architecture
//
// Components, leaves first:
//
//   - SubscriptionStore: durable record of one subscription per
//     kitchen, written only through a compare-and-swap Upsert.
//   - EventLedger: durable idempotency record of processed provider
//     event ids.
//   - StatusCache: TTL-bound projection of last-known status, deleted
//     on every committed transition. Never the source of truth.
//   - Decide: the pure lifecycle engine. Given current state and one
//     tagged input it returns the next state; it has no side effects
//     and never blocks.
//   - Service: the reconciler. The only component allowed to mutate
//     the store; user commands and provider events both funnel
//     through it.
//   - Sweeper: time-based trigger demoting lapsed, non-renewing
//     subscriptions to expired.
//
// # Consistency model
//
// Three mechanisms compose:
//
//   - The ledger absorbs at-least-once webhook delivery: a replayed
//     event id is a success no-op.
//   - The per-subscription sequence marker rejects logically older
//     events even when they arrive under a novel id.
//   - The store's compare-and-swap is the sole mutual exclusion for
//     the shared record; a losing writer re-reads and re-decides once,
//     then surfaces ErrConflict as retryable.
//
// No lock is ever held across an external network call; checkout
// session creation happens entirely outside any transactional
// boundary, and state only changes on the resulting webhook.
//
// # Usage
//
//	store := billing.NewPGStore(pool)
//	cache := billing.NewRedisCache(redisClient)
//	provider, err := billing.NewPaddleProvider(paddleCfg, billing.NewCatalog())
//	if err != nil {
//		// handle error
//	}
//
//	svc := billing.NewService(store, store, cache, provider,
//		billing.WithLogger(log),
//		billing.WithCacheTTL(5*time.Minute),
//	)
//
//	sub, err := svc.StartTrial(ctx, kitchenID, ownerID, billing.PlanMonthly)
//
// Webhook ingestion, after signature verification by the ingress layer:
//
//	event, err := provider.ParseWebhookRequest(r)
//	if err != nil {
//		// reject delivery
//	}
//	if err := svc.ApplyEvent(ctx, *event); err != nil {
//		// log; the delivery is still acknowledged so the provider
//		// does not retry absorbed duplicates indefinitely
//	}
package billing
