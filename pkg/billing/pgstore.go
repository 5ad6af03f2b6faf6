package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dapurlokal/backend/pkg/pg"
)

// PGStore implements SubscriptionStore and EventLedger on PostgreSQL.
// Optimistic concurrency rides on the version column: updates assert
// the version they read, inserts rely on the partial unique index that
// allows only one live subscription per kitchen.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on top of the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const subscriptionColumns = `id, kitchen_id, owner_id, plan_type, status, external_ref,
	current_period_start, current_period_end, auto_renew, cancel_reason,
	activated_at, last_event_seq, version, created_at, updated_at`

func (s *PGStore) GetByKitchen(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	// The live row wins; otherwise the most recent terminal row keeps
	// the kitchen's history visible for retrial policy.
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE kitchen_id = $1
		ORDER BY (status NOT IN ('cancelled', 'expired')) DESC, updated_at DESC
		LIMIT 1`, kitchenID)
	return scanSubscription(row)
}

func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *PGStore) GetByExternalRef(ctx context.Context, externalRef string) (*Subscription, error) {
	if externalRef == "" {
		return nil, ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE external_ref = $1`, externalRef)
	return scanSubscription(row)
}

func (s *PGStore) Upsert(ctx context.Context, sub *Subscription, expectedVersion int64) error {
	now := time.Now().UTC()

	if expectedVersion == 0 {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO subscriptions (
				id, kitchen_id, owner_id, plan_type, status, external_ref,
				current_period_start, current_period_end, auto_renew, cancel_reason,
				activated_at, last_event_seq, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)`,
			sub.ID, sub.KitchenID, sub.OwnerID, sub.PlanType, sub.Status, sub.ExternalRef,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.AutoRenew, sub.CancelReason,
			sub.ActivatedAt, sub.LastEventSeq, sub.CreatedAt, now)
		if err != nil {
			// A duplicate on the id or the one-live-per-kitchen index
			// means a concurrent writer got there first.
			if pg.IsDuplicateKeyError(err) {
				return ErrConflict
			}
			return errors.Join(ErrDependencyUnavailable, err)
		}
		sub.Version = 1
		sub.UpdatedAt = now
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			plan_type = $1, status = $2, external_ref = $3,
			current_period_start = $4, current_period_end = $5,
			auto_renew = $6, cancel_reason = $7, activated_at = $8,
			last_event_seq = $9, version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12`,
		sub.PlanType, sub.Status, sub.ExternalRef,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.AutoRenew, sub.CancelReason, sub.ActivatedAt,
		sub.LastEventSeq, now, sub.ID, expectedVersion)
	if err != nil {
		return errors.Join(ErrDependencyUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	sub.Version = expectedVersion + 1
	sub.UpdatedAt = now
	return nil
}

func (s *PGStore) ListLapsed(ctx context.Context, before time.Time, limit int) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('trialing', 'active', 'past_due')
		  AND auto_renew = FALSE
		  AND current_period_end < $1
		ORDER BY current_period_end
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, errors.Join(ErrDependencyUnavailable, err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrDependencyUnavailable, err)
	}
	return out, nil
}

func (s *PGStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID).Scan(&seen)
	if err != nil {
		return false, errors.Join(ErrDependencyUnavailable, err)
	}
	return seen, nil
}

func (s *PGStore) Record(ctx context.Context, eventID string, subscriptionID *uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, subscription_id, applied_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, subscriptionID, time.Now().UTC())
	if err != nil {
		return errors.Join(ErrDependencyUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.KitchenID, &sub.OwnerID, &sub.PlanType, &sub.Status, &sub.ExternalRef,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.AutoRenew, &sub.CancelReason,
		&sub.ActivatedAt, &sub.LastEventSeq, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrDependencyUnavailable, err)
	}
	return &sub, nil
}
