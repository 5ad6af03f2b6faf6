package billing_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapurlokal/backend/pkg/billing"
	"github.com/dapurlokal/backend/pkg/pg"
)

// newTestPGStore connects to the database named by TEST_PG_CONN_URL,
// applies migrations, and wipes the billing tables. The suite is
// skipped when the variable is unset so the package tests stay
// self-contained by default.
func newTestPGStore(t *testing.T) *billing.PGStore {
	t.Helper()
	dsn := os.Getenv("TEST_PG_CONN_URL")
	if dsn == "" {
		t.Skip("TEST_PG_CONN_URL not set, skipping PostgreSQL store tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cfg := pg.Config{
		MigrationsPath:  "../../internal/db/migrations",
		MigrationsTable: "schema_migrations",
	}
	require.NoError(t, pg.Migrate(ctx, pool, cfg, testLogger()))

	_, err = pool.Exec(ctx, `TRUNCATE subscriptions, processed_events`)
	require.NoError(t, err)

	return billing.NewPGStore(pool)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func pgTestSubscription(kitchenID uuid.UUID, status billing.Status) *billing.Subscription {
	now := time.Now().UTC()
	return &billing.Subscription{
		ID:                 uuid.New(),
		KitchenID:          kitchenID,
		OwnerID:            uuid.New(),
		PlanType:           billing.PlanMonthly,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		AutoRenew:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestPGStore_UpsertCAS(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	sub := pgTestSubscription(uuid.New(), billing.StatusTrialing)
	require.NoError(t, store.Upsert(ctx, sub, 0))
	assert.EqualValues(t, 1, sub.Version)

	// Re-inserting the same id at version zero is a conflict, not a
	// silent overwrite.
	dup := pgTestSubscription(sub.KitchenID, billing.StatusTrialing)
	dup.ID = sub.ID
	assert.ErrorIs(t, store.Upsert(ctx, dup, 0), billing.ErrConflict)

	// Updating with the version actually stored succeeds once.
	sub.Status = billing.StatusActive
	sub.ExternalRef = "sub_pg_cas"
	require.NoError(t, store.Upsert(ctx, sub, 1))
	assert.EqualValues(t, 2, sub.Version)

	// A writer holding the superseded version loses.
	stale := pgTestSubscription(sub.KitchenID, billing.StatusCancelled)
	stale.ID = sub.ID
	assert.ErrorIs(t, store.Upsert(ctx, stale, 1), billing.ErrConflict)

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status)
	assert.EqualValues(t, 2, got.Version)
}

func TestPGStore_OneLiveRowPerKitchen(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()
	kitchenID := uuid.New()

	first := pgTestSubscription(kitchenID, billing.StatusActive)
	require.NoError(t, store.Upsert(ctx, first, 0))

	// The partial unique index turns a second live row into a conflict.
	second := pgTestSubscription(kitchenID, billing.StatusTrialing)
	assert.ErrorIs(t, store.Upsert(ctx, second, 0), billing.ErrConflict)

	// Once the first row is terminal, a new live row is allowed.
	first.Status = billing.StatusCancelled
	require.NoError(t, store.Upsert(ctx, first, 1))
	require.NoError(t, store.Upsert(ctx, second, 0))
}

func TestPGStore_GetByKitchen_PrefersLiveRow(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()
	kitchenID := uuid.New()

	terminal := pgTestSubscription(kitchenID, billing.StatusExpired)
	require.NoError(t, store.Upsert(ctx, terminal, 0))

	got, err := store.GetByKitchen(ctx, kitchenID)
	require.NoError(t, err)
	assert.Equal(t, terminal.ID, got.ID, "terminal history is visible when nothing is live")

	live := pgTestSubscription(kitchenID, billing.StatusActive)
	require.NoError(t, store.Upsert(ctx, live, 0))

	got, err = store.GetByKitchen(ctx, kitchenID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID, "the live row shadows terminal history")

	_, err = store.GetByKitchen(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestPGStore_GetByExternalRef(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	sub := pgTestSubscription(uuid.New(), billing.StatusActive)
	sub.ExternalRef = "sub_pg_ref"
	require.NoError(t, store.Upsert(ctx, sub, 0))

	got, err := store.GetByExternalRef(ctx, "sub_pg_ref")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = store.GetByExternalRef(ctx, "sub_pg_absent")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	_, err = store.GetByExternalRef(ctx, "")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestPGStore_ListLapsed(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()
	pastEnd := time.Now().UTC().Add(-48 * time.Hour)

	lapsed := pgTestSubscription(uuid.New(), billing.StatusActive)
	lapsed.AutoRenew = false
	lapsed.CurrentPeriodEnd = pastEnd
	require.NoError(t, store.Upsert(ctx, lapsed, 0))

	renewing := pgTestSubscription(uuid.New(), billing.StatusActive)
	renewing.CurrentPeriodEnd = pastEnd
	require.NoError(t, store.Upsert(ctx, renewing, 0))

	terminal := pgTestSubscription(uuid.New(), billing.StatusExpired)
	terminal.AutoRenew = false
	terminal.CurrentPeriodEnd = pastEnd
	require.NoError(t, store.Upsert(ctx, terminal, 0))

	current := pgTestSubscription(uuid.New(), billing.StatusActive)
	current.AutoRenew = false
	require.NoError(t, store.Upsert(ctx, current, 0))

	got, err := store.ListLapsed(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lapsed.ID, got[0].ID)
}

func TestPGStore_EventLedger(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()
	subID := uuid.New()

	seen, err := store.Seen(ctx, "evt_pg_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Record(ctx, "evt_pg_1", &subID))
	// Recording the same id twice is a no-op, not an error.
	require.NoError(t, store.Record(ctx, "evt_pg_1", &subID))
	// Events absorbed before a local record existed carry no
	// subscription id.
	require.NoError(t, store.Record(ctx, "evt_pg_2", nil))

	seen, err = store.Seen(ctx, "evt_pg_1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = store.Seen(ctx, "evt_pg_2")
	require.NoError(t, err)
	assert.True(t, seen)
}
