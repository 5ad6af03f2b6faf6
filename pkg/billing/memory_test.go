package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapurlokal/backend/pkg/billing"
)

func TestMemoryStore_UpsertCAS(t *testing.T) {
	t.Parallel()

	t.Run("insert requires version zero", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		ctx := context.Background()
		sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusTrialing}

		require.NoError(t, store.Upsert(ctx, sub, 0))
		assert.EqualValues(t, 1, sub.Version)

		ghost := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusTrialing}
		assert.ErrorIs(t, store.Upsert(ctx, ghost, 3), billing.ErrConflict)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		ctx := context.Background()
		sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusTrialing}
		require.NoError(t, store.Upsert(ctx, sub, 0))
		require.NoError(t, store.Upsert(ctx, sub, 1))
		assert.EqualValues(t, 2, sub.Version)

		stale := &billing.Subscription{ID: sub.ID, KitchenID: sub.KitchenID, Status: billing.StatusActive}
		assert.ErrorIs(t, store.Upsert(ctx, stale, 1), billing.ErrConflict)
	})

	t.Run("exactly one concurrent writer wins per version", func(t *testing.T) {
		t.Parallel()
		store := billing.NewMemoryStore()
		ctx := context.Background()
		sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusActive}
		require.NoError(t, store.Upsert(ctx, sub, 0))

		const writers = 8
		var wg sync.WaitGroup
		conflicts := make(chan error, writers)
		wg.Add(writers)
		for range writers {
			go func() {
				defer wg.Done()
				cp := *sub
				conflicts <- store.Upsert(ctx, &cp, 1)
			}()
		}
		wg.Wait()
		close(conflicts)

		won := 0
		for err := range conflicts {
			if err == nil {
				won++
			} else {
				assert.ErrorIs(t, err, billing.ErrConflict)
			}
		}
		assert.Equal(t, 1, won)

		stored, err := store.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stored.Version)
	})
}

func TestMemoryStore_OneLiveRowPerKitchen(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	ctx := context.Background()
	kitchenID := uuid.New()

	first := &billing.Subscription{ID: uuid.New(), KitchenID: kitchenID, Status: billing.StatusActive}
	require.NoError(t, store.Upsert(ctx, first, 0))

	second := &billing.Subscription{ID: uuid.New(), KitchenID: kitchenID, Status: billing.StatusTrialing}
	assert.ErrorIs(t, store.Upsert(ctx, second, 0), billing.ErrConflict)

	// Terminal rows do not hold the slot.
	first.Status = billing.StatusCancelled
	require.NoError(t, store.Upsert(ctx, first, 1))
	require.NoError(t, store.Upsert(ctx, second, 0))
}

func TestMemoryStore_GetByKitchen(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	ctx := context.Background()
	kitchenID := uuid.New()

	expired := &billing.Subscription{ID: uuid.New(), KitchenID: kitchenID, Status: billing.StatusExpired}
	require.NoError(t, store.Upsert(ctx, expired, 0))

	// Terminal history is still visible when no live record exists.
	got, err := store.GetByKitchen(ctx, kitchenID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, got.Status)

	live := &billing.Subscription{ID: uuid.New(), KitchenID: kitchenID, Status: billing.StatusActive}
	require.NoError(t, store.Upsert(ctx, live, 0))

	got, err = store.GetByKitchen(ctx, kitchenID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID, "live record shadows terminal history")

	_, err = store.GetByKitchen(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestMemoryStore_GetByExternalRef(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	ctx := context.Background()
	sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusActive, ExternalRef: "sub_ref_x"}
	require.NoError(t, store.Upsert(ctx, sub, 0))

	got, err := store.GetByExternalRef(ctx, "sub_ref_x")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = store.GetByExternalRef(ctx, "")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	ctx := context.Background()
	sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusActive}
	require.NoError(t, store.Upsert(ctx, sub, 0))

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	got.Status = billing.StatusCancelled

	again, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, again.Status, "callers must not mutate stored state")
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	ledger := billing.NewMemoryLedger()
	ctx := context.Background()
	subID := uuid.New()

	seen, err := ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.Record(ctx, "evt_1", &subID))
	require.NoError(t, ledger.Record(ctx, "evt_1", &subID))

	seen, err = ledger.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, ledger.Len())
}

func TestMemoryCache_TTL(t *testing.T) {
	t.Parallel()

	cache := billing.NewMemoryCache()
	ctx := context.Background()
	sub := &billing.Subscription{ID: uuid.New(), KitchenID: uuid.New(), Status: billing.StatusActive}

	require.NoError(t, cache.Set(ctx, sub, 20*time.Millisecond))
	got, err := cache.Get(ctx, sub.KitchenID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	time.Sleep(40 * time.Millisecond)

	_, err = cache.Get(ctx, sub.KitchenID)
	assert.ErrorIs(t, err, billing.ErrCacheMiss)
	assert.False(t, cache.Contains(sub.KitchenID))
}
