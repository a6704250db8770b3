package selector

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestSelector pins shuffle to identity so pool order is deterministic
func newTestSelector(store storage.Store) *Selector {
	s := New(store)
	s.shuffle = func(n int, swap func(i, j int)) {}
	return s
}

func seedAccount(t *testing.T, store storage.Store, handle string) *types.Account {
	t.Helper()
	account := &types.Account{
		ID:     uuid.New().String(),
		Handle: handle,
		Active: true,
		Credentials: &types.Credentials{
			AuthToken: "a", CSRFToken: "c",
			ConsumerKey: "ck", ConsumerSecret: "cs",
			AccessToken: "1-t", AccessSecret: "as",
		},
	}
	require.NoError(t, store.CreateAccount(account))
	return account
}

func seedTargets(t *testing.T, store storage.Store, pool types.TargetPool, handles ...string) []*types.FollowTarget {
	t.Helper()
	out := make([]*types.FollowTarget, 0, len(handles))
	for _, h := range handles {
		target := &types.FollowTarget{
			ID:         uuid.New().String(),
			Handle:     h,
			Pool:       pool,
			UploadedAt: time.Now().UTC(),
		}
		require.NoError(t, store.CreateTarget(target))
		out = append(out, target)
	}
	return out
}

func TestBatchSize(t *testing.T) {
	settings := &types.Settings{MaxFollowsPerDay: 50, MaxFollowsPerInterval: 2}

	tests := []struct {
		name  string
		daily int
		want  int
	}{
		{"fresh day uses interval cap", 0, 2},
		{"one left today", 49, 1},
		{"daily budget exhausted", 50, 0},
		{"over budget", 55, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &types.Account{DailyFollows: tt.daily}
			assert.Equal(t, tt.want, BatchSize(account, settings))
		})
	}
}

// The batch never schedules a follow that would push following_count past
// max_following, even mid-day with daily budget to spare
func TestBatchSizeFollowingCeiling(t *testing.T) {
	settings := &types.Settings{MaxFollowsPerDay: 50, MaxFollowsPerInterval: 2, MaxFollowing: 10}

	tests := []struct {
		name      string
		following int
		want      int
	}{
		{"plenty of headroom", 0, 2},
		{"one below the ceiling", 9, 1},
		{"at the ceiling", 10, 0},
		{"past the ceiling", 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &types.Account{FollowingCount: tt.following}
			assert.Equal(t, tt.want, BatchSize(account, settings))
		})
	}

	// Zero means no ceiling
	unbounded := &types.Settings{MaxFollowsPerDay: 50, MaxFollowsPerInterval: 2}
	assert.Equal(t, 2, BatchSize(&types.Account{FollowingCount: 5000}, unbounded))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		batch        int
		ri, re       float64
		wantInternal int
		wantExternal int
	}{
		{"default mix of ten", 10, 0.2, 0.8, 2, 8},
		{"zero ratios fall back", 10, 0, 0, 2, 8},
		{"batch of two touches both pools", 2, 0.2, 0.8, 1, 1},
		{"heavy internal still leaves external a slot", 4, 1, 0, 3, 1},
		{"single slot follows the ratio", 1, 0.2, 0.8, 0, 1},
		{"empty batch", 0, 0.2, 0.8, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &types.Settings{InternalRatio: tt.ri, ExternalRatio: tt.re}
			internal, external := Split(tt.batch, settings)
			assert.Equal(t, tt.wantInternal, internal)
			assert.Equal(t, tt.wantExternal, external)
		})
	}
}

func TestSelectReservesBatch(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	seedAccount(t, store, "int1")
	seedAccount(t, store, "int2")
	seedTargets(t, store, types.PoolExternal, "ext1", "ext2", "ext3")
	seedTargets(t, store, types.PoolInternal, "int1", "int2")

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 2

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 1, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, picked, 2)

	// Batch of two draws one from each pool
	pools := map[types.TargetPool]int{}
	for _, target := range picked {
		pools[target.Pool]++
	}
	assert.Equal(t, 1, pools[types.PoolInternal])
	assert.Equal(t, 1, pools[types.PoolExternal])

	// Each pick is now reserved as a pending row
	rows, err := store.ListProgressByAccount(account.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, types.ProgressPending, row.Status)
		require.NotNil(t, row.Meta)
		assert.Equal(t, 1, row.Meta.Group)
	}
}

func TestSelectNeverRepeatsAPair(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	seedTargets(t, store, types.PoolExternal, "ext1", "ext2", "ext3", "ext4")

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 2
	settings.InternalRatio, settings.ExternalRatio = 0, 1

	sel := newTestSelector(store)
	first, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	second, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, target := range append(first, second...) {
		assert.False(t, seen[target.ID], "target %s handed out twice", target.Handle)
		seen[target.ID] = true
	}
	assert.Len(t, seen, 4)
}

func TestSelectExcludesOwnHandle(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	seedAccount(t, store, "worker2")
	seedTargets(t, store, types.PoolInternal, "worker1", "worker2")

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 5
	settings.InternalRatio, settings.ExternalRatio = 1, 0

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "worker2", picked[0].Handle)
}

func TestSelectSkipsAttemptedTargets(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	targets := seedTargets(t, store, types.PoolExternal, "ext1", "ext2")

	// ext1 already has a terminal row from an earlier cycle
	_, err := store.CreatePending(account.ID, targets[0], time.Now().UTC(), &types.ProgressMeta{})
	require.NoError(t, err)
	_, err = store.MarkInProgress(account.ID, targets[0].ID)
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(account.ID, targets[0].ID, types.FollowOutcome{Kind: types.OutcomeOK}, time.Second))

	account, err = store.GetAccount(account.ID)
	require.NoError(t, err)

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 5
	settings.InternalRatio, settings.ExternalRatio = 0, 1

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "ext2", picked[0].Handle)
}

func TestSelectBackfillsFromOtherPool(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	seedTargets(t, store, types.PoolExternal, "ext1", "ext2", "ext3")

	// Internal pool is empty, the internal slot backfills from external
	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 2

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, picked, 2)
	for _, target := range picked {
		assert.Equal(t, types.PoolExternal, target.Pool)
	}
}

func TestSelectEmptyWhenBudgetSpent(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	seedTargets(t, store, types.PoolExternal, "ext1")

	settings := types.DefaultSettings()
	account.DailyFollows = settings.MaxFollowsPerDay

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, picked)

	rows, err := store.ListProgressByAccount(account.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSelectExhaustedPools(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")
	targets := seedTargets(t, store, types.PoolExternal, "ext1")

	_, err := store.CreatePending(account.ID, targets[0], time.Now().UTC(), &types.ProgressMeta{})
	require.NoError(t, err)

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 3

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, picked)
}

func TestSelectLargePoolHonorsCounts(t *testing.T) {
	store := newTestStore(t)
	account := seedAccount(t, store, "worker1")

	var internals, externals []string
	for i := 0; i < 10; i++ {
		internals = append(internals, fmt.Sprintf("int%d", i))
		externals = append(externals, fmt.Sprintf("ext%d", i))
	}
	for _, h := range internals {
		seedAccount(t, store, h)
	}
	seedTargets(t, store, types.PoolInternal, internals...)
	seedTargets(t, store, types.PoolExternal, externals...)

	settings := types.DefaultSettings()
	settings.MaxFollowsPerInterval = 10

	sel := newTestSelector(store)
	picked, err := sel.Select(account, settings, 0, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, picked, 10)

	pools := map[types.TargetPool]int{}
	for _, target := range picked {
		pools[target.Pool]++
	}
	assert.Equal(t, 2, pools[types.PoolInternal])
	assert.Equal(t, 8, pools[types.PoolExternal])
}
