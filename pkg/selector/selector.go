package selector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/perchlabs/roost/pkg/log"
	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
	"github.com/rs/zerolog"
)

// Fallback mix applied when both configured ratios are zero
const (
	defaultInternalRatio = 0.2
	defaultExternalRatio = 0.8
)

// Selector draws follow targets for an account from the two pools and
// reserves them as pending progress rows
type Selector struct {
	store  storage.Store
	logger zerolog.Logger

	// shuffle is swapped out in tests for deterministic ordering
	shuffle func(n int, swap func(i, j int))
}

// New creates a Selector backed by the given store
func New(store storage.Store) *Selector {
	return &Selector{
		store:   store,
		logger:  log.WithComponent("selector"),
		shuffle: rand.Shuffle,
	}
}

// BatchSize returns how many follows the account may attempt this interval:
// the per-interval cap, clipped by what remains of the daily budget and by
// the headroom under the following ceiling
func BatchSize(account *types.Account, settings *types.Settings) int {
	remaining := settings.MaxFollowsPerDay - account.DailyFollows
	if settings.MaxFollowing > 0 {
		if headroom := settings.MaxFollowing - account.FollowingCount; headroom < remaining {
			remaining = headroom
		}
	}
	if remaining <= 0 {
		return 0
	}
	if settings.MaxFollowsPerInterval < remaining {
		return settings.MaxFollowsPerInterval
	}
	return remaining
}

// Split divides a batch between the internal and external pools according to
// the configured ratio. When the batch admits both pools, each side gets at
// least one slot.
func Split(batch int, settings *types.Settings) (internal, external int) {
	if batch <= 0 {
		return 0, 0
	}

	ri, re := settings.InternalRatio, settings.ExternalRatio
	if ri+re == 0 {
		ri, re = defaultInternalRatio, defaultExternalRatio
	}

	internal = int(math.Round(float64(batch) * ri / (ri + re)))
	if batch >= 2 {
		if internal < 1 {
			internal = 1
		}
		if internal > batch-1 {
			internal = batch - 1
		}
	} else if internal > batch {
		internal = batch
	}
	return internal, batch - internal
}

// Select reserves up to BatchSize targets for the account and returns them.
// Every returned target already has a pending progress row scheduled for
// scheduledFor, so two selections can never hand out the same pair twice.
func (s *Selector) Select(account *types.Account, settings *types.Settings, group int, scheduledFor time.Time) ([]*types.FollowTarget, error) {
	batch := BatchSize(account, settings)
	if batch == 0 {
		return nil, nil
	}

	attempted, err := s.store.AttemptedTargets(account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempted targets: %w", err)
	}

	internal, err := s.candidates(types.PoolInternal, account, attempted)
	if err != nil {
		return nil, err
	}
	external, err := s.candidates(types.PoolExternal, account, attempted)
	if err != nil {
		return nil, err
	}

	wantInternal, wantExternal := Split(batch, settings)

	picked := pick(internal, wantInternal)
	picked = append(picked, pick(external, wantExternal)...)

	// Backfill from the other pool when one ran dry
	if len(picked) < batch {
		picked = append(picked, pick(remainder(internal, picked), batch-len(picked))...)
	}
	if len(picked) < batch {
		picked = append(picked, pick(remainder(external, picked), batch-len(picked))...)
	}

	reserved := make([]*types.FollowTarget, 0, len(picked))
	for _, target := range picked {
		meta := &types.ProgressMeta{Group: group, CreatedAt: time.Now().UTC()}
		if _, err := s.store.CreatePending(account.ID, target, scheduledFor, meta); err != nil {
			// Another selection reserved this pair first
			if errors.Is(err, storage.ErrPendingExists) {
				continue
			}
			return reserved, fmt.Errorf("failed to reserve target %s: %w", target.Handle, err)
		}
		reserved = append(reserved, target)
	}

	s.logger.Debug().
		Str("account_id", account.ID).
		Int("batch", batch).
		Int("reserved", len(reserved)).
		Msg("targets reserved")
	return reserved, nil
}

// candidates lists one pool filtered down to targets the account may still
// attempt, in random order
func (s *Selector) candidates(pool types.TargetPool, account *types.Account, attempted map[string]bool) ([]*types.FollowTarget, error) {
	all, err := s.store.ListTargets(pool)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s targets: %w", pool, err)
	}

	eligible := make([]*types.FollowTarget, 0, len(all))
	for _, t := range all {
		if t.Handle == account.Handle {
			continue
		}
		if t.AccountID != "" && t.AccountID == account.ID {
			continue
		}
		if attempted[t.ID] {
			continue
		}
		eligible = append(eligible, t)
	}

	s.shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	return eligible, nil
}

func pick(pool []*types.FollowTarget, n int) []*types.FollowTarget {
	if n <= 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

// remainder filters already-picked targets out of a pool
func remainder(pool, picked []*types.FollowTarget) []*types.FollowTarget {
	taken := make(map[string]bool, len(picked))
	for _, t := range picked {
		taken[t.ID] = true
	}
	out := make([]*types.FollowTarget, 0, len(pool))
	for _, t := range pool {
		if !taken[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
