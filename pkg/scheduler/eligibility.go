package scheduler

import (
	"time"

	"github.com/perchlabs/roost/pkg/storage"
	"github.com/perchlabs/roost/pkg/types"
)

// followGap is the hard floor between two completed follows for one account,
// enforced in addition to the configured interval pacing
const followGap = 15 * time.Minute

// Gate is the eligibility decision for one account at one instant
type Gate struct {
	Eligible bool
	Reason   string        // Failing predicate when not eligible
	Wait     time.Duration // Time until the predicate can pass, when known
}

// Check evaluates every eligibility predicate for the account at now.
// The first failing predicate wins; its name and remaining wait are
// returned so the caller can log the skip.
func Check(store storage.Store, account *types.Account, settings *types.Settings, now time.Time) (Gate, error) {
	switch {
	case account.Deleted():
		return Gate{Reason: "deleted"}, nil
	case !account.Active:
		return Gate{Reason: "inactive"}, nil
	case !account.HasCredentials():
		return Gate{Reason: "missing_credentials"}, nil
	}

	if account.RateLimitUntil != nil && account.RateLimitUntil.After(now) {
		return Gate{Reason: "rate_limited", Wait: account.RateLimitUntil.Sub(now)}, nil
	}

	// The minimum-following floor in settings is deliberately not checked
	if settings.MaxFollowing > 0 && account.FollowingCount >= settings.MaxFollowing {
		return Gate{Reason: "following_cap"}, nil
	}

	if account.DailyFollows >= settings.MaxFollowsPerDay {
		return Gate{Reason: "daily_cap", Wait: untilMidnight(now)}, nil
	}

	last, err := store.LatestCompletion(account.ID)
	if err != nil {
		return Gate{}, err
	}
	if last != nil && last.FollowedAt != nil {
		if gap := now.Sub(*last.FollowedAt); gap < followGap {
			return Gate{Reason: "follow_gap", Wait: followGap - gap}, nil
		}
	}

	pending, err := store.EarliestPending(account.ID)
	if err != nil {
		return Gate{}, err
	}
	if pending != nil && pending.ScheduledFor.After(now) {
		return Gate{Reason: "pending_not_due", Wait: pending.ScheduledFor.Sub(now)}, nil
	}

	return Gate{Eligible: true}, nil
}

func untilMidnight(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
