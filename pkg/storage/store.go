package storage

import (
	"errors"
	"time"

	"github.com/perchlabs/roost/pkg/types"
)

var (
	// ErrPendingExists is returned by CreatePending when a non-terminal row
	// already exists for the (account, target) pair
	ErrPendingExists = errors.New("non-terminal progress row already exists")

	// ErrDuplicateHandle is returned by CreateTarget when the handle is
	// already present in either pool
	ErrDuplicateHandle = errors.New("target handle already exists")
)

// Store defines the interface for fleet state storage
// This will be implemented by BoltDB-backed storage
type Store interface {
	// Accounts
	CreateAccount(account *types.Account) error
	GetAccount(id string) (*types.Account, error)
	GetAccountByHandle(handle string) (*types.Account, error)
	ListAccounts() ([]*types.Account, error)
	ListAccountsByGroup(group int) ([]*types.Account, error)
	UpdateAccount(account *types.Account) error
	DeleteAccount(id string) error

	// Targets
	CreateTarget(target *types.FollowTarget) error
	GetTarget(id string) (*types.FollowTarget, error)
	ListTargets(pool types.TargetPool) ([]*types.FollowTarget, error)
	DeleteTarget(id string) error

	// Progress
	CreatePending(accountID string, target *types.FollowTarget, scheduledFor time.Time, meta *types.ProgressMeta) (*types.FollowProgress, error)
	MarkInProgress(accountID, targetID string) (*types.FollowProgress, error)
	RecordOutcome(accountID, targetID string, outcome types.FollowOutcome, duration time.Duration) error
	ListProgress() ([]*types.FollowProgress, error)
	ListProgressByAccount(accountID string) ([]*types.FollowProgress, error)
	AttemptedTargets(accountID string) (map[string]bool, error)
	LatestCompletion(accountID string) (*types.FollowProgress, error)
	EarliestPending(accountID string) (*types.FollowProgress, error)

	// Fleet transactions
	ActivateFleet(group int, now time.Time) (int, error)
	DeactivateFleet() (int, error)
	AssignGroup(group int, now time.Time) (int, error)
	DailyReset(now time.Time) (int, error)
	ClearExpiredRateLimits(now time.Time) (int, error)

	// Settings
	GetSettings() (*types.Settings, error)
	PutSettings(settings *types.Settings) error

	// Utility
	Close() error
}
