package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/roost/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAccounts = []byte("accounts")
	bucketTargets  = []byte("targets")
	bucketProgress = []byte("progress")
	bucketSettings = []byte("settings")

	settingsKey = []byte("settings")
)

// Rate-limit cooldown applied when the upstream signals a limit
const rateLimitCooldown = 15 * time.Minute

// Deactivate an account after this many consecutive failed attempts
const maxFailedAttempts = 5

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "roost.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets and seed the settings row
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAccounts,
			bucketTargets,
			bucketProgress,
			bucketSettings,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		b := tx.Bucket(bucketSettings)
		if b.Get(settingsKey) == nil {
			data, err := json.Marshal(types.DefaultSettings())
			if err != nil {
				return err
			}
			return b.Put(settingsKey, data)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Account operations
func (s *BoltStore) CreateAccount(account *types.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		return b.Put([]byte(account.ID), data)
	})
}

func (s *BoltStore) GetAccount(id string) (*types.Account, error) {
	var account types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("account not found: %s", id)
		}
		return json.Unmarshal(data, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *BoltStore) GetAccountByHandle(handle string) (*types.Account, error) {
	var found *types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(k, v []byte) error {
			var account types.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return err
			}
			if account.Handle == handle {
				found = &account
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("account not found: %s", handle)
	}
	return found, nil
}

func (s *BoltStore) ListAccounts() ([]*types.Account, error) {
	var accounts []*types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(k, v []byte) error {
			var account types.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return err
			}
			accounts = append(accounts, &account)
			return nil
		})
	})
	return accounts, err
}

// ListAccountsByGroup returns active, non-deleted accounts whose recorded
// group assignment matches group
func (s *BoltStore) ListAccountsByGroup(group int) ([]*types.Account, error) {
	accounts, err := s.ListAccounts()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Account
	for _, account := range accounts {
		if account.Deleted() || !account.Active {
			continue
		}
		if account.Group != nil && account.Group.Group == group {
			filtered = append(filtered, account)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateAccount(account *types.Account) error {
	return s.CreateAccount(account) // Same as create (upsert)
}

func (s *BoltStore) DeleteAccount(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.Delete([]byte(id))
	})
}

// Target operations
func (s *BoltStore) CreateTarget(target *types.FollowTarget) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)

		// A handle appears at most once across both pools
		var dup bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.FollowTarget
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Handle == target.Handle {
				dup = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: %s", ErrDuplicateHandle, target.Handle)
		}

		// Internal targets must point at a known account handle
		if target.Pool == types.PoolInternal {
			accounts := tx.Bucket(bucketAccounts)
			var owner string
			err := accounts.ForEach(func(k, v []byte) error {
				var account types.Account
				if err := json.Unmarshal(v, &account); err != nil {
					return err
				}
				if account.Handle == target.Handle {
					owner = account.ID
				}
				return nil
			})
			if err != nil {
				return err
			}
			if owner == "" {
				return fmt.Errorf("internal target %s does not match any account handle", target.Handle)
			}
			target.AccountID = owner
		}

		data, err := json.Marshal(target)
		if err != nil {
			return err
		}
		return b.Put([]byte(target.ID), data)
	})
}

func (s *BoltStore) GetTarget(id string) (*types.FollowTarget, error) {
	var target types.FollowTarget
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("target not found: %s", id)
		}
		return json.Unmarshal(data, &target)
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (s *BoltStore) ListTargets(pool types.TargetPool) ([]*types.FollowTarget, error) {
	var targets []*types.FollowTarget
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		return b.ForEach(func(k, v []byte) error {
			var target types.FollowTarget
			if err := json.Unmarshal(v, &target); err != nil {
				return err
			}
			if target.Pool == pool {
				targets = append(targets, &target)
			}
			return nil
		})
	})
	return targets, err
}

func (s *BoltStore) DeleteTarget(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		return b.Delete([]byte(id))
	})
}

// Progress operations

// CreatePending inserts a pending progress row for (account, target). The
// insert is rejected while another non-terminal row exists for the pair, so
// a concurrent selector cannot claim the same target twice.
func (s *BoltStore) CreatePending(accountID string, target *types.FollowTarget, scheduledFor time.Time, meta *types.ProgressMeta) (*types.FollowProgress, error) {
	row := &types.FollowProgress{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		TargetID:     target.ID,
		TargetHandle: target.Handle,
		Status:       types.ProgressPending,
		ScheduledFor: scheduledFor,
		Meta:         meta,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)

		var blocked bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.FollowProgress
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.AccountID == accountID && existing.TargetID == target.ID && !existing.Status.Terminal() {
				blocked = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("%w: account %s target %s", ErrPendingExists, accountID, target.Handle)
		}

		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(row.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// MarkInProgress transitions the unique pending row for (account, target) to
// in_progress and records started_at
func (s *BoltStore) MarkInProgress(accountID, targetID string) (*types.FollowProgress, error) {
	var updated *types.FollowProgress
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)

		row, err := findPair(b, accountID, targetID, types.ProgressPending)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("no pending row for account %s target %s", accountID, targetID)
		}

		now := time.Now().UTC()
		row.Status = types.ProgressInProgress
		row.StartedAt = &now
		updated = row

		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(row.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordOutcome finalizes the in-flight row for (account, target) and updates
// the account's pacing counters in the same transaction
func (s *BoltStore) RecordOutcome(accountID, targetID string, outcome types.FollowOutcome, duration time.Duration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		progress := tx.Bucket(bucketProgress)
		accounts := tx.Bucket(bucketAccounts)

		row, err := findPair(progress, accountID, targetID, types.ProgressInProgress)
		if err != nil {
			return err
		}
		if row == nil {
			// An abandoned pending row may be failed directly
			row, err = findPair(progress, accountID, targetID, types.ProgressPending)
			if err != nil {
				return err
			}
		}
		if row == nil {
			return fmt.Errorf("no open row for account %s target %s", accountID, targetID)
		}

		data := accounts.Get([]byte(accountID))
		if data == nil {
			return fmt.Errorf("account not found: %s", accountID)
		}
		var account types.Account
		if err := json.Unmarshal(data, &account); err != nil {
			return err
		}

		now := time.Now().UTC()
		row.FinishedAt = &now
		if row.Meta != nil {
			row.Meta.Duration = duration.Milliseconds()
		}

		switch outcome.Kind {
		case types.OutcomeOK:
			row.Status = types.ProgressCompleted
			row.FollowedAt = &now
			account.DailyFollows++
			account.TotalFollows++
			account.FollowingCount++
			account.LastFollowedAt = &now
			account.FailedFollowAttempts = 0

		case types.OutcomeRateLimited:
			row.Status = types.ProgressFailed
			row.Error = outcome.String()
			until := now.Add(rateLimitCooldown)
			account.RateLimitUntil = &until
			account.Active = false

		default:
			row.Status = types.ProgressFailed
			row.Error = outcome.String()
			account.FailedFollowAttempts++
			if account.FailedFollowAttempts >= maxFailedAttempts {
				account.Active = false
			}
		}

		rowData, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := progress.Put([]byte(row.ID), rowData); err != nil {
			return err
		}

		accountData, err := json.Marshal(&account)
		if err != nil {
			return err
		}
		return accounts.Put([]byte(accountID), accountData)
	})
}

func (s *BoltStore) ListProgress() ([]*types.FollowProgress, error) {
	var rows []*types.FollowProgress
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		return b.ForEach(func(k, v []byte) error {
			var row types.FollowProgress
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, &row)
			return nil
		})
	})
	return rows, err
}

func (s *BoltStore) ListProgressByAccount(accountID string) ([]*types.FollowProgress, error) {
	rows, err := s.ListProgress()
	if err != nil {
		return nil, err
	}

	var filtered []*types.FollowProgress
	for _, row := range rows {
		if row.AccountID == accountID {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

// AttemptedTargets returns the set of target IDs the account has any progress
// row against, terminal or not. The selector excludes these.
func (s *BoltStore) AttemptedTargets(accountID string) (map[string]bool, error) {
	attempted := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		return b.ForEach(func(k, v []byte) error {
			var row types.FollowProgress
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.AccountID == accountID {
				attempted[row.TargetID] = true
			}
			return nil
		})
	})
	return attempted, err
}

// LatestCompletion returns the completed row with the newest followed_at for
// the account, or nil when it has no completions
func (s *BoltStore) LatestCompletion(accountID string) (*types.FollowProgress, error) {
	rows, err := s.ListProgressByAccount(accountID)
	if err != nil {
		return nil, err
	}

	var latest *types.FollowProgress
	for _, row := range rows {
		if row.Status != types.ProgressCompleted || row.FollowedAt == nil {
			continue
		}
		if latest == nil || row.FollowedAt.After(*latest.FollowedAt) {
			latest = row
		}
	}
	return latest, nil
}

// EarliestPending returns the pending row with the oldest scheduled_for for
// the account, or nil when none is pending
func (s *BoltStore) EarliestPending(accountID string) (*types.FollowProgress, error) {
	rows, err := s.ListProgressByAccount(accountID)
	if err != nil {
		return nil, err
	}

	var earliest *types.FollowProgress
	for _, row := range rows {
		if row.Status != types.ProgressPending {
			continue
		}
		if earliest == nil || row.ScheduledFor.Before(earliest.ScheduledFor) {
			earliest = row
		}
	}
	return earliest, nil
}

// Fleet transactions

// ActivateFleet activates every non-deleted account with complete credentials,
// resets its daily counter, and assigns it to group. Runs in one transaction.
func (s *BoltStore) ActivateFleet(group int, now time.Time) (int, error) {
	count := 0
	err := s.forEachAccountUpdate(func(account *types.Account) bool {
		if account.Deleted() || !account.HasCredentials() {
			return false
		}
		account.Active = true
		account.ActivatedAt = &now
		account.DailyFollows = 0
		account.Group = &types.GroupAssignment{Group: group, UpdatedAt: now}
		count++
		return true
	})
	return count, err
}

// DeactivateFleet sets is_active = false on every active account in one transaction
func (s *BoltStore) DeactivateFleet() (int, error) {
	count := 0
	err := s.forEachAccountUpdate(func(account *types.Account) bool {
		if !account.Active {
			return false
		}
		account.Active = false
		count++
		return true
	})
	return count, err
}

// AssignGroup rewrites the group assignment of every active account
func (s *BoltStore) AssignGroup(group int, now time.Time) (int, error) {
	count := 0
	err := s.forEachAccountUpdate(func(account *types.Account) bool {
		if account.Deleted() || !account.Active {
			return false
		}
		account.Group = &types.GroupAssignment{Group: group, UpdatedAt: now}
		count++
		return true
	})
	return count, err
}

// DailyReset zeroes the daily counter of every active account in one
// transaction, so an attempt straddling the reset sees either pre- or
// post-reset counters, never a mix
func (s *BoltStore) DailyReset(now time.Time) (int, error) {
	count := 0
	err := s.forEachAccountUpdate(func(account *types.Account) bool {
		if !account.Active {
			return false
		}
		account.DailyFollows = 0
		count++
		return true
	})
	return count, err
}

// ClearExpiredRateLimits reactivates accounts whose cooldown has elapsed
func (s *BoltStore) ClearExpiredRateLimits(now time.Time) (int, error) {
	count := 0
	err := s.forEachAccountUpdate(func(account *types.Account) bool {
		if account.Deleted() || account.RateLimitUntil == nil {
			return false
		}
		if account.RateLimitUntil.After(now) {
			return false
		}
		account.RateLimitUntil = nil
		account.Active = true
		count++
		return true
	})
	return count, err
}

// forEachAccountUpdate applies fn to every account inside a single write
// transaction, persisting the accounts for which fn returns true
func (s *BoltStore) forEachAccountUpdate(fn func(*types.Account) bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)

		type change struct {
			key  []byte
			data []byte
		}
		var changes []change

		err := b.ForEach(func(k, v []byte) error {
			var account types.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return err
			}
			if !fn(&account) {
				return nil
			}
			data, err := json.Marshal(&account)
			if err != nil {
				return err
			}
			key := make([]byte, len(k))
			copy(key, k)
			changes = append(changes, change{key: key, data: data})
			return nil
		})
		if err != nil {
			return err
		}

		for _, c := range changes {
			if err := b.Put(c.key, c.data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Settings operations
func (s *BoltStore) GetSettings() (*types.Settings, error) {
	var settings types.Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data := b.Get(settingsKey)
		if data == nil {
			return fmt.Errorf("settings not found")
		}
		return json.Unmarshal(data, &settings)
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *BoltStore) PutSettings(settings *types.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return b.Put(settingsKey, data)
	})
}

// findPair scans for the row matching (account, target) in the given status
func findPair(b *bolt.Bucket, accountID, targetID string, status types.ProgressStatus) (*types.FollowProgress, error) {
	var found *types.FollowProgress
	err := b.ForEach(func(k, v []byte) error {
		var row types.FollowProgress
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		if row.AccountID == accountID && row.TargetID == targetID && row.Status == status {
			found = &row
		}
		return nil
	})
	return found, err
}
