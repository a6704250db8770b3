/*
Package storage provides BoltDB-backed persistence for Roost's fleet state.

The package implements the Store interface using BoltDB, holding accounts,
follow targets, follow-progress rows, and the singleton settings row. All
rows are serialized as JSON into separate buckets:

	┌──────────────── BOLTDB STORAGE ────────────────┐
	│  File: <dataDir>/roost.db                      │
	│                                                │
	│  accounts   (Account ID)                       │
	│  targets    (Target ID)                        │
	│  progress   (Progress row ID)                  │
	│  settings   (fixed key "settings")             │
	└────────────────────────────────────────────────┘

# Transaction model

BoltDB serializes write transactions through a single writer, which is the
property the follow state machine leans on: every compound operation below
runs inside one db.Update, so concurrent mutations of the same account's
pacing state commit strictly one after another.

  - CreatePending: inserts a pending row only when no non-terminal row exists
    for the (account, target) pair. This is the claim that stops two selector
    runs from picking the same target for the same account.
  - MarkInProgress: pending → in_progress, stamps started_at.
  - RecordOutcome: finalizes the open row and updates the account's counters
    (daily/total/following, last_followed_at, failure streak, rate-limit
    window) atomically with the row transition.
  - ActivateFleet / DeactivateFleet / AssignGroup / DailyReset /
    ClearExpiredRateLimits: whole-fleet updates as a single transactional
    event, so a reader sees either the pre- or post-state, never a mix.

# State machine

Progress rows only move forward:

	pending → in_progress → completed | failed
	pending → failed   (abandoned)

Terminal rows are never rewritten. RecordOutcome refuses to touch a pair with
no open row, and CreatePending refuses while one exists, which together give
the at-most-one-in-flight-per-pair invariant.

# Usage

	store, err := storage.NewBoltStore("/var/lib/roost")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	row, err := store.CreatePending(account.ID, target, time.Now(), meta)
	...
	_, err = store.MarkInProgress(account.ID, target.ID)
	err = store.RecordOutcome(account.ID, target.ID, outcome, elapsed)

A fresh store seeds the settings bucket with types.DefaultSettings; the
scheduler refuses to start until the operator flips Active via the admin API.

# See Also

  - pkg/types for all entity definitions
  - pkg/selector for the queries layered on AttemptedTargets
  - pkg/scheduler for the loop driving the compound operations
*/
package storage
