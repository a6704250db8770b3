/*
Package scheduler contains the control loop that drives the fleet.

The scheduler owns all pacing state: it is the only writer of account
counters and follow progress rows. The admin surface talks to it through
three lifecycle calls (Start, Stop, Reconfigure) and otherwise only reads.

# Loop Shape

One goroutine runs the loop; each tick it performs housekeeping and then
fans out one goroutine per account in the active group:

	tick (every 60s)
	 ├─ read settings snapshot; idle while scheduling is disabled
	 ├─ rotate the active group on hour-window transitions
	 ├─ reset daily counters on the first tick after UTC midnight
	 ├─ clear expired rate-limit cooldowns
	 └─ for each account in the active group, concurrently:
	     ├─ eligibility gate (Check)
	     ├─ take due pending rows, or select a fresh batch
	     ├─ for each target: mark in progress, follow, record outcome
	     │   (paced; the batch stops on the first failure)
	     └─ plan future batches across the next 24h

Per-account work is strictly serialized within the goroutine, so one
account never has two follows in flight. Across accounts nothing is
ordered; each account's proxy-bound client is its own back-pressure.

# Group Rotation

The day is divided into schedule_groups equal windows and the active group
for an hour is chosen by rounding (ActiveGroup). On a transition the whole
active fleet is reassigned to the new group, so the loop's group filter and
the recorded assignments stay consistent.

# Eligibility

Check evaluates the per-account predicates in order: lifecycle flags,
credentials, rate-limit cooldown, follow-count cap, daily cap, the 15
minute gap since the last completed follow, and whether the earliest
pending row is due. The first failing predicate names the skip reason for
logs and metrics.

# Lifecycle

Start stops any running loop first, refuses to run while settings disable
scheduling, and activates every credentialed account into the current group
in one transaction. Stop cancels the loop, waits for in-flight work to
record its outcomes, then deactivates the fleet. Reconfigure re-reads
settings and conditionally restarts.
*/
package scheduler
