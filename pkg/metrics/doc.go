/*
Package metrics provides Prometheus metrics collection and exposition for Roost.

The metrics package defines and registers all Roost metrics using the
Prometheus client library, providing observability into fleet health, follow
throughput, scheduler pacing, and API performance. Metrics are exposed via an
HTTP endpoint for scraping.

# Metric Categories

Fleet gauges (refreshed by the Collector from the store every 15s):
  - roost_accounts_total{status}: accounts by active/inactive/deleted
  - roost_targets_total{pool}: follow targets by pool
  - roost_active_group: group selected by the time-of-day rotation

Follow counters and histograms (incremented inline by the scheduler):
  - roost_follows_total{outcome}: attempts by typed outcome
  - roost_follow_duration_seconds: wall time per follow action
  - roost_accounts_skipped_total{reason}: eligibility gate skips

Scheduler:
  - roost_scheduler_tick_duration_seconds: one full pass over the group
  - roost_group_rotations_total, roost_daily_resets_total

API:
  - roost_api_requests_total{method,status}
  - roost_api_request_duration_seconds{method}

All metrics register against the default registry at package init, so
importing the package is enough to expose them through Handler().
*/
package metrics
