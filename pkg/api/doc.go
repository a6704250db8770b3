/*
Package api exposes the JSON administration surface over HTTP.

The admin server never touches pacing state directly: it reads and writes
through the store and drives the scheduler only through its lifecycle calls,
so the scheduler loop remains the sole mutator of follow progress.

# Endpoints

	GET  /health                    liveness probe
	GET  /metrics                   Prometheus exposition

	GET  /v1/settings               read the settings row
	PUT  /v1/settings               write settings, then reconfigure

	GET  /v1/targets?pool=          list one pool (default external)
	POST /v1/targets                append handles to a pool
	DELETE /v1/targets/{id}         remove a target

	GET  /v1/accounts               list the fleet with pacing state
	POST /v1/accounts               register a worker account
	DELETE /v1/accounts/{id}        soft-delete an account

	POST /v1/control/start          start the scheduler
	POST /v1/control/stop           stop the scheduler
	POST /v1/control/reconfigure    re-read settings, restart if allowed

	GET  /v1/stats                  aggregate fleet counters
	GET  /v1/events                 recent events (bounded ring of 100)

Settings writes always trigger a scheduler reconfigure; statistics and
listings are read-only. Account credentials are accepted on registration
but never serialized back out.
*/
package api
