/*
Package upstream implements the per-account HTTP client and the follow
action against the upstream social API.

Each worker account owns exactly one Client, created from its stored
credentials and proxy assignment. Auth state, proxy routing, and connection
pools never cross account boundaries.

# Transport Shape

Transport parameters are randomized per client so the fleet does not
present a uniform traffic fingerprint:

  - connect timeout: 20-30s
  - request timeout: 45-60s
  - idle connection expiry: 25-35s
  - keepalive connections per host: 3-7
  - max connections per host: 8-12

TLS verification is disabled because upstream proxies commonly terminate
TLS with untrusted leaf certificates, and HTTP/2 negotiation is turned off
entirely by installing an empty TLSNextProto map.

# Request Lifecycle

Do sleeps a small random delay before each request, then sends it with a
fresh x-request-id and the account's user agent. Responses are classified:

  - 429: wait out the cooldown and retry, up to 3 cycles, then RateLimitError
  - 401/403: AuthError, never retried
  - transport failure: exponential backoff, up to 3 attempts
  - anything else: body read and, when it parses, exposed as JSON

# Follow Action

Follow resolves the target handle to a numeric user id through the
cookie-authenticated GraphQL lookup, then issues the signed POST to the
/2/users/{id}/following endpoint. It never returns an error: every failure
mode maps to a typed FollowOutcome kind (ok, rate_limited, not_found,
suspended, unauthorized, api_error, transport_error) so the scheduler can
branch on the kind without string matching.
*/
package upstream
