/*
Package sign builds OAuth 1.0a authorization headers and cookie-based header
sets for upstream API requests.

The upstream exposes three endpoint families with different signing
conventions, selected by the Family field on a Request:

  - FamilyV2: only the OAuth protocol parameters enter the signature base
    string. Request bodies and query strings are excluded. Used by the
    /2/ JSON endpoints.
  - FamilyV11: query parameters and JSON body fields are folded into the
    base string alongside the OAuth parameters. Nested body objects are
    flattened one level deep into dotted keys ("location.city"), and
    non-string scalars are stringified. Used by the /1.1/ form endpoints.
  - FamilyMedia: signs like FamilyV2; the multipart payload never enters
    the signature. Used by chunked media upload.

# Signature Construction

The base string is METHOD&enc(url)&enc(params) where params is the
lexicographically sorted k=v list joined with "&", every key and value
percent-encoded with the RFC 3986 unreserved set. The signing key is
enc(consumer_secret)&enc(access_secret) and the signature is the base64
HMAC-SHA1 digest. The final header sorts all parameters by key:

	OAuth oauth_consumer_key="...", oauth_nonce="...", oauth_signature="...",
	      oauth_signature_method="HMAC-SHA1", oauth_timestamp="...",
	      oauth_token="...", oauth_version="1.0"

Nonce and Timestamp on a Request default to fresh values when zero, so
callers normally leave them unset. Tests pin both to verify signatures
against known vectors.

# Cookie Authentication

Site-origin endpoints (the GraphQL lookups) authenticate with the session
cookie pair rather than a per-request signature. CookieHeaders returns the
bearer authorization, x-csrf-token, and cookie headers those endpoints
expect.
*/
package sign
