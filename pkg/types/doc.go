/*
Package types defines the shared domain entities for Roost: worker accounts,
follow targets, follow-progress records, scheduler settings, and the typed
outcome returned by a follow action.

All persistent entities are plain structs serialized to JSON by the storage
layer. State enums are string constants so stored rows stay readable with
ordinary database tooling.

Entity relationships:

	Account ──< FollowProgress >── FollowTarget
	                 │
	                 └── ProgressMeta (JSON blob)

	Settings (singleton row)

Progress rows move through a strict state machine:

	pending → in_progress → completed
	   │            └─────→ failed
	   └──────────────────→ failed   (abandoned before start)

completed and failed are terminal. The storage package enforces the
transitions; types only names the states.
*/
package types
