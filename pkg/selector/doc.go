/*
Package selector chooses which targets an account follows next.

Selection happens in three steps:

 1. BatchSize clips the per-interval cap by what remains of the account's
    daily budget. An exhausted budget yields an empty batch.
 2. Split divides the batch between the internal pool (handles that belong
    to the fleet) and the external pool according to the configured ratio.
    When both ratios are zero the 0.2/0.8 default applies, and any batch of
    two or more always touches both pools.
 3. Select filters each pool down to targets the account has never
    attempted, excluding the account's own handle, shuffles, and takes the
    split counts. When one pool runs dry the shortfall is backfilled from
    the other.

Every selected target is immediately reserved with a pending progress row
inside the store, so a pair handed out once is never handed out again even
if a concurrent selection races on the same account. Reservation conflicts
are silently skipped rather than surfaced as errors.
*/
package selector
