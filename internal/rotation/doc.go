// Package rotation schedules and executes the medium-key lifecycle: rotate
// the signed medium key, replenish one-time keys below the low-water mark,
// sweep grace keys past their deadline, and emergency-revoke. A rotation is
// committed only once the new bundle is durably published; retries are
// idempotent by rotation id and never leave the old key discarded early.
package rotation
