// Package session owns the concurrency and lifecycle of per-peer ratchet
// state. Each Session serializes its mutations with a single-owner lock;
// sessions for different peers never contend. A desynchronized session
// latches terminally and must be replaced by a fresh key agreement.
package session
