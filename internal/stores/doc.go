// Package stores provides the Redis-backed record store for credential
// reset events.
//
// # Design
//
// Each reset event is persisted as a versioned, binary-encoded record with
// a fixed-offset header, so the create and consume Lua scripts can mutate
// flags and timestamps in place. Events are single-use: consumption writes
// UsedAt exactly once, and a concurrent loser observes an already-used
// rejection instead of a second success. Superseded and consumed events
// are retained with their terminal state until the retention TTL elapses.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for reset events.
// It does NOT mint or verify tokens, hash credentials, or make reset
// policy decisions — those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package.
//   - Log or expose plaintext secrets.
//   - Store temporary passwords or token nonces in plaintext.
package stores
