// Package session provides Redis-backed session persistence, compact binary
// session encoding, and the atomic refresh-rotation protocol.
//
// # Binary encoding
//
// Sessions are stored in Redis as a fixed-header binary blob so the rotation
// Lua script can validate and rewrite individual fields by byte offset. The
// header carries status, the current and previous refresh-secret hashes, the
// user-agent binding hash, and the idle, absolute, and creation timestamps.
//
// # Rotation protocol
//
// [Store.Rotate] resolves a presented secret through the per-tenant hash
// index and, in a single Lua step, detects reuse of superseded secrets,
// enforces both expiry deadlines and the user-agent binding, then shifts
// the current hash into the previous slot and installs the next one.
// Terminal sessions are never deleted; their status byte is flipped and
// the record ages out on its retention TTL.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT mint JWTs, verify passwords, or decide lock policy — those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore or jwt (no upward imports).
//   - Store plaintext secrets in [Session] fields.
//   - Physically delete records outside the creation rollback path.
package session
