// Package authcore provides a session and credential lifecycle engine with JWT
// access tokens, rotating opaque refresh tokens, Redis-backed session records,
// and a single-use credential reset service.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (LoginResult, SessionInfo, MetricsSnapshot, etc.). All internal
// coordination, session encoding, reset event storage, and audit dispatch lives
// under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Own the user database: account records come and go only through the
//     caller-supplied [UserDirectory].
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// Refresh is the hot path. The rotation itself is a single atomic Redis script
// call; the directory status check adds one caller-side lookup. ValidateAccess is
// pure signature verification and never touches Redis.
package authcore
