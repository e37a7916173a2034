// Package password implements credential hashing and verification with
// Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// If the stored hash was produced with weaker parameters,
// [Argon2.NeedsUpgrade] returns true so the caller can re-hash on the
// next successful verification.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy is
// enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
