// Package internal contains helper utilities that are intentionally private
// to authcore, including secure random generation, opaque token codecs, and
// binding hash helpers.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - stores — Redis-backed credential reset event store
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
