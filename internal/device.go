package internal

import "crypto/sha256"

// HashBindingValue maps a client binding value (user agent) to the
// fixed-width digest stored in the session header.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
