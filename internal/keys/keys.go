package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

// maxIDLen bounds the identifier segment of a store key. Longer ids are
// replaced by their sha256 fingerprint so store keys stay short and safe
// regardless of caller input.
const maxIDLen = 256

// Entry returns the deterministic store key for one logical input:
// <namespace>:<entity>:<id>.
func Entry(namespace, entity, id string) string {
	if len(id) > maxIDLen {
		id = Fingerprint(id)
	}
	return namespace + ":" + entity + ":" + id
}

// Fingerprint returns a hex sha256 digest of s.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
