package triage

import (
	"crypto/sha256"
	"encoding/hex"
)

// idLen is the number of hex characters kept from the locator digest.
const idLen = 16

// ItemID derives the stable item identifier for a source locator.
// The same locator always yields the same id.
func ItemID(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])[:idLen]
}
