package syncmodel

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a random 256-bit hex string, used for ChangeSet,
// SnapshotEntry and pending-snapshot ids.
func NewID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("syncmodel: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
