// Package xid generates prefixed, time-ordered identifiers. The same scheme
// serves row ids and the offline ids terminals mint while disconnected: wall
// clock for ordering, random suffix for collision resistance, no
// coordination needed.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an id of the form "<prefix>-<unixnano>-<random hex>".
func New(prefix string) string {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		// The timestamp alone still orders and near-uniquely names the
		// row; never fail a sale over entropy.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
