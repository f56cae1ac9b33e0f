package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random hex identifier, namespaced by prefix when one is
// given ("svc", "jti", ...).
func NewID(prefix string) string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic("util: crypto/rand unavailable: " + err.Error())
	}
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
