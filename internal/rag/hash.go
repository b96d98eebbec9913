package rag

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the upsert key for a chunk of url: the hex SHA-256 of
// url + "|" + content. Identical text on two pages yields two keys.
func ContentHash(url, content string) string {
	sum := sha256.Sum256([]byte(url + "|" + content))
	return hex.EncodeToString(sum[:])
}
