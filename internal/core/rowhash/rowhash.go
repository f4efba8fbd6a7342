// Package rowhash computes the content digest of a delimited record
package rowhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Sum returns the hex SHA-256 of every field except the one at skip.
// Each field is prefixed with its length so that ["ab","c"] and ["a","bc"] differ.
// A negative skip hashes all fields
func Sum(rec []string, skip int) string {
	h := sha256.New()
	var n [8]byte
	for i, f := range rec {
		if i == skip {
			continue
		}
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
