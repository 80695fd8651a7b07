// Package idgen generates random identifiers used for peer ids and
// UDP tracker transaction/connection ids.
package idgen

import (
	"crypto/rand"
)

const symbols = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// PeerID returns a random 20-byte BitTorrent peer id.
func PeerID() [20]byte {
	var id [20]byte
	copy(id[:], randomSymbols(20))
	return id
}

// RandomID returns a random alphanumeric id of the given size, used for
// UDP tracker transaction ids and keys.
func RandomID(size int) []byte {
	return randomSymbols(size)
}

func randomSymbols(size int) []byte {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail; fall
		// back to the zero id rather than panicking on a caller path.
		return make([]byte, size)
	}
	out := make([]byte, size)
	for i, b := range buf {
		out[i] = symbols[int(b)%len(symbols)]
	}
	return out
}
