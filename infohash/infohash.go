// Package infohash implements the 20-byte BitTorrent info-hash identifier
// and its two textual encodings (hex and unpadded base32).
package infohash

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the length in bytes of a v1 (SHA-1) info-hash.
const Size = 20

// InfoHash is an opaque 20-byte identifier for a torrent.
type InfoHash [Size]byte

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Parse decodes a 40-character hex string or a 32-character base32 string
// (RFC 4648 alphabet, case-insensitive, unpadded) into an InfoHash.
func Parse(s string) (InfoHash, error) {
	var ih InfoHash
	switch len(s) {
	case 40:
		n, err := hex.Decode(ih[:], []byte(s))
		if err != nil {
			return InfoHash{}, fmt.Errorf("infohash: invalid hex: %w", err)
		}
		if n != Size {
			return InfoHash{}, fmt.Errorf("infohash: decoded %d bytes, want %d", n, Size)
		}
		return ih, nil
	case 32:
		n, err := base32Encoding.Decode(ih[:], []byte(strings.ToUpper(s)))
		if err != nil {
			return InfoHash{}, fmt.Errorf("infohash: invalid base32: %w", err)
		}
		if n != Size {
			return InfoHash{}, fmt.Errorf("infohash: decoded %d bytes, want %d", n, Size)
		}
		return ih, nil
	default:
		return InfoHash{}, fmt.Errorf("infohash: unsupported length %d (want 40 hex or 32 base32 chars)", len(s))
	}
}

// String returns the lowercase hex view of the info-hash.
func (ih InfoHash) String() string {
	return hex.EncodeToString(ih[:])
}

// Bytes returns the raw 20 bytes.
func (ih InfoHash) Bytes() []byte {
	return ih[:]
}

// IsZero reports whether the info-hash is the all-zero value.
func (ih InfoHash) IsZero() bool {
	return ih == InfoHash{}
}
