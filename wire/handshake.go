package wire

import (
	"bytes"
	"fmt"
	"io"
)

// pstr identifies the BitTorrent wire protocol.
const pstr = "BitTorrent protocol"

// HandshakeLen is the length in bytes of a serialized Handshake.
const HandshakeLen = 49 + len(pstr)

// extensionReservedByte is the reserved-bytes index (from the start) whose
// 0x10 bit (extensionReservedBit) signals support for the BEP 10
// extension protocol.
const extensionReservedByte = 5
const extensionReservedBit = 0x10

// Handshake is the 68-byte BitTorrent wire handshake, extended with the
// BEP 10 reserved-bit so peers can be offered the extension protocol.
type Handshake struct {
	Pstr      string
	Reserved  [8]byte
	InfoHash  [20]byte
	PeerID    [20]byte
}

// NewHandshake builds a Handshake that advertises extension-protocol
// support.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	h := &Handshake{
		Pstr:     pstr,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	h.Reserved[extensionReservedByte] |= extensionReservedBit
	return h
}

// SupportsExtensions reports whether the peer's reserved bytes advertise
// BEP 10 extension-protocol support.
func (h *Handshake) SupportsExtensions() bool {
	return h.Reserved[extensionReservedByte]&extensionReservedBit != 0
}

// Serialize puts together the handshake wire string.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(h.Pstr))
	curr := 1
	curr += copy(buf[curr:], h.Pstr)
	curr += copy(buf[curr:], h.Reserved[:])
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// ReadHandshake parses a raw handshake string off r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	pstrLenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, pstrLenBuf); err != nil {
		return nil, err
	}
	pstrLen := int(pstrLenBuf[0])
	if pstrLen != len(pstr) {
		return nil, fmt.Errorf("wire: pstr length should be %d but is %d", len(pstr), pstrLen)
	}

	rest := make([]byte, pstrLen+8+20+20)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	h := &Handshake{Pstr: string(rest[0:pstrLen])}
	copy(h.Reserved[:], rest[pstrLen:pstrLen+8])
	copy(h.InfoHash[:], rest[pstrLen+8:pstrLen+8+20])
	copy(h.PeerID[:], rest[pstrLen+8+20:])
	return h, nil
}

// VerifyInfoHash checks a peer's handshake response against the info-hash
// we dialed with.
func VerifyInfoHash(h *Handshake, infoHash [20]byte) error {
	if !bytes.Equal(h.InfoHash[:], infoHash[:]) {
		return fmt.Errorf("wire: expected infohash %x but got %x", infoHash, h.InfoHash)
	}
	return nil
}
