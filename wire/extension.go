package wire

import (
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"
)

// Extension ids by name, as negotiated in an extended handshake's "m" map.
const (
	ExtUTMetadata  = "ut_metadata"
	ExtUTPex       = "ut_pex"
	ExtUTHolepunch = "ut_holepunch"
)

// ExtendedHandshake is the bencoded dictionary exchanged once per
// connection after the BEP 10 extended-message id 0 is sent. Only the
// fields this subsystem cares about are modeled.
type ExtendedHandshake struct {
	M            map[string]int `bencode:"m"`
	MetadataSize int            `bencode:"metadata_size,omitempty"`
	Private      int            `bencode:"private,omitempty"`
	YourIP       string         `bencode:"yourip,omitempty"`
	V            string         `bencode:"v,omitempty"`
}

// IsPrivate reports the BEP 27 private flag.
func (h ExtendedHandshake) IsPrivate() bool { return h.Private == 1 }

// ExtensionID looks up the id a peer assigned to the named extension in
// the "m" map of its extended handshake.
func ExtensionID(m map[string]int, name string) (int, bool) {
	id, ok := m[name]
	return id, ok
}

// EncodeExtendedHandshake bencodes an ExtendedHandshake.
func EncodeExtendedHandshake(h ExtendedHandshake) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, h); err != nil {
		return nil, fmt.Errorf("wire: encoding extended handshake: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeExtendedHandshake unbencodes an extended handshake payload.
func DecodeExtendedHandshake(payload []byte) (ExtendedHandshake, error) {
	var h ExtendedHandshake
	if err := bencode.Unmarshal(bytes.NewReader(payload), &h); err != nil {
		return ExtendedHandshake{}, fmt.Errorf("wire: decoding extended handshake: %w", err)
	}
	return h, nil
}

// MetadataMsgType is the msg_type field of a ut_metadata message (BEP 9).
type MetadataMsgType int

const (
	MetadataRequest MetadataMsgType = 0
	MetadataPiece   MetadataMsgType = 1
	MetadataReject  MetadataMsgType = 2
)

type metadataPrefix struct {
	MsgType   int `bencode:"msg_type"`
	Piece     int `bencode:"piece"`
	TotalSize int `bencode:"total_size,omitempty"`
}

// EncodeMetadataRequest builds the ut_metadata body for a block request.
func EncodeMetadataRequest(piece int) ([]byte, error) {
	return encodeMetadataPrefix(metadataPrefix{MsgType: int(MetadataRequest), Piece: piece})
}

// EncodeMetadataReject builds the ut_metadata body for a reject response.
func EncodeMetadataReject(piece int) ([]byte, error) {
	return encodeMetadataPrefix(metadataPrefix{MsgType: int(MetadataReject), Piece: piece})
}

// EncodeMetadataPiece builds the ut_metadata body for a piece response:
// the bencoded prefix followed by the raw block bytes.
func EncodeMetadataPiece(piece, totalSize int, data []byte) ([]byte, error) {
	prefix, err := encodeMetadataPrefix(metadataPrefix{MsgType: int(MetadataPiece), Piece: piece, TotalSize: totalSize})
	if err != nil {
		return nil, err
	}
	return append(prefix, data...), nil
}

func encodeMetadataPrefix(p metadataPrefix) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, p); err != nil {
		return nil, fmt.Errorf("wire: encoding ut_metadata prefix: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMetadataMessage locates and decodes the bencoded msg_type/piece
// prefix of a ut_metadata body, returning the prefix fields and whatever
// raw bytes follow it (the piece payload, for msg_type=1). It reports
// !ok rather than an error when the prefix cannot be located at all, so
// callers can silently ignore a malformed message per BEP 9 error
// handling: a message the decoder can't even find a dictionary in is
// dropped, not treated as a protocol violation.
func DecodeMetadataMessage(body []byte) (msgType MetadataMsgType, piece int, payload []byte, ok bool) {
	// The prefix ends at the first two consecutive end markers (the last
	// integer's "e" followed by the dictionary's "e").
	end := bytes.Index(body, []byte("ee"))
	if end < 0 {
		return 0, 0, nil, false
	}
	consumed := end + 2
	var p metadataPrefix
	if err := bencode.Unmarshal(bytes.NewReader(body[:consumed]), &p); err != nil {
		return 0, 0, nil, false
	}
	return MetadataMsgType(p.MsgType), p.Piece, body[consumed:], true
}
