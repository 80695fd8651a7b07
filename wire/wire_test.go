package wire

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], []byte("infohashinfohashinfo"))
	copy(peerID[:], []byte("peeridpeeridpeeridp1"))

	h := NewHandshake(infoHash, peerID)
	if !h.SupportsExtensions() {
		t.Fatal("NewHandshake should advertise extension support")
	}

	got, err := ReadHandshake(bytes.NewReader(h.Serialize()))
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.InfoHash != infoHash || got.PeerID != peerID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.SupportsExtensions() {
		t.Fatal("round-tripped handshake lost extension bit")
	}
	if err := VerifyInfoHash(got, infoHash); err != nil {
		t.Fatalf("VerifyInfoHash: %v", err)
	}
}

func TestVerifyInfoHashMismatch(t *testing.T) {
	var a, b [20]byte
	b[0] = 1
	h := &Handshake{InfoHash: a}
	if err := VerifyInfoHash(h, b); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{ID: Piece, Payload: []byte("hello")}
	got, err := Read(bytes.NewReader(m.Serialize()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != Piece || string(got.Payload) != "hello" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMessageKeepAlive(t *testing.T) {
	got, err := Read(bytes.NewReader((*Message)(nil).Serialize()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil keep-alive, got %+v", got)
	}
}

func TestExtendedMessageRoundTrip(t *testing.T) {
	m := NewExtendedMessage(3, []byte("payload"))
	id, payload, err := ParseExtendedMessage(m)
	if err != nil {
		t.Fatalf("ParseExtendedMessage: %v", err)
	}
	if id != 3 || string(payload) != "payload" {
		t.Fatalf("got id=%d payload=%q", id, payload)
	}
}

func TestExtendedHandshakeRoundTrip(t *testing.T) {
	h := ExtendedHandshake{
		M:            map[string]int{ExtUTMetadata: 1, ExtUTPex: 2},
		MetadataSize: 32768,
		Private:      1,
	}
	encoded, err := EncodeExtendedHandshake(h)
	if err != nil {
		t.Fatalf("EncodeExtendedHandshake: %v", err)
	}
	decoded, err := DecodeExtendedHandshake(encoded)
	if err != nil {
		t.Fatalf("DecodeExtendedHandshake: %v", err)
	}
	if decoded.MetadataSize != 32768 || !decoded.IsPrivate() {
		t.Fatalf("decoded = %+v", decoded)
	}
	if id, ok := ExtensionID(decoded.M, ExtUTMetadata); !ok || id != 1 {
		t.Fatalf("ExtensionID(ut_metadata) = %d, %v", id, ok)
	}
}

func TestMetadataMessageRoundTrip(t *testing.T) {
	data := []byte("some metadata bytes")
	encoded, err := EncodeMetadataPiece(2, 100, data)
	if err != nil {
		t.Fatalf("EncodeMetadataPiece: %v", err)
	}
	msgType, piece, payload, ok := DecodeMetadataMessage(encoded)
	if !ok {
		t.Fatal("DecodeMetadataMessage: !ok")
	}
	if msgType != MetadataPiece || piece != 2 || !bytes.Equal(payload, data) {
		t.Fatalf("got type=%v piece=%d payload=%q", msgType, piece, payload)
	}
}

func TestMetadataMessageMalformedIsDropped(t *testing.T) {
	_, _, _, ok := DecodeMetadataMessage([]byte("not bencode at all"))
	if ok {
		t.Fatal("expected !ok for malformed ut_metadata body")
	}
}

func TestMetadataRequestReject(t *testing.T) {
	req, err := EncodeMetadataRequest(5)
	if err != nil {
		t.Fatalf("EncodeMetadataRequest: %v", err)
	}
	msgType, piece, _, ok := DecodeMetadataMessage(req)
	if !ok || msgType != MetadataRequest || piece != 5 {
		t.Fatalf("request round trip: type=%v piece=%d ok=%v", msgType, piece, ok)
	}

	rej, err := EncodeMetadataReject(5)
	if err != nil {
		t.Fatalf("EncodeMetadataReject: %v", err)
	}
	msgType, piece, _, ok = DecodeMetadataMessage(rej)
	if !ok || msgType != MetadataReject || piece != 5 {
		t.Fatalf("reject round trip: type=%v piece=%d ok=%v", msgType, piece, ok)
	}
}
