package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies a peer wire message. The base BEP 3 ids are named
// alongside Extended; Read does not check the id, and callers skip any
// message whose id they do not handle.
type MessageID uint8

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Extended      MessageID = 20
)

// Message is a length-prefixed peer wire message. A nil *Message denotes
// a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize puts together the length-prefixed wire form. A nil message
// serializes to the zero-length keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Read parses one message off r, returning (nil, nil) for a keep-alive.
func Read(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Message{ID: MessageID(payload[0]), Payload: payload[1:]}, nil
}

// NewExtendedMessage wraps an extension-protocol payload for a given
// extended-message id (0 for the handshake itself, otherwise the id the
// remote peer assigned to this extension in its handshake's "m" map).
func NewExtendedMessage(extendedID byte, payload []byte) *Message {
	buf := make([]byte, 1+len(payload))
	buf[0] = extendedID
	copy(buf[1:], payload)
	return &Message{ID: Extended, Payload: buf}
}

// ParseExtendedMessage splits an Extended message's payload into its
// extended-message id and inner payload.
func ParseExtendedMessage(m *Message) (extendedID byte, payload []byte, err error) {
	if m == nil || m.ID != Extended {
		return 0, nil, fmt.Errorf("wire: expected extended message")
	}
	if len(m.Payload) < 1 {
		return 0, nil, fmt.Errorf("wire: empty extended message payload")
	}
	return m.Payload[0], m.Payload[1:], nil
}
