package discovery

import (
	"encoding/binary"

	"metaget/idgen"
)

// udpConnectLen is the wire length of a UDP tracker connect request/response
// (BEP 15).
const udpConnectLen = 16

// udpProtocolID is the UDP tracker "magic constant" connection id.
const udpProtocolID = 0x41727101980

type connectRequest struct {
	ProtocolID    uint64
	Action        uint32
	TransactionID []byte
}

func newConnectRequest() *connectRequest {
	return &connectRequest{
		ProtocolID:    udpProtocolID,
		Action:        0,
		TransactionID: idgen.RandomID(4),
	}
}

func (c *connectRequest) serialize() []byte {
	buf := make([]byte, udpConnectLen)
	binary.BigEndian.PutUint64(buf[0:8], c.ProtocolID)
	binary.BigEndian.PutUint32(buf[8:12], c.Action)
	copy(buf[12:16], c.TransactionID)
	return buf
}

type connectResponse struct {
	Action        uint32
	TransactionID []byte
	ConnectionID  []byte
}

func readConnectResponse(buf []byte) *connectResponse {
	return &connectResponse{
		Action:        binary.BigEndian.Uint32(buf[0:4]),
		TransactionID: append([]byte(nil), buf[4:8]...),
		ConnectionID:  append([]byte(nil), buf[8:16]...),
	}
}
