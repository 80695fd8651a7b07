package discovery

import (
	"encoding/binary"

	"metaget/idgen"
)

// udpAnnounceLen is the wire length of a UDP tracker announce request.
const udpAnnounceLen = 98

type announceRequest struct {
	ConnectionID  []byte
	Action        uint32
	TransactionID []byte
	InfoHash      [20]byte
	PeerID        [20]byte
	Downloaded    uint64
	Left          uint64
	Uploaded      uint64
	Event         uint32
	IP            uint32
	Key           []byte
	NumWant       int32
	Port          uint16
}

func newAnnounceRequest(infoHash, peerID [20]byte, left int, connectionID []byte) *announceRequest {
	return &announceRequest{
		ConnectionID:  connectionID,
		Action:        1,
		TransactionID: idgen.RandomID(4),
		InfoHash:      infoHash,
		PeerID:        peerID,
		Left:          uint64(left),
		Key:           idgen.RandomID(4),
		NumWant:       -1,
	}
}

func (a *announceRequest) serialize() []byte {
	buf := make([]byte, udpAnnounceLen)
	copy(buf[0:8], a.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], a.Action)
	copy(buf[12:16], a.TransactionID)
	copy(buf[16:36], a.InfoHash[:])
	copy(buf[36:56], a.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], a.Downloaded)
	binary.BigEndian.PutUint64(buf[64:72], a.Left)
	binary.BigEndian.PutUint64(buf[72:80], a.Uploaded)
	binary.BigEndian.PutUint32(buf[80:84], a.Event)
	binary.BigEndian.PutUint32(buf[84:88], a.IP)
	copy(buf[88:92], a.Key)
	binary.BigEndian.PutUint32(buf[92:96], uint32(a.NumWant))
	binary.BigEndian.PutUint16(buf[96:98], a.Port)
	return buf
}

type announceResponse struct {
	Action        uint32
	TransactionID []byte
	Interval      uint32
	Leechers      uint32
	Seeders       uint32
	Peers         []byte
}

func readAnnounceResponse(buf []byte) *announceResponse {
	numPeers := binary.BigEndian.Uint32(buf[12:16]) + binary.BigEndian.Uint32(buf[16:20])
	peers := buf[20:]
	if want := int(numPeers) * 6; want < len(peers) {
		peers = peers[:want]
	}
	return &announceResponse{
		Action:        binary.BigEndian.Uint32(buf[0:4]),
		TransactionID: append([]byte(nil), buf[4:8]...),
		Interval:      binary.BigEndian.Uint32(buf[8:12]),
		Leechers:      binary.BigEndian.Uint32(buf[12:16]),
		Seeders:       binary.BigEndian.Uint32(buf[16:20]),
		Peers:         peers,
	}
}
