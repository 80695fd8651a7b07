package discovery

import (
	"encoding/binary"
	"fmt"
	"net"

	"metaget/peer"
)

// ut_holepunch message types (BEP: Peer Hole Punching Protocol).
const (
	holepunchRendezvous byte = 0
	holepunchConnect    byte = 1
	holepunchError      byte = 2
)

const holepunchAddrLen4 = 1 + 4 + 2 // address type + ipv4 + port

// EncodeHolepunchRendezvous builds a ut_holepunch rendezvous message asking
// a directly-reachable peer to relay a connect request to target.
func EncodeHolepunchRendezvous(target peer.Addr) ([]byte, error) {
	return encodeHolepunchMessage(holepunchRendezvous, target)
}

// EncodeHolepunchConnect builds a ut_holepunch connect message, sent by the
// relaying peer to both sides once it has forwarded a rendezvous.
func EncodeHolepunchConnect(target peer.Addr) ([]byte, error) {
	return encodeHolepunchMessage(holepunchConnect, target)
}

func encodeHolepunchMessage(msgType byte, target peer.Addr) ([]byte, error) {
	ip := net.ParseIP(target.IP).To4()
	if ip == nil {
		return nil, fmt.Errorf("discovery: hole-punch requires an IPv4 address, got %q", target.IP)
	}
	buf := make([]byte, 1+holepunchAddrLen4)
	buf[0] = msgType
	buf[1] = 0 // address type: 0 = IPv4
	copy(buf[2:6], ip)
	binary.BigEndian.PutUint16(buf[6:8], target.Port)
	return buf, nil
}

// DecodeHolepunchMessage parses a ut_holepunch payload and reports the
// message type and the addressed peer.
func DecodeHolepunchMessage(payload []byte) (msgType byte, addr peer.Addr, err error) {
	if len(payload) < 1+holepunchAddrLen4 {
		return 0, peer.Addr{}, fmt.Errorf("discovery: hole-punch message too short (%d bytes)", len(payload))
	}
	msgType = payload[0]
	if payload[1] != 0 {
		return 0, peer.Addr{}, fmt.Errorf("discovery: hole-punch ipv6 addresses are not supported")
	}
	ip := net.IP(payload[2:6])
	port := binary.BigEndian.Uint16(payload[6:8])
	return msgType, peer.NewAddr(ip, port), nil
}

// DispatchHolepunchMessage decodes payload and, on a connect message,
// notifies h that a rendezvous-assisted connection to addr should now be
// attempted over uTP. Rendezvous and error messages are the relay's
// concern, not the requester's, and are ignored here.
func DispatchHolepunchMessage(payload []byte, h HolePunchHandler) error {
	msgType, addr, err := DecodeHolepunchMessage(payload)
	if err != nil {
		return err
	}
	if msgType == holepunchConnect {
		h.HolePunchConnected(addr)
	}
	return nil
}
