package discovery

import (
	"bytes"
	"net"

	bencode "github.com/jackpal/bencode-go"

	"metaget/peer"
)

// pexFlag bits, per the ut_pex extension: bit 0x02 marks the peer as
// supporting the uTP transport, bit 0x10 marks it reachable only via
// hole-punch rendezvous.
const (
	pexFlagUTP        = 0x02
	pexFlagHolepunch  = 0x10
	compactAddrLength = 6
)

// pexMessage mirrors the bencoded ut_pex payload: "added" is a compact
// peer list, "added.f" a parallel byte string of per-peer flags.
type pexMessage struct {
	Added   string `bencode:"added"`
	AddedF  string `bencode:"added.f"`
	Dropped string `bencode:"dropped"`
}

// DecodePEXMessage parses a ut_pex payload and dispatches each entry to h:
// directly reachable peers become candidates, peers that are unreachable
// but hole-punch capable trigger a rendezvous request instead.
func DecodePEXMessage(payload []byte, h PEXHandler) error {
	var msg pexMessage
	if err := bencode.Unmarshal(bytes.NewReader(payload), &msg); err != nil {
		return err
	}

	addrs, err := unmarshalCompactPeers([]byte(msg.Added))
	if err != nil {
		return err
	}
	flags := []byte(msg.AddedF)

	for i, addr := range addrs {
		var flag byte
		if i < len(flags) {
			flag = flags[i]
		}
		if flag&pexFlagHolepunch != 0 {
			h.RendezvousNeeded(addr)
			continue
		}
		transport := peer.TransportTCP
		if flag&pexFlagUTP != 0 {
			transport = peer.TransportUTP
		}
		h.AddPEXPeer(addr, transport)
	}
	return nil
}

// EncodePEXMessage builds a ut_pex payload advertising the given active
// peer addresses with no flags set, sufficient for gossiping the current
// swarm view onward.
func EncodePEXMessage(addrs []peer.Addr) ([]byte, error) {
	added := make([]byte, 0, len(addrs)*compactAddrLength)
	for _, a := range addrs {
		ip := net.ParseIP(a.IP).To4()
		if ip == nil {
			continue
		}
		added = append(added, ip...)
		added = append(added, byte(a.Port>>8), byte(a.Port))
	}
	msg := pexMessage{Added: string(added), AddedF: string(make([]byte, len(added)/compactAddrLength))}
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
