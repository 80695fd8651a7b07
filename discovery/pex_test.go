package discovery

import (
	"bytes"
	"testing"

	bencode "github.com/jackpal/bencode-go"

	"metaget/peer"
)

type fakePEXHandler struct {
	added      []peer.Addr
	transports []peer.Transport
	rendezvous []peer.Addr
}

func (f *fakePEXHandler) AddPEXPeer(addr peer.Addr, transport peer.Transport) {
	f.added = append(f.added, addr)
	f.transports = append(f.transports, transport)
}

func (f *fakePEXHandler) RendezvousNeeded(addr peer.Addr) {
	f.rendezvous = append(f.rendezvous, addr)
}

func TestDecodePEXMessageReachablePeerBecomesCandidate(t *testing.T) {
	addrs := []peer.Addr{{IP: "1.2.3.4", Port: 6881}}
	payload, err := EncodePEXMessage(addrs)
	if err != nil {
		t.Fatalf("EncodePEXMessage: %v", err)
	}

	h := &fakePEXHandler{}
	if err := DecodePEXMessage(payload, h); err != nil {
		t.Fatalf("DecodePEXMessage: %v", err)
	}
	if len(h.added) != 1 || h.added[0] != addrs[0] {
		t.Fatalf("added = %+v, want %+v", h.added, addrs)
	}
	if len(h.rendezvous) != 0 {
		t.Fatalf("rendezvous = %+v, want none", h.rendezvous)
	}
}

func TestDecodePEXMessageHolepunchFlagTriggersRendezvous(t *testing.T) {
	msg := pexMessage{
		Added:  string([]byte{1, 2, 3, 4, 0x1A, 0xE1}),
		AddedF: string([]byte{pexFlagHolepunch}),
	}
	payload := marshalPexMessage(t, msg)

	h := &fakePEXHandler{}
	if err := DecodePEXMessage(payload, h); err != nil {
		t.Fatalf("DecodePEXMessage: %v", err)
	}
	if len(h.added) != 0 {
		t.Fatalf("added = %+v, want none", h.added)
	}
	if len(h.rendezvous) != 1 || h.rendezvous[0].IP != "1.2.3.4" {
		t.Fatalf("rendezvous = %+v", h.rendezvous)
	}
}

func TestDecodePEXMessageUTPFlag(t *testing.T) {
	msg := pexMessage{
		Added:  string([]byte{1, 2, 3, 4, 0x1A, 0xE1}),
		AddedF: string([]byte{pexFlagUTP}),
	}
	payload := marshalPexMessage(t, msg)

	h := &fakePEXHandler{}
	if err := DecodePEXMessage(payload, h); err != nil {
		t.Fatalf("DecodePEXMessage: %v", err)
	}
	if len(h.added) != 1 || h.transports[0] != peer.TransportUTP {
		t.Fatalf("added = %+v transports = %+v", h.added, h.transports)
	}
}

func marshalPexMessage(t *testing.T, msg pexMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, msg); err != nil {
		t.Fatalf("bencode.Marshal: %v", err)
	}
	return buf.Bytes()
}
