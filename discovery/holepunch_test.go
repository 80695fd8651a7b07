package discovery

import (
	"testing"

	"metaget/peer"
)

type fakeHolePunchHandler struct {
	connected []peer.Addr
}

func (f *fakeHolePunchHandler) HolePunchConnected(addr peer.Addr) {
	f.connected = append(f.connected, addr)
}

func TestHolepunchConnectRoundTrip(t *testing.T) {
	target := peer.Addr{IP: "203.0.113.5", Port: 6881}
	payload, err := EncodeHolepunchConnect(target)
	if err != nil {
		t.Fatalf("EncodeHolepunchConnect: %v", err)
	}

	msgType, addr, err := DecodeHolepunchMessage(payload)
	if err != nil {
		t.Fatalf("DecodeHolepunchMessage: %v", err)
	}
	if msgType != holepunchConnect {
		t.Fatalf("msgType = %d, want %d", msgType, holepunchConnect)
	}
	if addr != target {
		t.Fatalf("addr = %+v, want %+v", addr, target)
	}
}

func TestDispatchHolepunchMessageConnectNotifiesHandler(t *testing.T) {
	target := peer.Addr{IP: "203.0.113.5", Port: 6881}
	payload, err := EncodeHolepunchConnect(target)
	if err != nil {
		t.Fatalf("EncodeHolepunchConnect: %v", err)
	}

	h := &fakeHolePunchHandler{}
	if err := DispatchHolepunchMessage(payload, h); err != nil {
		t.Fatalf("DispatchHolepunchMessage: %v", err)
	}
	if len(h.connected) != 1 || h.connected[0] != target {
		t.Fatalf("connected = %+v, want [%+v]", h.connected, target)
	}
}

func TestDispatchHolepunchMessageRendezvousDoesNotNotify(t *testing.T) {
	target := peer.Addr{IP: "203.0.113.5", Port: 6881}
	payload, err := EncodeHolepunchRendezvous(target)
	if err != nil {
		t.Fatalf("EncodeHolepunchRendezvous: %v", err)
	}

	h := &fakeHolePunchHandler{}
	if err := DispatchHolepunchMessage(payload, h); err != nil {
		t.Fatalf("DispatchHolepunchMessage: %v", err)
	}
	if len(h.connected) != 0 {
		t.Fatalf("connected = %+v, want none", h.connected)
	}
}

func TestDecodeHolepunchMessageTooShort(t *testing.T) {
	if _, _, err := DecodeHolepunchMessage([]byte{0, 0}); err == nil {
		t.Fatal("expected error for truncated message")
	}
}

func TestEncodeHolepunchRejectsNonIPv4(t *testing.T) {
	target := peer.Addr{IP: "::1", Port: 1}
	if _, err := EncodeHolepunchRendezvous(target); err == nil {
		t.Fatal("expected error for non-IPv4 address")
	}
}
