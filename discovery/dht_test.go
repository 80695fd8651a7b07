package discovery

import "testing"

func TestParseDHTPeerAddress(t *testing.T) {
	addr, err := parseDHTPeerAddress("203.0.113.5:6881")
	if err != nil {
		t.Fatalf("parseDHTPeerAddress: %v", err)
	}
	if addr.IP != "203.0.113.5" || addr.Port != 6881 {
		t.Fatalf("addr = %+v", addr)
	}
}

func TestParseDHTPeerAddressMalformed(t *testing.T) {
	if _, err := parseDHTPeerAddress("not-an-address"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}
