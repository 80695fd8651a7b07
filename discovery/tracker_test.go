package discovery

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"metaget/peer"
)

func TestUnmarshalCompactPeers(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 1, 0x1A, 0xE2}
	peers, err := unmarshalCompactPeers(raw)
	if err != nil {
		t.Fatalf("unmarshalCompactPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
	if peers[0] != (peer.Addr{IP: "127.0.0.1", Port: 0x1AE1}) {
		t.Fatalf("peers[0] = %+v", peers[0])
	}
	if peers[1] != (peer.Addr{IP: "10.0.0.1", Port: 0x1AE2}) {
		t.Fatalf("peers[1] = %+v", peers[1])
	}
}

func TestUnmarshalCompactPeersMalformedLength(t *testing.T) {
	if _, err := unmarshalCompactPeers([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for length not a multiple of 6")
	}
}

func TestHTTPAnnounce(t *testing.T) {
	compact := []byte{127, 0, 0, 1, 0x1A, 0xE1}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("compact") != "1" {
			t.Error("expected compact=1")
		}
		bencode.Marshal(w, httpTrackerResponse{Interval: 1800, Peers: string(compact)})
	}))
	defer srv.Close()

	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	peers, interval, err := httpAnnounce(srv.URL, infoHash, peerID, 0)
	if err != nil {
		t.Fatalf("httpAnnounce: %v", err)
	}
	if interval != 1800*time.Second {
		t.Fatalf("interval = %v, want 1800s", interval)
	}
	if len(peers) != 1 || peers[0].IP != "127.0.0.1" {
		t.Fatalf("peers = %+v", peers)
	}
}

func TestAnnounceOneDispatchesByScheme(t *testing.T) {
	if _, _, err := announceOne("ws://bad.example", [20]byte{}, [20]byte{}, 0); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, _, err := announceOne("::not a url", [20]byte{}, [20]byte{}, 0); err == nil {
		t.Fatal("expected error for unparsable tracker URI")
	}
}

func TestTrackerSourceAnnounceOnceSkipsFailingTrackerAndTriesNextTier(t *testing.T) {
	compact := []byte{10, 0, 0, 2, 0, 80}
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bencode.Marshal(w, httpTrackerResponse{Interval: 60, Peers: string(compact)})
	}))
	defer ok.Close()

	ts := NewTrackerSource([][]string{
		{"http://127.0.0.1:1"}, // unreachable, should fail fast and fall through
		{ok.URL},
	}, [20]byte{}, [20]byte{}, 0)

	out := make(chan PeerFound, 4)
	interval, announced := ts.announceOnce(out)
	if !announced {
		t.Fatal("expected the second tier to succeed")
	}
	if interval != 60*time.Second {
		t.Fatalf("interval = %v, want 60s", interval)
	}
	select {
	case found := <-out:
		if found.Source != peer.SourceTracker || found.Transport != peer.TransportTCP {
			t.Fatalf("found = %+v", found)
		}
	default:
		t.Fatal("expected a discovered peer on out")
	}
}

func TestTrackerSourceStopEndsLoop(t *testing.T) {
	ts := NewTrackerSource(nil, [20]byte{}, [20]byte{}, 0)
	done := make(chan struct{})
	go func() {
		ts.loop(make(chan PeerFound, 1))
		close(done)
	}()
	ts.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
}
