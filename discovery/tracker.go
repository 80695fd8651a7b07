package discovery

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"metaget/peer"
)

const trackerTimeout = 5 * time.Second

type httpTrackerResponse struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// unmarshalCompactPeers decodes a BEP 23 compact peer list: 6 bytes each,
// 4 for IPv4 and 2 for the big-endian port.
func unmarshalCompactPeers(raw []byte) ([]peer.Addr, error) {
	const entrySize = 6
	if len(raw)%entrySize != 0 {
		return nil, fmt.Errorf("discovery: malformed compact peer list (%d bytes)", len(raw))
	}
	n := len(raw) / entrySize
	out := make([]peer.Addr, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		ip := net.IP(raw[off : off+4])
		port := uint16(raw[off+4])<<8 | uint16(raw[off+5])
		out[i] = peer.NewAddr(ip, port)
	}
	return out, nil
}

func httpAnnounce(trackerURL string, infoHash, peerID [20]byte, left int) ([]peer.Addr, time.Duration, error) {
	base, err := url.Parse(trackerURL)
	if err != nil {
		return nil, 0, err
	}
	params := url.Values{
		"info_hash":  []string{string(infoHash[:])},
		"peer_id":    []string{string(peerID[:])},
		"port":       []string{"0"},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"compact":    []string{"1"},
		"left":       []string{strconv.Itoa(left)},
	}
	base.RawQuery = params.Encode()

	client := &http.Client{Timeout: trackerTimeout}
	resp, err := client.Get(base.String())
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var tr httpTrackerResponse
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, 0, err
	}
	peers, err := unmarshalCompactPeers([]byte(tr.Peers))
	if err != nil {
		return nil, 0, err
	}
	return peers, time.Duration(tr.Interval) * time.Second, nil
}

func udpAnnounce(hostport string, infoHash, peerID [20]byte, left int) ([]peer.Addr, time.Duration, error) {
	raddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, 0, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(trackerTimeout))

	connReq := newConnectRequest()
	if _, err := conn.Write(connReq.serialize()); err != nil {
		return nil, 0, err
	}
	connBuf := make([]byte, udpConnectLen)
	if _, err := conn.Read(connBuf); err != nil {
		return nil, 0, err
	}
	connRes := readConnectResponse(connBuf)
	if !bytes.Equal(connReq.TransactionID, connRes.TransactionID) {
		return nil, 0, fmt.Errorf("discovery: udp connect transaction id mismatch")
	}
	if connRes.Action != 0 {
		return nil, 0, fmt.Errorf("discovery: unexpected udp connect action %d", connRes.Action)
	}

	annReq := newAnnounceRequest(infoHash, peerID, left, connRes.ConnectionID)
	if _, err := conn.Write(annReq.serialize()); err != nil {
		return nil, 0, err
	}
	annBuf := make([]byte, 2048)
	n, err := conn.Read(annBuf)
	if err != nil {
		return nil, 0, err
	}
	annRes := readAnnounceResponse(annBuf[:n])
	if !bytes.Equal(annReq.TransactionID, annRes.TransactionID) {
		return nil, 0, fmt.Errorf("discovery: udp announce transaction id mismatch")
	}
	if annRes.Action != 1 {
		return nil, 0, fmt.Errorf("discovery: unexpected udp announce action %d", annRes.Action)
	}

	peers, err := unmarshalCompactPeers(annRes.Peers)
	if err != nil {
		return nil, 0, err
	}
	return peers, time.Duration(annRes.Interval) * time.Second, nil
}

func announceOne(trackerURI string, infoHash, peerID [20]byte, left int) ([]peer.Addr, time.Duration, error) {
	u, err := url.Parse(trackerURI)
	if err != nil {
		return nil, 0, err
	}
	switch u.Scheme {
	case "http", "https":
		return httpAnnounce(trackerURI, infoHash, peerID, left)
	case "udp":
		return udpAnnounce(u.Host, infoHash, peerID, left)
	default:
		return nil, 0, fmt.Errorf("discovery: unsupported tracker scheme %q", u.Scheme)
	}
}

// TrackerSource periodically announces to a set of tracker tiers,
// advancing to the next tracker/tier on failure. Each round starts again
// from the first tracker of the first tier, and the next round runs after
// the interval reported by the tracker that succeeded, the same
// single-goroutine-with-ticker shape as the teacher's requestTrackerPeers.
type TrackerSource struct {
	tiers    [][]string
	infoHash [20]byte
	peerID   [20]byte
	left     int
	stop     chan struct{}
}

// NewTrackerSource builds a source over the given tracker tiers, tried in
// tier order and, within a tier, tracker order.
func NewTrackerSource(tiers [][]string, infoHash, peerID [20]byte, left int) *TrackerSource {
	return &TrackerSource{
		tiers:    tiers,
		infoHash: infoHash,
		peerID:   peerID,
		left:     left,
		stop:     make(chan struct{}),
	}
}

// Run starts the background announce loop, sending discovered peers to out
// until Stop is called.
func (t *TrackerSource) Run(out chan<- PeerFound) {
	go t.loop(out)
}

func (t *TrackerSource) Stop() {
	close(t.stop)
}

func (t *TrackerSource) loop(out chan<- PeerFound) {
	interval := time.Second
	for {
		select {
		case <-t.stop:
			return
		case <-time.After(interval):
		}

		nextInterval, announced := t.announceOnce(out)
		if announced {
			interval = nextInterval
		}
	}
}

func (t *TrackerSource) announceOnce(out chan<- PeerFound) (time.Duration, bool) {
	for _, tier := range t.tiers {
		for _, tracker := range tier {
			addrs, interval, err := announceOne(tracker, t.infoHash, t.peerID, t.left)
			if err != nil {
				log.Printf("discovery: tracker %s: %v", tracker, err)
				continue
			}
			for _, a := range addrs {
				out <- PeerFound{Addr: a, Source: peer.SourceTracker, Transport: peer.TransportTCP}
			}
			if interval <= 0 {
				interval = time.Minute
			}
			return interval, true
		}
	}
	return 0, false
}
