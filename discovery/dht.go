package discovery

import (
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nictuku/dht"

	"metaget/peer"
)

const dhtRequestInterval = 5 * time.Second

// DHTSource wraps github.com/nictuku/dht behind the same Run/Stop shape as
// TrackerSource, draining dht.DHT's PeersRequestResults the way the
// teacher's drainResults does and re-issuing PeersRequest on a ticker the
// way requestDHTPeers does.
type DHTSource struct {
	infoHash [20]byte
	node     *dht.DHT
	stop     chan struct{}
}

// NewDHTSource creates a DHT node with default settings. The node isn't
// started or dialed out to the network until Run is called.
func NewDHTSource(infoHash [20]byte) (*DHTSource, error) {
	node, err := dht.New(nil)
	if err != nil {
		return nil, err
	}
	return &DHTSource{
		infoHash: infoHash,
		node:     node,
		stop:     make(chan struct{}),
	}, nil
}

// Run starts the DHT node, a drain goroutine, and a periodic PeersRequest
// loop, sending discovered candidates to out until Stop is called.
func (d *DHTSource) Run(out chan<- PeerFound) error {
	if err := d.node.Start(); err != nil {
		return err
	}
	go d.drain(out)
	go d.announceLoop()
	return nil
}

func (d *DHTSource) Stop() {
	close(d.stop)
	d.node.Stop()
}

func (d *DHTSource) drain(out chan<- PeerFound) {
	ih := string(d.infoHash[:])
	for results := range d.node.PeersRequestResults {
		peers, ok := results[dht.InfoHash(ih)]
		if !ok {
			continue
		}
		for _, encoded := range peers {
			addr, err := parseDHTPeerAddress(dht.DecodePeerAddress(encoded))
			if err != nil {
				log.Printf("discovery: dht peer: %v", err)
				continue
			}
			out <- PeerFound{Addr: addr, Source: peer.SourceDHT, Transport: peer.TransportTCP}
		}
	}
}

// parseDHTPeerAddress turns the "host:port" string dht.DecodePeerAddress
// returns into a peer.Addr, mirroring the teacher's toPeer.
func parseDHTPeerAddress(hostport string) (peer.Addr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		idx := strings.LastIndex(hostport, ":")
		if idx < 0 {
			return peer.Addr{}, err
		}
		host, portStr = hostport[:idx], hostport[idx+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return peer.Addr{}, err
	}
	return peer.NewAddr(net.ParseIP(host), uint16(port)), nil
}

func (d *DHTSource) announceLoop() {
	ih := string(d.infoHash[:])
	ticker := time.NewTicker(dhtRequestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.node.PeersRequest(ih, false)
		}
	}
}
