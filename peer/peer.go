// Package peer models a BitTorrent peer participating in a metadata
// download: its address, how it was discovered, its transport, and its
// lifecycle state from bare candidate through to a metadata-ready source
// of ut_metadata blocks.
package peer

import (
	"net"
	"strconv"
)

// Source identifies how a peer address was discovered.
type Source int

const (
	SourceDHT Source = iota
	SourceTracker
	SourcePEX
	SourceHolePunch
	SourceIncoming
)

func (s Source) String() string {
	switch s {
	case SourceDHT:
		return "dht"
	case SourceTracker:
		return "tracker"
	case SourcePEX:
		return "pex"
	case SourceHolePunch:
		return "holepunch"
	case SourceIncoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// Transport is the wire transport used to reach a peer.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUTP
)

func (t Transport) String() string {
	if t == TransportUTP {
		return "utp"
	}
	return "tcp"
}

// State is a peer's position in the candidate -> disposed lifecycle.
type State int

const (
	StateCandidate State = iota
	StateConnecting
	StateConnected
	StateExtendedHandshaken
	StateMetadataReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCandidate:
		return "candidate"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateExtendedHandshaken:
		return "extended-handshaken"
	case StateMetadataReady:
		return "metadata-ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Addr is a compact (ip, port) peer address, comparable so it can key a map.
type Addr struct {
	IP   string
	Port uint16
}

func NewAddr(ip net.IP, port uint16) Addr {
	return Addr{IP: ip.String(), Port: port}
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// Peer is a candidate or active participant in the metadata download.
type Peer struct {
	Addr      Addr
	Source    Source
	Transport Transport
	Inbound   bool

	state State

	PeerID       [20]byte
	hasPeerID    bool
	UTMetadataID int // -1 until known
	UTPexID      int
	UTHolepunch  int
	MetadataSize int // 0 until the peer has announced one
	Private      bool
}

// NewCandidate creates a fresh peer in the candidate state.
func NewCandidate(addr Addr, source Source, transport Transport, inbound bool) *Peer {
	return &Peer{
		Addr:         addr,
		Source:       source,
		Transport:    transport,
		Inbound:      inbound,
		state:        StateCandidate,
		UTMetadataID: -1,
		UTPexID:      -1,
		UTHolepunch:  -1,
	}
}

func (p *Peer) State() State { return p.state }

func (p *Peer) SetState(s State) { p.state = s }

// ApplyExtendedHandshake records the peer id and extension ids exposed by an
// extended handshake. metadataSize/private are applied by the caller only
// when they should take effect (metadata_size is fixed once, private is
// sticky) -- see engine.Engine.onExtendedHandshake.
func (p *Peer) ApplyExtendedHandshake(peerID [20]byte, utMetadataID, utPexID, utHolepunchID int) {
	p.PeerID = peerID
	p.hasPeerID = true
	p.UTMetadataID = utMetadataID
	p.UTPexID = utPexID
	p.UTHolepunch = utHolepunchID
	p.SetState(StateExtendedHandshaken)
}

// IsMetadataReady reports whether this peer can be a target for piece
// requests. The engine sets StateMetadataReady once the peer exposes
// ut_metadata and has announced a metadata size; a size that differs from
// the one already fixed does not prevent it.
func (p *Peer) IsMetadataReady() bool {
	return p.state == StateMetadataReady
}
