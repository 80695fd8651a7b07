package engine

import (
	"fmt"
	"net"
	"time"

	"metaget/discovery"
	"metaget/idgen"
	"metaget/peer"
	"metaget/wire"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 5 * time.Second

	// Locally-assigned extension ids we advertise in our own extended
	// handshake "m" map, per BEP 10.
	localUTMetadataID = 1
	localUTPexID      = 2
	localUTHolepunch  = 3
)

// peerConn is an open wire connection to a single peer, reading messages
// on its own goroutine and reporting everything back through the engine's
// single event channel -- the teacher's Channel (alice/channel.go)
// generalized from a piece-download reader to an extension-aware one that
// only ever speaks ut_metadata/ut_pex/ut_holepunch.
type peerConn struct {
	id       string
	addr     peer.Addr
	conn     net.Conn
	infoHash [20]byte
	ourID    [20]byte
	events   chan<- event

	remoteUTMetadataID int      // set once the extended handshake arrives; -1 if absent
	remoteUTPexID      int
	remoteUTHolepunch  int
	remotePeerID       [20]byte // set by the base BEP 3 handshake
}

// ID satisfies scheduler.Target.
func (c *peerConn) ID() string { return c.id }

// dialPeer opens a TCP connection, completes the BEP 3 handshake and the
// BEP 10 extended handshake, generalizing alice/channel.go's
// completeHandshake/newChannel (which stops after the base handshake +
// bitfield) to also negotiate extension ids.
func dialPeer(addr peer.Addr, infoHash [20]byte, events chan<- event) {
	ourID := idgen.PeerID()
	conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		events <- peerDisconnectedEvent{peerID: addr.String(), err: err}
		return
	}

	pc := &peerConn{id: addr.String(), addr: addr, conn: conn, infoHash: infoHash, ourID: ourID, events: events}

	if err := pc.handshake(); err != nil {
		conn.Close()
		events <- peerDisconnectedEvent{peerID: pc.id, err: err}
		return
	}

	events <- peerConnectedEvent{conn: pc}
	pc.readLoop()
}

func (c *peerConn) handshake() error {
	c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	hs := wire.NewHandshake(c.infoHash, c.ourID)
	if _, err := c.conn.Write(hs.Serialize()); err != nil {
		return fmt.Errorf("engine: writing handshake: %w", err)
	}
	remote, err := wire.ReadHandshake(c.conn)
	if err != nil {
		return fmt.Errorf("engine: reading handshake: %w", err)
	}
	if err := wire.VerifyInfoHash(remote, c.infoHash); err != nil {
		return err
	}
	c.remotePeerID = remote.PeerID
	if !remote.SupportsExtensions() {
		return fmt.Errorf("engine: peer %s does not support BEP 10 extensions", c.id)
	}

	ourHandshake := wire.ExtendedHandshake{
		M: map[string]int{
			wire.ExtUTMetadata:  localUTMetadataID,
			wire.ExtUTPex:       localUTPexID,
			wire.ExtUTHolepunch: localUTHolepunch,
		},
		V: "metaget/1.0",
	}
	payload, err := wire.EncodeExtendedHandshake(ourHandshake)
	if err != nil {
		return err
	}
	msg := wire.NewExtendedMessage(0, payload)
	if _, err := c.conn.Write(msg.Serialize()); err != nil {
		return fmt.Errorf("engine: writing extended handshake: %w", err)
	}
	return nil
}

// readLoop decodes incoming wire messages until the connection errors or
// closes, translating extended messages into engine events. It never
// mutates engine state directly -- every observation crosses the channel,
// matching the single-task ownership rule in SPEC_FULL.md §5.
func (c *peerConn) readLoop() {
	defer c.conn.Close()
	for {
		msg, err := wire.Read(c.conn)
		if err != nil {
			c.events <- peerDisconnectedEvent{peerID: c.id, err: err}
			return
		}
		if msg == nil { // keep-alive
			continue
		}
		if msg.ID != wire.Extended {
			continue
		}
		extID, payload, err := wire.ParseExtendedMessage(msg)
		if err != nil {
			continue
		}
		c.handleExtended(extID, payload)
	}
}

func (c *peerConn) handleExtended(extID byte, payload []byte) {
	switch extID {
	case 0:
		h, err := wire.DecodeExtendedHandshake(payload)
		if err != nil {
			return
		}
		utMetadataID, hasMetadata := wire.ExtensionID(h.M, wire.ExtUTMetadata)
		if !hasMetadata {
			utMetadataID = -1
		}
		c.remoteUTMetadataID = utMetadataID
		utPexID, hasPex := wire.ExtensionID(h.M, wire.ExtUTPex)
		if !hasPex {
			utPexID = -1
		}
		utHolepunch, hasHolepunch := wire.ExtensionID(h.M, wire.ExtUTHolepunch)
		if !hasHolepunch {
			utHolepunch = -1
		}
		c.remoteUTPexID = utPexID
		c.remoteUTHolepunch = utHolepunch
		c.events <- peerHandshakeEvent{
			peerID:       c.id,
			remotePeerID: c.remotePeerID,
			utMetadataID: utMetadataID,
			utPexID:      utPexID,
			utHolepunch:  utHolepunch,
			metadataSize: h.MetadataSize,
			private:      h.IsPrivate(),
		}
	case localUTMetadataID:
		msgType, piece, data, ok := wire.DecodeMetadataMessage(payload)
		if !ok {
			return
		}
		switch msgType {
		case wire.MetadataPiece:
			c.events <- blockReceivedEvent{peerID: c.id, index: piece, data: data}
		case wire.MetadataReject:
			c.events <- blockRejectedEvent{peerID: c.id, index: piece}
		}
	case localUTPexID:
		if err := discovery.DecodePEXMessage(payload, c); err != nil {
			return
		}
	case localUTHolepunch:
		if err := discovery.DispatchHolepunchMessage(payload, c); err != nil {
			return
		}
	}
}

// AddPEXPeer satisfies discovery.PEXHandler: a reachable peer named in an
// incoming ut_pex message becomes a fresh discovery candidate.
func (c *peerConn) AddPEXPeer(addr peer.Addr, transport peer.Transport) {
	c.events <- discoveredPeerEvent{found: discovery.PeerFound{Addr: addr, Source: peer.SourcePEX, Transport: transport}}
}

// RendezvousNeeded satisfies discovery.PEXHandler: the named peer is not
// directly reachable but advertised hole-punch support, so ask this
// connection's remote end -- which is already talking to it -- to
// rendezvous us with it.
func (c *peerConn) RendezvousNeeded(addr peer.Addr) {
	if c.remoteUTHolepunch < 0 {
		return
	}
	payload, err := discovery.EncodeHolepunchRendezvous(addr)
	if err != nil {
		return
	}
	msg := wire.NewExtendedMessage(byte(c.remoteUTHolepunch), payload)
	c.conn.Write(msg.Serialize())
}

// HolePunchConnected satisfies discovery.HolePunchHandler: a rendezvous we
// requested succeeded, so the target is now directly dialable.
func (c *peerConn) HolePunchConnected(addr peer.Addr) {
	c.events <- discoveredPeerEvent{found: discovery.PeerFound{Addr: addr, Source: peer.SourceHolePunch, Transport: peer.TransportUTP}}
}

// RequestBlock satisfies scheduler.Target, sending a ut_metadata request
// for the given block over this peer's connection.
func (c *peerConn) RequestBlock(index int) error {
	body, err := wire.EncodeMetadataRequest(index)
	if err != nil {
		return err
	}
	if c.remoteUTMetadataID < 0 {
		return fmt.Errorf("engine: peer %s has not advertised ut_metadata", c.id)
	}
	msg := wire.NewExtendedMessage(byte(c.remoteUTMetadataID), body)
	_, err = c.conn.Write(msg.Serialize())
	return err
}

func (c *peerConn) Close() error {
	return c.conn.Close()
}
