package engine

import "metaget/discovery"

// EventSink receives the three outward-facing events a download produces.
// The caller injects an implementation through New and the engine calls
// it, composition rather than a shared vtable, per SPEC_FULL.md's
// composition-over-mixins note.
type EventSink interface {
	OnProgress(percent int)
	OnComplete(metadata []byte)
	OnFailed(reason string)
}

// NopEventSink discards every event; useful as a default or in tests that
// don't care about the event stream.
type NopEventSink struct{}

func (NopEventSink) OnProgress(percent int)     {}
func (NopEventSink) OnComplete(metadata []byte) {}
func (NopEventSink) OnFailed(reason string)     {}

// event is the sum type fed into the engine's single event-loop channel:
// peer lifecycle, extension messages, timer fires, discovery results and
// web-seed results all arrive as one of these. Unexported because only
// engine.run consumes them.
type event interface{ isEvent() }

type peerConnectedEvent struct {
	conn *peerConn
}

func (peerConnectedEvent) isEvent() {}

type peerHandshakeEvent struct {
	peerID       string
	remotePeerID [20]byte
	utMetadataID int
	utPexID      int
	utHolepunch  int
	metadataSize int
	private      bool
}

func (peerHandshakeEvent) isEvent() {}

type peerDisconnectedEvent struct {
	peerID string
	err    error
}

func (peerDisconnectedEvent) isEvent() {}

type blockReceivedEvent struct {
	peerID string
	index  int
	data   []byte
}

func (blockReceivedEvent) isEvent() {}

type blockRejectedEvent struct {
	peerID string
	index  int
}

func (blockRejectedEvent) isEvent() {}

type timerFireEvent struct {
	peerID string
	block  int
}

func (timerFireEvent) isEvent() {}

type discoveredPeerEvent struct {
	found discovery.PeerFound
}

func (discoveredPeerEvent) isEvent() {}

type webSeedResultEvent struct {
	index int
	data  []byte // nil on failure
}

func (webSeedResultEvent) isEvent() {}
