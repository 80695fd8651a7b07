// Package discovery fans in peer candidates from DHT, tiered trackers, PEX
// and hole-punch rendezvous into a single channel the engine reads from.
// Each source is independent and best-effort; a failure in one never
// blocks the others.
package discovery

import "metaget/peer"

// PeerFound is one discovered candidate address, reported by any source.
type PeerFound struct {
	Addr      peer.Addr
	Source    peer.Source
	Transport peer.Transport
}

// PEXHandler is the engine-side callback surface a PEX extension decoder
// calls into when it parses an incoming ut_pex message. Modeled as an
// injected interface rather than a mixin, per the composition note in
// SPEC_FULL.md §9.
type PEXHandler interface {
	// AddPEXPeer is called for each reachable peer entry in a PEX message.
	AddPEXPeer(addr peer.Addr, transport peer.Transport)
	// RendezvousNeeded is called for an entry that is not directly
	// reachable but advertises hole-punch capability; the handler is
	// expected to send a ut_holepunch rendezvous request instead of
	// adding a candidate.
	RendezvousNeeded(addr peer.Addr)
}

// HolePunchHandler is the engine-side callback a hole-punch decoder calls
// into on a successful rendezvous-assisted connect.
type HolePunchHandler interface {
	HolePunchConnected(addr peer.Addr)
}
