package peer

import (
	"fmt"
	"net"
)

// Registry deduplicates peer addresses and tracks which are active vs.
// available for scheduling. It accepts candidates only while the engine
// that owns it is running, and is mutated from a single goroutine (the
// engine's event loop) -- see metaget/engine for the concurrency model.
type Registry struct {
	externalIP string
	ignore     map[string]bool

	running bool

	byAddr      map[Addr]*Peer
	inboundByIP map[string]bool
}

// NewRegistry builds a Registry that rejects the given external IP (as
// reported by an out-of-band IP discovery collaborator) and any address in
// ignore, in addition to its own duplicate-detection rules. The
// unspecified and loopback IPv4 addresses are always rejected.
func NewRegistry(externalIP net.IP, ignore []net.IP) *Registry {
	ignoreSet := map[string]bool{
		"0.0.0.0":   true,
		"127.0.0.1": true,
	}
	for _, ip := range ignore {
		ignoreSet[ip.String()] = true
	}
	ext := ""
	if externalIP != nil {
		ext = externalIP.String()
	}
	return &Registry{
		externalIP:  ext,
		ignore:      ignoreSet,
		byAddr:      make(map[Addr]*Peer),
		inboundByIP: make(map[string]bool),
	}
}

// SetRunning toggles whether AddCandidate accepts new peers.
func (r *Registry) SetRunning(running bool) {
	r.running = running
}

// AddCandidate admits a new peer address, or returns an error explaining
// why it was rejected.
func (r *Registry) AddCandidate(addr Addr, source Source, transport Transport, inbound bool) (*Peer, error) {
	if !r.running {
		return nil, fmt.Errorf("peer: registry is not running")
	}
	if addr.IP == r.externalIP {
		return nil, fmt.Errorf("peer: %s is our own external address", addr)
	}
	if r.ignore[addr.IP] {
		return nil, fmt.Errorf("peer: %s is in the ignore list", addr)
	}
	if _, exists := r.byAddr[addr]; exists {
		return nil, fmt.Errorf("peer: %s already known", addr)
	}
	if inbound && r.inboundByIP[addr.IP] {
		return nil, fmt.Errorf("peer: %s already has an inbound connection", addr.IP)
	}

	p := NewCandidate(addr, source, transport, inbound)
	r.byAddr[addr] = p
	if inbound {
		r.inboundByIP[addr.IP] = true
	}
	return p, nil
}

// Remove disposes of a peer and frees its address/inbound slot.
func (r *Registry) Remove(p *Peer) {
	if p == nil {
		return
	}
	p.SetState(StateDisposed)
	delete(r.byAddr, p.Addr)
	if p.Inbound {
		delete(r.inboundByIP, p.Addr.IP)
	}
}

// Active returns every peer that is not a bare candidate and not disposed.
func (r *Registry) Active() []*Peer {
	var out []*Peer
	for _, p := range r.byAddr {
		if p.state > StateCandidate && p.state < StateDisposed {
			out = append(out, p)
		}
	}
	return out
}

// Available returns the metadata-ready peers eligible for piece requests.
func (r *Registry) Available() []*Peer {
	var out []*Peer
	for _, p := range r.byAddr {
		if p.state == StateMetadataReady {
			out = append(out, p)
		}
	}
	return out
}

// Len reports the number of peers currently tracked (any state).
func (r *Registry) Len() int {
	return len(r.byAddr)
}
