// Package engine drives one metadata-download attempt end to end:
// discovery fans candidates into a peer registry, handshaken peers become
// scheduler targets, incoming ut_metadata pieces flow into the assembler,
// and a verified result is cached and reported through an EventSink.
//
// All mutable state -- the registry, scheduler, assembler, and the
// private/metadata_size gates -- is owned by a single goroutine (run),
// fed by one event channel, per SPEC_FULL.md §5.
package engine

import (
	"log"
	"sync"

	"github.com/gosuri/uiprogress"

	"metaget/assembler"
	"metaget/cache"
	"metaget/discovery"
	"metaget/infohash"
	"metaget/magnet"
	"metaget/peer"
	"metaget/scheduler"
	"metaget/webseed"
)

// State is the engine's two-value lifecycle, per spec.md §2.
type State int

const (
	Idle State = iota
	Running
)

// dhtSource is the minimal surface Engine needs from a DHT peer source --
// satisfied by *discovery.DHTSource -- so tests can substitute a fake
// rather than spin up real DHT network state.
type dhtSource interface {
	Run(out chan<- discovery.PeerFound) error
	Stop()
}

// Engine coordinates one metadata-acquisition attempt for a single magnet
// descriptor.
type Engine struct {
	descriptor *magnet.Descriptor
	config     Config
	sink       EventSink

	// stateMu guards state and the Start/Stop transition itself, so a
	// caller's Stop (e.g. main.go's SIGINT handler) racing the engine's
	// own internally-triggered `go e.Stop()` (applyOutcome, on a
	// terminal outcome) can never both observe Running and both try to
	// close(e.stop).
	stateMu sync.Mutex
	state   State

	infoHash infohash.InfoHash

	registry  *peer.Registry
	scheduler *scheduler.Scheduler
	asm       *assembler.Assembler
	fetcher   *webseed.Fetcher
	store     *cache.Store

	trackerSource *discovery.TrackerSource
	dhtSource     dhtSource

	conns map[string]*peerConn

	metadataSizeKnown bool
	private           bool
	blocksDone        int

	events chan event
	stop   chan struct{}
	done   chan struct{}

	bar *uiprogress.Bar
}

// New builds an Engine for d, ready to Start. store must not be nil; pass
// a NopEventSink{} for sink if the caller doesn't need the event stream.
func New(d *magnet.Descriptor, cfg Config, store *cache.Store, sink EventSink) *Engine {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Engine{
		descriptor: d,
		config:     cfg,
		sink:       sink,
		store:      store,
		infoHash:   d.InfoHash,
		registry:   peer.NewRegistry(cfg.ExternalIP, cfg.IgnoreIPs),
		fetcher:    webseed.New(d.WebSeeds, d.AcceptableSources),
		conns:      make(map[string]*peerConn),
		events:     make(chan event, 64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start is idempotent: calling it on a Running engine is a no-op. On a
// cache hit it completes immediately without touching the network, per
// spec.md §4.6.
func (e *Engine) Start() {
	e.stateMu.Lock()
	if e.state == Running {
		e.stateMu.Unlock()
		return
	}
	e.state = Running
	e.stateMu.Unlock()

	e.registry.SetRunning(true)

	if cached, ok := e.store.Read(e.infoHash); ok && assembler.Verify(e.infoHash, cached) {
		e.sink.OnComplete(cached)
		e.stateMu.Lock()
		e.state = Idle
		e.stateMu.Unlock()
		close(e.done)
		return
	}

	e.startDiscovery()
	go e.run()
}

// Stop is idempotent, including under concurrent calls: only the caller
// that observes Running and wins the state transition closes e.stop, so
// a caller-initiated Stop racing the engine's own `go e.Stop()` (on a
// terminal outcome) can never double-close the channel.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	if e.state != Running {
		e.stateMu.Unlock()
		return
	}
	e.state = Idle
	e.stateMu.Unlock()

	close(e.stop)
	<-e.done
}

func (e *Engine) startDiscovery() {
	ih := [20]byte(e.infoHash)
	if e.config.UseTrackers && len(e.descriptor.TrackerTiers) > 0 {
		e.trackerSource = discovery.NewTrackerSource(e.descriptor.TrackerTiers, ih, ih, 0)
		e.trackerSource.Run(discoveryChan(e.events))
	}
	if e.config.UseDHT {
		src, err := discovery.NewDHTSource(ih)
		if err != nil {
			log.Printf("engine: starting dht: %v", err)
		} else {
			e.dhtSource = src
			if err := e.dhtSource.Run(discoveryChan(e.events)); err != nil {
				log.Printf("engine: starting dht: %v", err)
				e.dhtSource = nil
			}
		}
	}
}

// discoveryChan bridges a discovery source's PeerFound channel into the
// engine's single event channel, draining it on its own goroutine -- the
// same fan-in shape as alice/discover.go's drainResults.
func discoveryChan(out chan<- event) chan discovery.PeerFound {
	ch := make(chan discovery.PeerFound, 32)
	go func() {
		for found := range ch {
			out <- discoveredPeerEvent{found: found}
		}
	}()
	return ch
}

// run is the single logical task that owns every piece of mutable state;
// see SPEC_FULL.md §5.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			e.shutdown()
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	switch v := ev.(type) {
	case discoveredPeerEvent:
		e.onDiscoveredPeer(v.found)
	case peerConnectedEvent:
		e.onPeerConnected(v.conn)
	case peerHandshakeEvent:
		e.onExtendedHandshake(v)
	case peerDisconnectedEvent:
		e.onPeerDisconnected(v)
	case blockReceivedEvent:
		e.onBlockReceived(v)
	case blockRejectedEvent:
		e.onBlockRejected(v)
	case timerFireEvent:
		e.onTimeout(v)
	case webSeedResultEvent:
		e.onWebSeedResult(v)
	}
}

func (e *Engine) onDiscoveredPeer(found discovery.PeerFound) {
	if e.private && found.Source == peer.SourcePEX {
		return // PEX refused up-front once private is sticky
	}
	p, err := e.registry.AddCandidate(found.Addr, found.Source, found.Transport, false)
	if err != nil {
		return // duplicate/self/ignored -- not an error worth logging
	}
	p.SetState(peer.StateConnecting)
	go dialPeer(found.Addr, [20]byte(e.infoHash), e.events)
}

func (e *Engine) onPeerConnected(c *peerConn) {
	e.conns[c.id] = c
	if p := findPeer(e.registry.Active(), c.id); p != nil {
		p.SetState(peer.StateConnected)
	}
}

func (e *Engine) onExtendedHandshake(v peerHandshakeEvent) {
	if _, ok := e.conns[v.peerID]; !ok {
		return
	}
	target := findPeer(e.registry.Active(), v.peerID)
	if target == nil {
		return
	}
	target.ApplyExtendedHandshake(v.remotePeerID, v.utMetadataID, v.utPexID, v.utHolepunch)

	if v.private && !e.private {
		e.private = true
		if e.dhtSource != nil {
			e.dhtSource.Stop()
			e.dhtSource = nil
		}
	}

	if v.utMetadataID >= 0 && v.metadataSize > 0 {
		e.fixMetadataSize(v.metadataSize)
		target.MetadataSize = v.metadataSize
		target.SetState(peer.StateMetadataReady)
		e.reschedule("")
	}
}

// fixMetadataSize installs metadata_size and creates the scheduler and
// assembler the first time it is seen; later conflicting values are
// ignored, per spec.md §3/§8 Open Questions.
func (e *Engine) fixMetadataSize(size int) {
	if e.metadataSizeKnown {
		return
	}
	e.metadataSizeKnown = true
	e.asm = assembler.New(e.infoHash, size)
	e.scheduler = scheduler.New(e.asm.NumBlocks(), nil, func(peerID string, block int) {
		e.events <- timerFireEvent{peerID: peerID, block: block}
	})
	if e.config.ShowProgress {
		e.bar = newProgressBar(e.asm.NumBlocks())
	}
}

func (e *Engine) onPeerDisconnected(v peerDisconnectedEvent) {
	delete(e.conns, v.peerID)
	if p := findPeer(e.registry.Active(), v.peerID); p != nil {
		e.registry.Remove(p)
	}
}

func (e *Engine) onBlockReceived(v blockReceivedEvent) {
	if e.scheduler == nil || e.asm == nil {
		return
	}
	e.scheduler.OnPieceReceived(v.peerID, v.index)
	outcome, err := e.asm.HandleBlock(v.index, v.data)
	if err != nil {
		log.Printf("engine: block %d from %s: %v", v.index, v.peerID, err)
		return
	}
	e.applyOutcome(outcome)
	if !outcome.Done {
		e.reschedule(v.peerID)
	}
}

func (e *Engine) onBlockRejected(v blockRejectedEvent) {
	if e.scheduler == nil {
		return
	}
	e.scheduler.OnReject(v.peerID, v.index)
	e.reschedule("")
}

func (e *Engine) onTimeout(v timerFireEvent) {
	if e.scheduler == nil {
		return
	}
	e.scheduler.OnTimeout(v.peerID, v.block)
	if count := e.scheduler.RetryCount(v.block); scheduler.ShouldLogRetry(count) {
		log.Printf("engine: block %d retried %d times", v.block, count)
	}
	e.reschedule("")
}

func (e *Engine) onWebSeedResult(v webSeedResultEvent) {
	if e.scheduler == nil || e.asm == nil || v.data == nil {
		return
	}
	outcome, err := e.asm.HandleBlock(v.index, v.data)
	if err != nil {
		return
	}
	e.applyOutcome(outcome)
}

func (e *Engine) applyOutcome(outcome assembler.Outcome) {
	if !outcome.Accepted {
		return
	}
	e.blocksDone++
	if e.bar != nil {
		e.bar.Incr()
	}
	if !outcome.Done {
		e.sink.OnProgress(outcome.Progress)
		return
	}
	switch {
	case outcome.Verified:
		e.sink.OnProgress(100)
		if err := e.store.Write(e.infoHash, outcome.Buffer); err != nil {
			log.Printf("engine: writing cache: %v", err)
		}
		e.sink.OnComplete(outcome.Buffer)
		go e.Stop()
	case outcome.Restarting:
		log.Printf("engine: verification failed, starting attempt %d", outcome.Attempt)
		e.blocksDone = 0
		e.scheduler.Reset(e.asm.NumBlocks())
		e.fetcher.ResetFailureCounts()
		e.reschedule("")
	case outcome.Failed:
		e.sink.OnFailed("verification failed after max attempts")
		go e.Stop()
	}
}

// reschedule asks the scheduler for as many assignments as it can make
// against the currently metadata-ready peers, biasing toward biasedPeerID
// when one is given (the post-piece re-entry case). When no peer is
// available it falls back to the web-seed fetcher.
func (e *Engine) reschedule(biasedPeerID string) {
	if e.scheduler == nil {
		return
	}
	targets := e.availableTargets()
	if len(targets) == 0 {
		e.tryWebSeed()
		return
	}
	if biasedPeerID != "" {
		e.scheduler.ScheduleBiased(targets, biasedPeerID)
		return
	}
	e.scheduler.Schedule(targets)
}

func (e *Engine) availableTargets() []scheduler.Target {
	ready := e.registry.Available()
	targets := make([]scheduler.Target, 0, len(ready))
	for _, p := range ready {
		if c, ok := e.conns[p.Addr.String()]; ok {
			targets = append(targets, c)
		}
	}
	return targets
}

// tryWebSeed schedules the head of the block queue against the web-seed
// fetcher when no peer is currently available, keeping the download
// moving on sparse swarms.
func (e *Engine) tryWebSeed() {
	if e.fetcher == nil || !e.fetcher.HasURLs() || e.scheduler.QueueLen() == 0 {
		return
	}
	assignments := e.scheduler.Schedule([]scheduler.Target{webSeedTarget{}})
	for _, a := range assignments {
		index := a.Block
		go func() {
			data := e.fetcher.DownloadPiece(index, index*assembler.BlockSize, e.asm.BlockSize(index))
			e.events <- webSeedResultEvent{index: index, data: data}
		}()
	}
}

func (e *Engine) shutdown() {
	e.registry.SetRunning(false)
	if e.scheduler != nil {
		e.scheduler.CancelAll()
	}
	for _, c := range e.conns {
		c.Close()
	}
	e.conns = make(map[string]*peerConn)
	if e.trackerSource != nil {
		e.trackerSource.Stop()
		e.trackerSource = nil
	}
	if e.dhtSource != nil {
		e.dhtSource.Stop()
		e.dhtSource = nil
	}
	if e.bar != nil {
		uiprogress.Stop()
	}
}

func findPeer(peers []*peer.Peer, id string) *peer.Peer {
	for _, p := range peers {
		if p.Addr.String() == id {
			return p
		}
	}
	return nil
}

func newProgressBar(numBlocks int) *uiprogress.Bar {
	uiprogress.Start()
	bar := uiprogress.AddBar(numBlocks)
	bar.AppendCompleted()
	bar.AppendElapsed()
	return bar
}

// webSeedTarget adapts the web-seed fetcher to scheduler.Target so it can
// compete for the same queue as real peers when none are available. The
// actual HTTP fetch happens in Engine.tryWebSeed's goroutine, keyed off
// the assignments Schedule returns; RequestBlock itself is a no-op sentinel
// that always succeeds so the scheduler's bookkeeping (timer, in-flight
// entry) stays consistent while the fetch is outstanding.
type webSeedTarget struct{}

func (webSeedTarget) ID() string             { return "webseed" }
func (webSeedTarget) RequestBlock(int) error { return nil }
