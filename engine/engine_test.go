package engine

import (
	"crypto/sha1"
	"sync"
	"testing"
	"time"

	"metaget/cache"
	"metaget/discovery"
	"metaget/infohash"
	"metaget/magnet"
	"metaget/peer"
)

type fakeDHTSource struct {
	stopped bool
}

func (f *fakeDHTSource) Run(out chan<- discovery.PeerFound) error { return nil }
func (f *fakeDHTSource) Stop()                                    { f.stopped = true }

type recordingSink struct {
	progress []int
	complete []byte
	failed   string
}

func (r *recordingSink) OnProgress(percent int)     { r.progress = append(r.progress, percent) }
func (r *recordingSink) OnComplete(metadata []byte) { r.complete = metadata }
func (r *recordingSink) OnFailed(reason string)     { r.failed = reason }

func testDescriptor(t *testing.T) *magnet.Descriptor {
	t.Helper()
	ih, err := infohash.Parse("0123456789abcdef0123456789abcdef01234567")
	if err != nil {
		t.Fatalf("infohash.Parse: %v", err)
	}
	return &magnet.Descriptor{InfoHash: ih}
}

func noDiscoveryConfig(dir string) Config {
	return Config{UseTrackers: false, UseDHT: false, ShowProgress: false, CacheDir: dir}
}

func TestStartCacheHitCompletesWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	want := []byte("cached info dictionary bytes exceeding nothing in particular")
	// The cache only ever holds verified metadata, so the descriptor's
	// info-hash is the SHA-1 of the cached bytes.
	d := &magnet.Descriptor{InfoHash: infohash.InfoHash(sha1.Sum(want))}
	if err := store.Write(d.InfoHash, want); err != nil {
		t.Fatalf("store.Write: %v", err)
	}

	sink := &recordingSink{}
	e := New(d, noDiscoveryConfig(dir), store, sink)
	e.Start()

	if string(sink.complete) != string(want) {
		t.Fatalf("OnComplete got %q, want %q", sink.complete, want)
	}
	if e.state != Idle {
		t.Fatalf("state = %v, want Idle after a cache-hit completion", e.state)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	d := testDescriptor(t)
	e := New(d, noDiscoveryConfig(dir), store, nil)

	e.Start()
	time.Sleep(10 * time.Millisecond)
	e.Start() // second call must be a no-op, not a second event loop

	e.Stop()
}

func TestStopAfterStopIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	d := testDescriptor(t)
	e := New(d, noDiscoveryConfig(dir), store, nil)

	e.Start()
	e.Stop()
	e.Stop() // must not block or panic
}

func TestConcurrentStopDoesNotDoubleCloseStopChannel(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	d := testDescriptor(t)
	e := New(d, noDiscoveryConfig(dir), store, nil)
	e.Start()

	// Mimics a caller's Stop (e.g. a SIGINT handler) racing the engine's
	// own internally-triggered `go e.Stop()` on a terminal outcome: both
	// goroutines call Stop concurrently, and neither may panic closing
	// an already-closed e.stop.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
}

func TestFixMetadataSizeIsAppliedOnce(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	d := testDescriptor(t)
	e := New(d, noDiscoveryConfig(dir), store, nil)

	e.fixMetadataSize(32768)
	firstAsm := e.asm
	e.fixMetadataSize(16384) // conflicting size, must be ignored

	if e.asm != firstAsm {
		t.Fatal("fixMetadataSize replaced the assembler on a second call")
	}
	if e.asm.NumBlocks() != 2 {
		t.Fatalf("NumBlocks() = %d, want 2 (from the first metadata_size)", e.asm.NumBlocks())
	}
}

func TestPrivateHandshakeStopsDHTAndRejectsLaterPEXCandidates(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	d := testDescriptor(t)
	e := New(d, noDiscoveryConfig(dir), store, nil)
	e.registry.SetRunning(true)

	fake := &fakeDHTSource{}
	e.dhtSource = fake

	addr := peer.Addr{IP: "1.2.3.4", Port: 6881}
	p, err := e.registry.AddCandidate(addr, peer.SourceTracker, peer.TransportTCP, false)
	if err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	p.SetState(peer.StateConnected)
	e.conns[addr.String()] = &peerConn{id: addr.String()}

	e.onExtendedHandshake(peerHandshakeEvent{
		peerID:       addr.String(),
		utMetadataID: -1,
		utPexID:      -1,
		utHolepunch:  -1,
		private:      true,
	})

	if !e.private {
		t.Fatal("expected e.private to become sticky after a private handshake")
	}
	if !fake.stopped {
		t.Fatal("expected the DHT source to be stopped once the torrent is known private")
	}
	if e.dhtSource != nil {
		t.Fatal("expected e.dhtSource to be nilled out after stopping")
	}

	// A PEX-sourced candidate arriving after the private flag is sticky
	// must never reach the registry.
	before := e.registry.Len()
	e.onDiscoveredPeer(discovery.PeerFound{
		Addr:      peer.Addr{IP: "198.51.100.1", Port: 6881},
		Source:    peer.SourcePEX,
		Transport: peer.TransportTCP,
	})
	if e.registry.Len() != before {
		t.Fatalf("registry.Len() = %d, want unchanged %d: a PEX candidate was admitted after private went sticky", e.registry.Len(), before)
	}

	// A tracker-sourced candidate is still allowed -- only PEX is gated.
	e.onDiscoveredPeer(discovery.PeerFound{
		Addr:      peer.Addr{IP: "192.0.2.1", Port: 6881},
		Source:    peer.SourceTracker,
		Transport: peer.TransportTCP,
	})
	if e.registry.Len() != before+1 {
		t.Fatalf("registry.Len() = %d, want %d: a tracker-sourced candidate should still be admitted", e.registry.Len(), before+1)
	}
}

func TestNewDefaultsToNopEventSink(t *testing.T) {
	dir := t.TempDir()
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("cache.NewStore: %v", err)
	}
	e := New(testDescriptor(t), noDiscoveryConfig(dir), store, nil)
	if e.sink == nil {
		t.Fatal("expected a default NopEventSink, got nil")
	}
}
