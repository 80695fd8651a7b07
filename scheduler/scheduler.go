// Package scheduler assigns metadata block requests to available peers,
// tracks one retry timer per (peer, block) pair, and re-enters itself on
// every scheduling opportunity: a newly metadata-ready peer, a successful
// piece, a rejected piece, or a timer fire.
package scheduler

import "time"

// baseTimeout, retryStep and maxTimeout implement the per-block timeout:
// 10s plus 5s per prior retry of that block, capped at 30s.
const (
	baseTimeout  = 10 * time.Second
	retryStep    = 5 * time.Second
	maxTimeout   = 30 * time.Second
	retryLogAt   = 3
)

// Target is the minimal peer-side surface the scheduler needs: identity
// for timer keys, and a way to emit a block request.
type Target interface {
	ID() string
	RequestBlock(index int) error
}

// Canceler stops a pending timer; implementations must tolerate being
// called after the timer has already fired.
type Canceler interface {
	Stop() bool
}

// TimerFunc starts a timer that calls fire after d elapses, for the given
// peer/block key. The default (time.AfterFunc-based) implementation is
// installed by New; tests inject a deterministic fake.
type TimerFunc func(d time.Duration, fire func()) Canceler

type timerKey struct {
	peerID string
	block  int
}

// Assignment is one block request handed to a peer by Schedule.
type Assignment struct {
	PeerID string
	Block  int
}

// Scheduler owns the block queue and in-flight timer map for one metadata
// download attempt.
type Scheduler struct {
	queue     []int
	inFlight  map[timerKey]bool
	retries   map[int]int
	timers    map[timerKey]Canceler
	newTimer  TimerFunc
	onTimeout func(peerID string, block int)
}

// New creates a Scheduler with its queue pre-filled with 0..n-1.
// onTimeout is invoked (via the supplied TimerFunc) when a block's timer
// fires; the caller is expected to call OnTimeout in response and then
// re-enter Schedule.
func New(n int, newTimer TimerFunc, onTimeout func(peerID string, block int)) *Scheduler {
	if newTimer == nil {
		newTimer = func(d time.Duration, fire func()) Canceler {
			return time.AfterFunc(d, fire)
		}
	}
	s := &Scheduler{
		inFlight:  make(map[timerKey]bool),
		retries:   make(map[int]int),
		timers:    make(map[timerKey]Canceler),
		newTimer:  newTimer,
		onTimeout: onTimeout,
	}
	s.Reset(n)
	return s
}

// Reset clears all queue/in-flight/timer/retry state and refills the
// queue with every block index, used for the whole-metadata restart on a
// verification failure.
func (s *Scheduler) Reset(n int) {
	s.CancelAll()
	s.queue = make([]int, n)
	for i := range s.queue {
		s.queue[i] = i
	}
	s.inFlight = make(map[timerKey]bool)
	s.retries = make(map[int]int)
}

// CancelAll stops every pending timer and clears the in-flight set,
// without touching the queue. Used by Reset and by engine shutdown.
func (s *Scheduler) CancelAll() {
	for k, c := range s.timers {
		c.Stop()
		delete(s.timers, k)
	}
	s.inFlight = make(map[timerKey]bool)
}

// QueueLen and InFlightLen expose the partition sizes used by the
// invariant |queue| + |in-flight| + |completed| == N.
func (s *Scheduler) QueueLen() int    { return len(s.queue) }
func (s *Scheduler) InFlightLen() int { return len(s.inFlight) }

// Schedule issues as many requests as min(|queue|, |available|), assigning
// distinct peers from available in round-robin order.
func (s *Scheduler) Schedule(available []Target) []Assignment {
	return s.schedule(available, "")
}

// ScheduleBiased is like Schedule but, when possible, gives biasedPeerID
// the first assignment -- used after a successful piece response to keep
// that peer's pipeline full.
func (s *Scheduler) ScheduleBiased(available []Target, biasedPeerID string) []Assignment {
	return s.schedule(available, biasedPeerID)
}

func (s *Scheduler) schedule(available []Target, biasedPeerID string) []Assignment {
	if len(available) == 0 || len(s.queue) == 0 {
		return nil
	}
	ordered := available
	if biasedPeerID != "" {
		ordered = reorderBiased(available, biasedPeerID)
	}

	count := len(s.queue)
	if len(ordered) < count {
		count = len(ordered)
	}

	assignments := make([]Assignment, 0, count)
	for i := 0; i < count; i++ {
		peer := ordered[i%len(ordered)]
		block := s.queue[0]
		s.queue = s.queue[1:]

		key := timerKey{peerID: peer.ID(), block: block}
		s.inFlight[key] = true
		s.installTimer(key)

		if err := peer.RequestBlock(block); err != nil {
			// Peer is unreachable right now; treat exactly like a timeout
			// so the block is retried and the timer/in-flight entry stay
			// consistent with the partition invariant.
			s.OnTimeout(peer.ID(), block)
			continue
		}
		assignments = append(assignments, Assignment{PeerID: peer.ID(), Block: block})
	}
	return assignments
}

func reorderBiased(available []Target, biasedPeerID string) []Target {
	out := make([]Target, 0, len(available))
	for _, t := range available {
		if t.ID() == biasedPeerID {
			out = append(out, t)
		}
	}
	for _, t := range available {
		if t.ID() != biasedPeerID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Scheduler) installTimer(key timerKey) {
	timeout := baseTimeout + time.Duration(s.retries[key.block])*retryStep
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	s.timers[key] = s.newTimer(timeout, func() {
		if s.onTimeout != nil {
			s.onTimeout(key.peerID, key.block)
		}
	})
}

// OnPieceReceived cancels (q,p)'s timer, clears p's retry count, and
// removes it from in-flight. The caller re-enters scheduling (typically
// via ScheduleBiased(available, q)) afterward.
func (s *Scheduler) OnPieceReceived(peerID string, block int) {
	s.cancelAndRemove(peerID, block)
	delete(s.retries, block)
}

// OnReject returns the block to the queue tail, cancels its timer, and
// removes it from in-flight. The caller re-enters scheduling (without
// peer bias) afterward.
func (s *Scheduler) OnReject(peerID string, block int) {
	s.cancelAndRemove(peerID, block)
	s.queue = append(s.queue, block)
}

// OnTimeout reinserts the block at the queue tail, increments its retry
// count, and removes the fired timer entry. A late fire for a block whose
// timer was already cancelled (e.g. because it completed) finds no
// in-flight entry and is a no-op.
func (s *Scheduler) OnTimeout(peerID string, block int) {
	key := timerKey{peerID: peerID, block: block}
	if !s.inFlight[key] {
		return
	}
	delete(s.inFlight, key)
	delete(s.timers, key)
	s.retries[block]++
	s.queue = append(s.queue, block)
}

// RetryCount reports how many times a block has timed out so far.
func (s *Scheduler) RetryCount(block int) int {
	return s.retries[block]
}

// ShouldLogRetry reports whether a block's retry count has reached the
// threshold worth a log line (retries are never halted because of it).
func ShouldLogRetry(count int) bool {
	return count >= retryLogAt
}

func (s *Scheduler) cancelAndRemove(peerID string, block int) {
	key := timerKey{peerID: peerID, block: block}
	if c, ok := s.timers[key]; ok {
		c.Stop()
		delete(s.timers, key)
	}
	delete(s.inFlight, key)
}
