// Package assembler owns the contiguous metadata buffer, the set of
// completed 16 KiB blocks, and the SHA-1 verification gate that either
// hands a caller a verified info dictionary or restarts the whole
// download up to a fixed number of attempts.
package assembler

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"metaget/infohash"
)

// BlockSize is the fixed size of a metadata block (BEP 9), except for the
// last block of a metadata, which may be shorter.
const BlockSize = 16 * 1024

// MaxAttempts is the number of whole-metadata download attempts before
// giving up after repeated SHA-1 verification failures.
const MaxAttempts = 3

// Outcome reports what happened to a single block and, on the final
// block, what the caller should do about it.
type Outcome struct {
	Accepted bool // false if the block was out of range, late, or a duplicate
	Progress int  // 0..100, valid when Accepted
	Done     bool // true once every block has been accepted at least once

	Verified bool   // true when Done and the SHA-1 check passed
	Buffer   []byte // the verified buffer, set iff Verified

	Restarting bool // true when Done, verification failed, and another attempt will run
	Failed     bool // true when Done, verification failed, and attempts are exhausted

	Attempt int // the attempt number in effect after this call
}

// Assembler accumulates metadata blocks for one info-hash.
type Assembler struct {
	infoHash     infohash.InfoHash
	metadataSize int
	numBlocks    int
	maxAttempts  int

	buffer    []byte
	completed blockSet
	numDone   int
	attempt   int
}

// New creates an Assembler for a metadata of the given size. metadataSize
// must already be fixed (the first extended handshake that carried one) --
// see engine.Engine for where that invariant is enforced.
func New(ih infohash.InfoHash, metadataSize int) *Assembler {
	numBlocks := (metadataSize + BlockSize - 1) / BlockSize
	return &Assembler{
		infoHash:     ih,
		metadataSize: metadataSize,
		numBlocks:    numBlocks,
		maxAttempts:  MaxAttempts,
		buffer:       make([]byte, metadataSize),
		completed:    newBlockSet(numBlocks),
		attempt:      1,
	}
}

// NumBlocks is N, the number of 16 KiB blocks in the metadata.
func (a *Assembler) NumBlocks() int { return a.numBlocks }

// BlockSize returns the size of block i, accounting for a short last block.
func (a *Assembler) BlockSize(index int) int {
	begin := index * BlockSize
	end := begin + BlockSize
	if end > a.metadataSize {
		end = a.metadataSize
	}
	return end - begin
}

// Completed reports whether block i has already been assembled.
func (a *Assembler) Completed(index int) bool {
	return a.completed.has(index)
}

// Attempt returns the current 1-indexed attempt number.
func (a *Assembler) Attempt() int { return a.attempt }

// HandleBlock copies a received block's bytes into the buffer and advances
// completion/verification state. index must already be known to be in
// [0, NumBlocks()) and not a duplicate/late arrival for it to be accepted;
// out-of-range or already-completed blocks are silently ignored.
func (a *Assembler) HandleBlock(index int, data []byte) (Outcome, error) {
	if index < 0 || index >= a.numBlocks {
		return Outcome{Accepted: false}, nil
	}
	if a.numDone >= a.numBlocks || a.completed.has(index) {
		return Outcome{Accepted: false}, nil
	}

	begin := index * BlockSize
	want := a.BlockSize(index)
	if len(data) < want {
		return Outcome{Accepted: false}, fmt.Errorf("assembler: block %d short: got %d bytes, want %d", index, len(data), want)
	}
	copy(a.buffer[begin:begin+want], data[:want])
	a.completed.set(index)
	a.numDone++

	out := Outcome{
		Accepted: true,
		Progress: 100 * a.numDone / a.numBlocks,
		Done:     a.numDone == a.numBlocks,
		Attempt:  a.attempt,
	}
	if !out.Done {
		return out, nil
	}

	if sha1.Sum(a.buffer) == [20]byte(a.infoHash) {
		out.Verified = true
		out.Buffer = append([]byte(nil), a.buffer...)
		return out, nil
	}

	if a.attempt < a.maxAttempts {
		a.restart()
		out.Restarting = true
		out.Attempt = a.attempt
		return out, nil
	}
	out.Failed = true
	return out, nil
}

// restart clears completion state and zeroes the buffer for another
// whole-metadata attempt, per the VerificationFailure recovery policy.
func (a *Assembler) restart() {
	a.attempt++
	a.numDone = 0
	a.completed.clear()
	for i := range a.buffer {
		a.buffer[i] = 0
	}
}

// Verify is a standalone SHA-1 check against arbitrary bytes, used by
// engine.Engine.Start to validate bytes read back from the cache.
func Verify(ih infohash.InfoHash, data []byte) bool {
	sum := sha1.Sum(data)
	return bytes.Equal(sum[:], ih.Bytes())
}
