// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package export provides the GPU→CPU transport for feature export
// messages: a pool of segments (GPU counter + stream buffers bound
// one-per-command-list-submission), per-command-list stream state
// with descriptor-bind idempotency, and the per-queue drain loop that
// turns a completed segment's counters into a message blob.
package export

import (
	"errors"
	"sync"

	"github.com/gviegas/shaderprobe/driver"
	"github.com/gviegas/shaderprobe/internal/bitm"
)

const prefix = "export: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// Errors returned by Pool and Segment operations.
var (
	ErrSegmentPoolExhausted = newErr("segment pool exhausted")
)

// SegmentState is a segment's position in its lifecycle (§3's "Export
// stream segment" invariant): a segment is readable by the host only
// once it reaches Drained.
type SegmentState int

// Segment lifecycle states.
const (
	Free SegmentState = iota
	Recording
	Submitted
	Drained
)

// Segment is bound one-per-submission-of-a-command-list: it owns the
// GPU-visible counter buffer and the per-feature-schema stream
// buffers a recording command list writes export keys into.
type Segment struct {
	index int

	Counter driver.Buffer
	Streams []driver.Buffer

	state       SegmentState
	fence       driver.Fence
	fenceTarget uint64
}

// State reports seg's current lifecycle position.
func (seg *Segment) State() SegmentState { return seg.state }

// enqueue assigns seg's fence and target and advances it to
// Submitted. It panics if seg already has a fence assigned:
// double-enqueue is a programmer bug per §7's "fence wait underflow
// / re-entrance" rule, not a recoverable error.
func (seg *Segment) enqueue(fence driver.Fence, target uint64) {
	if seg.fence != nil {
		panic(prefix + "Enqueue: segment fence already set")
	}
	seg.fence = fence
	seg.fenceTarget = target
	seg.state = Submitted
}

// Pool is the fixed-capacity set of Segments a device owns across
// their entire lifetime: segments are recycled through a free-list
// bitmap rather than allocated and destroyed per submission, mirroring
// `internal/bitm`'s documented use for "free list implementations".
// GPU resources are created lazily on first use of a given slot and
// then kept for the pool's lifetime.
type Pool struct {
	mu   sync.Mutex
	free bitm.Bitm[uint32]
	segs []*Segment

	nstream    int
	newCounter func() (driver.Buffer, error)
	newStream  func() (driver.Buffer, error)
}

// NewPool creates a segment pool with room for capacity segments,
// each with nstream physical stream buffers. newCounter/newStream
// allocate the GPU-visible buffers backing a segment the first time
// its slot is used; tests substitute fakes for these.
func NewPool(capacity, nstream int, newCounter, newStream func() (driver.Buffer, error)) *Pool {
	p := &Pool{
		segs:       make([]*Segment, capacity),
		nstream:    nstream,
		newCounter: newCounter,
		newStream:  newStream,
	}
	p.free.Grow((capacity + 31) / 32)
	return p
}

// Acquire pops a free segment, lazily creating its GPU buffers on
// first use, and marks it Recording.
func (p *Pool) Acquire() (*Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.free.Search()
	if !ok || idx >= len(p.segs) {
		return nil, ErrSegmentPoolExhausted
	}

	seg := p.segs[idx]
	if seg == nil {
		counter, err := p.newCounter()
		if err != nil {
			return nil, err
		}
		streams := make([]driver.Buffer, p.nstream)
		for i := range streams {
			sb, err := p.newStream()
			if err != nil {
				return nil, err
			}
			streams[i] = sb
		}
		seg = &Segment{index: idx, Counter: counter, Streams: streams}
		p.segs[idx] = seg
	}

	p.free.Set(idx)
	seg.state = Recording
	seg.fence = nil
	seg.fenceTarget = 0
	return seg, nil
}

// Release returns seg to Free, ready for reuse by a later Acquire.
// It is the caller's responsibility to have already drained seg's
// data; Release does not clear buffer contents (the next Recording
// pass overwrites what it needs).
func (p *Pool) Release(seg *Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg.state = Free
	p.free.Unset(seg.index)
}
