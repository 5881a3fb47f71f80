// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package export

import (
	"encoding/binary"
	"testing"

	"github.com/gviegas/shaderprobe/driver"
)

// fakeBuffer is a host-visible driver.Buffer backed by a plain slice.
type fakeBuffer struct {
	data []byte
}

func newFakeBuffer(size int64) *fakeBuffer { return &fakeBuffer{data: make([]byte, size)} }

func (b *fakeBuffer) Bytes() []byte  { return b.data }
func (b *fakeBuffer) Cap() int64     { return int64(len(b.data)) }
func (b *fakeBuffer) Destroy()       {}

// fakePipeline is a driver.Pipeline with a caller-set layout hash.
type fakePipeline struct{ hash uint64 }

func (p *fakePipeline) Destroy()          {}
func (p *fakePipeline) LayoutHash() uint64 { return p.hash }

// fakeFence is a driver.Fence whose Completed value the test controls
// directly, modeling a GPU queue that has processed up to Completed.
type fakeFence struct {
	next      uint64
	completed uint64
}

func (f *fakeFence) Commit() uint64    { f.next++; return f.next }
func (f *fakeFence) Completed() uint64  { return f.completed }

func newPool(t *testing.T, capacity, nstream int, counterSize, streamSize int64) *Pool {
	t.Helper()
	return NewPool(capacity, nstream,
		func() (driver.Buffer, error) { return newFakeBuffer(counterSize), nil },
		func() (driver.Buffer, error) { return newFakeBuffer(streamSize), nil },
	)
}

func TestPoolAcquireReleaseRecyclesSameBuffers(t *testing.T) {
	p := newPool(t, 2, 1, 16, 64)

	seg, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if seg.State() != Recording {
		t.Fatalf("State() = %v, want Recording", seg.State())
	}
	firstCounter := seg.Counter
	p.Release(seg)
	if seg.State() != Free {
		t.Fatalf("State() = %v, want Free", seg.State())
	}

	seg2, err := p.Acquire()
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if seg2.Counter != firstCounter {
		t.Fatalf("expected Acquire to reuse the same GPU buffer across a Release/Acquire cycle")
	}
}

func TestPoolAcquireExhaustedReturnsError(t *testing.T) {
	p := newPool(t, 1, 1, 16, 64)
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := p.Acquire(); err != ErrSegmentPoolExhausted {
		t.Fatalf("second Acquire err = %v, want ErrSegmentPoolExhausted", err)
	}
}

func TestQueueProcessStopsAtFirstUnreadySegment(t *testing.T) {
	p := newPool(t, 2, 1, 16, 64)
	fence := &fakeFence{}
	q := NewQueue(fence, p)

	segA, _ := p.Acquire()
	q.Enqueue(segA) // fence target 1
	segB, _ := p.Acquire()
	q.Enqueue(segB) // fence target 2

	var drained []*Segment
	fence.completed = 1
	q.Process(func(b MessageBlob) { drained = append(drained, b.Segment) })

	if len(drained) != 1 || drained[0] != segA {
		t.Fatalf("expected only the first segment to drain, got %v", drained)
	}
	if segA.State() != Free {
		t.Fatalf("segA.State() = %v, want Free (drained and released back to the pool)", segA.State())
	}
	if segB.State() != Submitted {
		t.Fatalf("segB.State() = %v, want Submitted (not yet completed)", segB.State())
	}

	fence.completed = 2
	q.Process(func(b MessageBlob) { drained = append(drained, b.Segment) })
	if len(drained) != 2 || drained[1] != segB {
		t.Fatalf("expected the second segment to drain once its fence completed")
	}
}

func TestQueueProcessClampsCounterToStreamCapacity(t *testing.T) {
	p := newPool(t, 1, 1, 16, 8) // one stream, 8 bytes = 2 words capacity
	fence := &fakeFence{completed: 1}
	q := NewQueue(fence, p)

	seg, _ := p.Acquire()
	binary.LittleEndian.PutUint32(seg.Counter.Bytes()[0:4], 5) // GPU claims 5 events, only room for 2
	binary.LittleEndian.PutUint32(seg.Streams[0].Bytes()[0:4], 0xAAAA_AAAA)
	binary.LittleEndian.PutUint32(seg.Streams[0].Bytes()[4:8], 0xBBBB_BBBB)
	q.Enqueue(seg)

	var blob MessageBlob
	q.Process(func(b MessageBlob) { blob = b })

	if blob.Counters[0] != 2 {
		t.Fatalf("Counters[0] = %d, want clamped to 2", blob.Counters[0])
	}
	if !blob.Overflowed[0] {
		t.Fatalf("expected Overflowed[0] to be set when the logical count exceeds capacity")
	}
	if len(blob.StreamWords[0]) != 2 {
		t.Fatalf("expected 2 words copied out, got %d", len(blob.StreamWords[0]))
	}
}

func TestStreamStateSkipsRebindOnUnchangedLayout(t *testing.T) {
	s := NewStreamState(nil)
	pl := &fakePipeline{hash: 7}

	if !s.OnPipelineBind(Compute, pl) {
		t.Fatalf("expected the first bind of a pipeline type to require a rebind")
	}
	if s.OnPipelineBind(Compute, pl) {
		t.Fatalf("expected a second bind with the same layout hash to skip rebinding")
	}

	pl2 := &fakePipeline{hash: 9}
	if !s.OnPipelineBind(Compute, pl2) {
		t.Fatalf("expected a changed layout hash to require a rebind")
	}
}

func TestStreamStateDescriptorHeapChangeForcesRebind(t *testing.T) {
	s := NewStreamState(nil)
	pl := &fakePipeline{hash: 1}
	s.OnPipelineBind(Graphics, pl)

	s.OnDescriptorHeapChange()

	if !s.OnPipelineBind(Graphics, pl) {
		t.Fatalf("expected a descriptor heap change to force the next bind of the same pipeline")
	}
}
