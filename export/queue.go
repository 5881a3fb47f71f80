// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package export

import (
	"encoding/binary"
	"sync"

	"github.com/gviegas/shaderprobe/driver"
)

// MessageBlob is one drained segment's worth of per-stream export
// data: the logical event count written by the GPU, clamped to the
// stream's physical word capacity, and the clamped words themselves.
// Counters above capacity set Overflowed and are reported via the
// high-water-mark the caller tracks across blobs (§3's segment
// invariants, §8's clamped-overflow property).
type MessageBlob struct {
	Segment     *Segment
	Counters    []uint32
	Overflowed  []bool
	StreamWords [][]uint32
}

// Queue is a GPU queue's live-segment FIFO: segments are enqueued in
// submission order and drained in the same order, so a segment whose
// fence has not yet completed blocks every segment behind it from
// being reported (§5's per-queue ordering guarantee). The mutex is
// the queue-list's view lock: Enqueue and Process may be called from
// different goroutines (a recording thread and a poll thread).
type Queue struct {
	mu    sync.Mutex
	fence driver.Fence
	live  []*Segment
	pool  *Pool
}

// NewQueue creates a drain queue for one GPU queue, backed by fence
// for completion tracking and pool for segment recycling.
func NewQueue(fence driver.Fence, pool *Pool) *Queue {
	return &Queue{fence: fence, pool: pool}
}

// Enqueue reserves the next fence value for seg and appends it to
// the live list, per §4.6's "Lifecycle per submission" step 3. seg
// must have come from pool.Acquire and must not already be enqueued.
func (q *Queue) Enqueue(seg *Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	seg.enqueue(q.fence, q.fence.Commit())
	q.live = append(q.live, seg)
}

// Process walks q's live segments in submission order, stopping at
// the first whose fence has not reached its target. Every ready
// segment is drained, handed to sink as a MessageBlob, transitioned
// to Drained, and released back to its pool. Process never blocks: a
// fence read is a non-blocking peek, matching §4.6's requirement that
// draining never stalls a GPU queue.
func (q *Queue) Process(sink func(MessageBlob)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	completed := q.fence.Completed()
	i := 0
	for ; i < len(q.live); i++ {
		seg := q.live[i]
		if seg.fenceTarget > completed {
			break
		}
		sink(drain(seg))
		seg.state = Drained
		q.pool.Release(seg)
	}
	q.live = q.live[i:]
}

// drain reads seg's counter buffer and, for each stream, clamps the
// logical count the GPU wrote to the stream's physical word capacity
// before copying out the words actually present.
func drain(seg *Segment) MessageBlob {
	n := len(seg.Streams)
	blob := MessageBlob{
		Segment:     seg,
		Counters:    make([]uint32, n),
		Overflowed:  make([]bool, n),
		StreamWords: make([][]uint32, n),
	}

	counterBytes := seg.Counter.Bytes()
	for i, stream := range seg.Streams {
		var raw uint32
		if off := i * 4; off+4 <= len(counterBytes) {
			raw = binary.LittleEndian.Uint32(counterBytes[off : off+4])
		}

		capWords := uint32(stream.Cap() / 4)
		clamped := raw
		if clamped > capWords {
			blob.Overflowed[i] = true
			clamped = capWords
		}
		blob.Counters[i] = clamped

		words := make([]uint32, clamped)
		data := stream.Bytes()
		for w := uint32(0); w < clamped; w++ {
			words[w] = binary.LittleEndian.Uint32(data[w*4 : w*4+4])
		}
		blob.StreamWords[i] = words
	}
	return blob
}
