// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package export

import (
	"sync"

	"github.com/gviegas/shaderprobe/driver"
)

// PipelineType distinguishes the compute and graphics root-layout
// bind points, which are bound (and therefore idempotency-tracked)
// independently.
type PipelineType int

// Pipeline bind points.
const (
	Compute PipelineType = iota
	Graphics
)

// StreamState is bound one-per-command-list: it tracks, per pipeline
// type, the layout hash of the last pipeline whose export descriptor
// table was bound, so a recording thread only re-binds the table when
// it actually needs to (§4.6's bind-idempotency rule). A zero
// StreamState is not ready for use; call NewStreamState.
type StreamState struct {
	Segment *Segment

	mu     sync.Mutex
	layout [2]uint64
	bound  [2]bool
}

// NewStreamState creates a StreamState bound to seg, the segment the
// associated command list will record export writes into.
func NewStreamState(seg *Segment) *StreamState {
	return &StreamState{Segment: seg}
}

// OnDescriptorHeapChange clears every pipeline type's bind state, per
// §4.6: a new descriptor heap invalidates every descriptor table
// bound against the old one, so the next pipeline bind of each type
// must re-bind the export descriptor table regardless of layout hash.
func (s *StreamState) OnDescriptorHeapChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[Compute] = false
	s.bound[Graphics] = false
}

// OnRootSignatureBind clears pt's bind state: binding a new root
// signature invalidates whatever export descriptor table was bound
// under the previous one for that pipeline type, even if the next
// pipeline bound under it happens to share the previous layout hash.
func (s *StreamState) OnRootSignatureBind(pt PipelineType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound[pt] = false
}

// OnPipelineBind reports whether cmd must (re)bind the export
// descriptor table for pt, given pl's layout hash: true the first
// time pt is seen (or after OnDescriptorHeapChange/
// OnRootSignatureBind clears it), or whenever pl's hash differs from
// the hash recorded at the last bind; false when the hash is
// unchanged, so the caller can skip a redundant SetDescTableComp.
func (s *StreamState) OnPipelineBind(pt PipelineType, pl driver.Pipeline) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := pl.LayoutHash()
	if s.bound[pt] && s.layout[pt] == hash {
		return false
	}
	s.layout[pt] = hash
	s.bound[pt] = true
	return true
}
