// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import (
	"fmt"
	"io"
)

// Debug gates the IL+DOT diagnostic dump on reorder failure. Backends
// set this from their own debug flag before calling
// Function.ReorderByDominantBlocks.
var Debug bool

// DebugSink receives the diagnostic dump when Debug is true and
// reorder fails. It defaults to nil (no dump); callers that want the
// dump captured (e.g. tests, or a backend wiring it to a log file)
// assign a io.Writer here before triggering recompilation.
var DebugSink io.Writer

// ReorderByDominantBlocks produces a topological block order
// respecting predecessor -> successor edges, appropriate for
// recompilation: every block appears after all of its non-back-edge
// predecessors.
//
// hasControlFlow selects how back edges are identified:
//   - true (structured input, e.g. parsed from SPIR's
//     OpLoopMerge/continue targets): an edge is a back edge iff its
//     target is some block's recorded ContinueBlock (merge targets
//     are not consulted). This is exact, because the original
//     bytecode told us.
//   - false (unstructured input, e.g. parsed from bitcode, which
//     carries no merge/continue decorations): back edges are
//     discovered by a depth-first traversal, classifying an edge as a
//     back edge when its target is still open (gray) on the DFS
//     stack. Join points reached by two sibling branches (the classic
//     if/else diamond) are ordinary forward edges under this scheme,
//     not back edges, so they never block the topological step.
//
// The algorithm itself is the same either way: compute a pending
// forward-predecessor count per block, repeatedly emit any block
// whose count has reached zero, and decrement the count of each of
// its forward successors. It terminates with success iff the
// resulting graph (CFG minus back edges) is acyclic; otherwise it
// returns ErrReorderFailed and the caller must abort recompilation of
// this function.
func (fn *Function) ReorderByDominantBlocks(hasControlFlow bool) error {
	n := len(fn.Blocks)
	if n == 0 {
		return nil
	}

	isBack := fn.backEdges(hasControlFlow)

	pending := make([]int, n)
	fwdSuccessors := make([][]BlockID, n)
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			if isBack[edge{b.ID, s}] {
				continue
			}
			pending[s]++
			fwdSuccessors[b.ID] = append(fwdSuccessors[b.ID], s)
		}
	}

	order := make([]*Block, 0, n)
	emitted := make([]bool, n)
	ready := make([]BlockID, 0, n)
	for i, p := range pending {
		if p == 0 {
			ready = append(ready, BlockID(i))
		}
	}

	for len(ready) > 0 {
		// Stable order: always take the lowest-ID ready block, so
		// output is deterministic across runs for identical input.
		minIdx := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[minIdx] {
				minIdx = i
			}
		}
		id := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)

		b := fn.Blocks[id]
		order = append(order, b)
		emitted[id] = true

		for _, s := range fwdSuccessors[id] {
			pending[s]--
			if pending[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) != n {
		if Debug && DebugSink != nil {
			fn.dumpDiagnostic(DebugSink, emitted)
		}
		return ErrReorderFailed
	}
	fn.Blocks = order
	for i, b := range fn.Blocks {
		b.ID = BlockID(i)
	}
	return nil
}

type edge struct {
	from, to BlockID
}

// backEdges classifies every CFG edge of fn as a back edge or not.
func (fn *Function) backEdges(hasControlFlow bool) map[edge]bool {
	back := make(map[edge]bool)
	if hasControlFlow {
		loopTargets := make(map[BlockID]bool)
		for _, b := range fn.Blocks {
			t := b.Terminator()
			if t == nil {
				continue
			}
			if t.HasContinue {
				loopTargets[t.ContinueBlock] = true
			}
		}
		for _, b := range fn.Blocks {
			for _, s := range b.Successors() {
				if loopTargets[s] {
					back[edge{b.ID, s}] = true
				}
			}
		}
		return back
	}

	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(fn.Blocks))
	var visit func(id BlockID)
	visit = func(id BlockID) {
		color[id] = gray
		for _, s := range fn.Blocks[id].Successors() {
			switch color[s] {
			case white:
				visit(s)
			case gray:
				back[edge{id, s}] = true
			}
		}
		color[id] = black
	}
	for _, b := range fn.Blocks {
		if color[b.ID] == white {
			visit(b.ID)
		}
	}
	return back
}

// dumpDiagnostic writes the IL of fn, followed by a DOT graph of its
// CFG, to w. It is invoked only when Debug is set and reorder fails.
func (fn *Function) dumpDiagnostic(w io.Writer, emitted []bool) {
	fmt.Fprintf(w, "; function %s: reorder failed\n", fn.Name)
	for _, b := range fn.Blocks {
		status := "pending"
		if emitted[b.ID] {
			status = "emitted"
		}
		fmt.Fprintf(w, "block %d (%s):\n", b.ID, status)
		for _, in := range b.Instrs {
			fmt.Fprintf(w, "  %%%d = op%d %v\n", in.Result, in.Op, in.Args)
		}
	}
	fmt.Fprintf(w, "\ndigraph cfg {\n")
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			fmt.Fprintf(w, "  b%d -> b%d;\n", b.ID, s)
		}
	}
	fmt.Fprintf(w, "}\n")
}
