// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "fmt"

// Verify checks the IL invariants listed in the design's testable
// properties: every non-terminator operand is a constant, a
// parameter, a global, or an instruction whose defining block
// dominates the use; every phi's predecessors are genuine
// predecessors of the phi's block; and every block ends in exactly
// one terminator whose targets name blocks of the same function.
//
// Verify assumes fn.Blocks is already in a valid emission order (i.e.
// ReorderByDominantBlocks has succeeded, or the function was built in
// an already-valid order); it does not reorder.
func (fn *Function) Verify() error {
	n := len(fn.Blocks)
	idx := make(map[BlockID]int, n)
	for i, b := range fn.Blocks {
		idx[b.ID] = i
	}

	preds := make(map[BlockID][]BlockID)
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			preds[s] = append(preds[s], b.ID)
		}
	}

	dom := fn.dominance(idx)

	for bi, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			return fmt.Errorf("il: block %d is empty (missing terminator)", b.ID)
		}
		for ii, in := range b.Instrs {
			isLast := ii == len(b.Instrs)-1
			if in.Op.IsTerminator() != isLast {
				if isLast {
					return fmt.Errorf("il: block %d does not end in a terminator", b.ID)
				}
				return fmt.Errorf("il: block %d has a terminator before its last instruction", b.ID)
			}
			if in.Op == OpPhi {
				for _, inc := range in.Incoming() {
					if !containsBlock(preds[b.ID], inc.Pred) {
						return fmt.Errorf("il: phi %%%d in block %d names %d as predecessor, which is not",
							in.Result, b.ID, inc.Pred)
					}
					if _, ok := fn.prog.Resolve(inc.Value); !ok {
						return fmt.Errorf("il: phi %%%d in block %d references unknown value %%%d",
							in.Result, b.ID, inc.Value)
					}
				}
				continue // phi operands are exempt from the dominance check below
			}
			for _, arg := range in.Args {
				kind, ok := fn.prog.Resolve(arg)
				if !ok {
					return fmt.Errorf("il: instruction %%%d in block %d references unknown value %%%d",
						in.Result, b.ID, arg)
				}
				if kind != DefInstr {
					continue // params and globals always dominate
				}
				def, _ := fn.prog.InstrOf(arg)
				defBlock := fn.blockOf(def)
				if defBlock < 0 {
					continue // defined in another function: not our concern here
				}
				if !dom[bi][defBlock] {
					return fmt.Errorf("il: instruction %%%d in block %d uses %%%d, whose defining block %d does not dominate it",
						in.Result, b.ID, arg, fn.Blocks[defBlock].ID)
				}
			}
		}
		for _, s := range b.Successors() {
			if _, ok := idx[s]; !ok {
				return fmt.Errorf("il: block %d's terminator targets block %d, not part of this function", b.ID, s)
			}
		}
	}
	return nil
}

func containsBlock(s []BlockID, v BlockID) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// blockOf returns the index (in fn.Blocks) of the block that owns
// instr, or -1 if instr does not belong to fn.
func (fn *Function) blockOf(instr *Instruction) int {
	for i, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in == instr {
				return i
			}
		}
	}
	return -1
}

// dominance computes the standard iterative dominator sets over
// fn.Blocks in its current order, treating Blocks[0] as the entry.
// dom[i] is the set of block indices that dominate block i (i itself
// included).
func (fn *Function) dominance(idx map[BlockID]int) [][]bool {
	n := len(fn.Blocks)
	dom := make([][]bool, n)
	all := make([]bool, n)
	for i := range all {
		all[i] = true
	}
	for i := range dom {
		dom[i] = append([]bool(nil), all...)
	}
	if n == 0 {
		return dom
	}
	dom[0] = make([]bool, n)
	dom[0][0] = true

	preds := make([][]int, n)
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			if si, ok := idx[s]; ok {
				preds[si] = append(preds[si], idx[b.ID])
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for i := 1; i < n; i++ {
			if len(preds[i]) == 0 {
				continue
			}
			next := append([]bool(nil), all...)
			for _, p := range preds[i] {
				for j := range next {
					next[j] = next[j] && dom[p][j]
				}
			}
			next[i] = true
			if !equalBoolSlice(next, dom[i]) {
				dom[i] = next
				changed = true
			}
		}
	}
	return dom
}

func equalBoolSlice(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
