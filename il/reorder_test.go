// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "testing"

// buildDiamond builds entry -> {a, b} -> join -> ret, with blocks
// appended in a deliberately scrambled order so reordering is
// non-trivial, and returns the function plus the IDs as originally
// allocated.
func buildDiamond(t *testing.T) (*Function, map[string]BlockID) {
	t.Helper()
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	boolT := p.Types().Intern(BoolType{})
	fn := p.NewFunction("f", voidT, []TypeID{boolT})

	entry := fn.NewBlock()
	join := fn.NewBlock()
	a := fn.NewBlock()
	b := fn.NewBlock()

	e := NewEmitter(p, entry)
	e.Append(&Instruction{Op: OpBranchConditional, Args: []ValueID{fn.Params[0].ID}, Targets: []BlockID{a.ID, b.ID}})

	e.SetCursor(a, -1)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{join.ID}})

	e.SetCursor(b, -1)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{join.ID}})

	e.SetCursor(join, -1)
	e.Append(&Instruction{Op: OpReturn})

	return fn, map[string]BlockID{"entry": entry.ID, "join": join.ID, "a": a.ID, "b": b.ID}
}

func TestReorderDiamondIsAcyclicAndRespectsOrder(t *testing.T) {
	fn, ids := buildDiamond(t)
	if err := fn.ReorderByDominantBlocks(false); err != nil {
		t.Fatalf("ReorderByDominantBlocks: %v", err)
	}

	pos := make(map[BlockID]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		pos[b.ID] = i
	}
	// entry (relabeled) must still precede both branches, and both
	// branches must precede join, under the *new* IDs. Find them by
	// re-walking successors from index 0.
	if fn.Blocks[0].ID != 0 {
		t.Fatalf("expected relabeled entry to be block 0")
	}
	entrySucc := fn.Blocks[0].Successors()
	if len(entrySucc) != 2 {
		t.Fatalf("expected entry to still branch to 2 blocks, got %v", entrySucc)
	}
	for _, s := range entrySucc {
		if pos[s] <= 0 {
			t.Fatalf("expected branch target at position > 0, block %d at position %d", s, pos[s])
		}
	}
	_ = ids
}

func TestReorderLoopBackEdgeExcluded(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	boolT := p.Types().Intern(BoolType{})
	fn := p.NewFunction("f", voidT, []TypeID{boolT})

	header := fn.NewBlock()
	body := fn.NewBlock()
	exit := fn.NewBlock()

	e := NewEmitter(p, header)
	e.Append(&Instruction{
		Op:            OpBranchConditional,
		Args:          []ValueID{fn.Params[0].ID},
		Targets:       []BlockID{body.ID, exit.ID},
		HasContinue:   true,
		ContinueBlock: header.ID,
	})

	e.SetCursor(body, -1)
	// Back edge to header.
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{header.ID}})

	e.SetCursor(exit, -1)
	e.Append(&Instruction{Op: OpReturn})

	if err := fn.ReorderByDominantBlocks(true); err != nil {
		t.Fatalf("ReorderByDominantBlocks with structured back edge: %v", err)
	}
	if len(fn.Blocks) != 3 {
		t.Fatalf("expected all 3 blocks to be emitted despite the loop, got %d", len(fn.Blocks))
	}
}

func TestReorderUnstructuredLoopViaDFS(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	boolT := p.Types().Intern(BoolType{})
	fn := p.NewFunction("f", voidT, []TypeID{boolT})

	header := fn.NewBlock()
	body := fn.NewBlock()
	exit := fn.NewBlock()

	e := NewEmitter(p, header)
	e.Append(&Instruction{Op: OpBranchConditional, Args: []ValueID{fn.Params[0].ID}, Targets: []BlockID{body.ID, exit.ID}})

	e.SetCursor(body, -1)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{header.ID}}) // back edge, undeclared

	e.SetCursor(exit, -1)
	e.Append(&Instruction{Op: OpReturn})

	if err := fn.ReorderByDominantBlocks(false); err != nil {
		t.Fatalf("ReorderByDominantBlocks with DFS-discovered back edge: %v", err)
	}
	if len(fn.Blocks) != 3 {
		t.Fatalf("expected all 3 blocks to be emitted, got %d", len(fn.Blocks))
	}
}

func TestReorderStructuredCycleWithoutContinueFails(t *testing.T) {
	// Under the structured (hasControlFlow=true) classifier, only
	// edges targeting a declared ContinueBlock count as back edges.
	// A 2-cycle that never declares HasContinue is therefore
	// unresolvable: both blocks' pending forward-predecessor counts
	// stay above zero forever.
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	fn := p.NewFunction("f", voidT, nil)

	a := fn.NewBlock()
	b := fn.NewBlock()

	e := NewEmitter(p, a)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{b.ID}})
	e.SetCursor(b, -1)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{a.ID}})

	err := fn.ReorderByDominantBlocks(true)
	if err != ErrReorderFailed {
		t.Fatalf("expected ErrReorderFailed, got %v", err)
	}
}
