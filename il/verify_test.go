// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "testing"

func TestVerifyAcceptsWellFormedDiamondWithPhi(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	boolT := p.Types().Intern(BoolType{})
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	fn := p.NewFunction("f", voidT, []TypeID{boolT})

	entry := fn.NewBlock()
	a := fn.NewBlock()
	b := fn.NewBlock()
	join := fn.NewBlock()

	e := NewEmitter(p, entry)
	e.Append(&Instruction{Op: OpBranchConditional, Args: []ValueID{fn.Params[0].ID}, Targets: []BlockID{a.ID, b.ID}})

	e.SetCursor(a, -1)
	one := &Instruction{Op: OpLiteral, Type: i32}
	e.Append(one)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{join.ID}})

	e.SetCursor(b, -1)
	two := &Instruction{Op: OpLiteral, Type: i32}
	e.Append(two)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{join.ID}})

	e.SetCursor(join, -1)
	e.Append(&Instruction{
		Op:   OpPhi,
		Type: i32,
		Aux: []PhiIncoming{
			{Value: one.Result, Pred: a.ID},
			{Value: two.Result, Pred: b.ID},
		},
	})
	e.Append(&Instruction{Op: OpReturn})

	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify() on well-formed diamond: %v", err)
	}
}

func TestVerifyRejectsPhiWithBogusPredecessor(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	fn := p.NewFunction("f", voidT, nil)

	entry := fn.NewBlock()
	stray := fn.NewBlock()

	e := NewEmitter(p, entry)
	lit := &Instruction{Op: OpLiteral, Type: i32}
	e.Append(lit)
	e.Append(&Instruction{
		Op:   OpPhi,
		Type: i32,
		Aux:  []PhiIncoming{{Value: lit.Result, Pred: stray.ID}},
	})
	e.Append(&Instruction{Op: OpReturn})

	e.SetCursor(stray, -1)
	e.Append(&Instruction{Op: OpReturn})

	if err := fn.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a phi naming a non-predecessor block")
	}
}

func TestVerifyRejectsPhiWithUnresolvedValue(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	fn := p.NewFunction("f", voidT, nil)

	entry := fn.NewBlock()
	pred := fn.NewBlock()

	e := NewEmitter(p, entry)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{pred.ID}})

	e.SetCursor(pred, -1)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{entry.ID}})

	// Re-enter entry after pred is wired up, appending a phi whose
	// incoming value is the reserved invalid sentinel (ValueID 0),
	// as a corrupted parse would produce for an unresolved operand.
	e2 := NewEmitter(p, entry)
	e2.SetCursor(entry, 0)
	e2.Append(&Instruction{
		Op:   OpPhi,
		Type: i32,
		Aux:  []PhiIncoming{{Value: ValueID(0), Pred: pred.ID}},
	})

	if err := fn.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a phi whose incoming value does not resolve")
	}
}

func TestVerifyRejectsUseBeforeDef(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	fn := p.NewFunction("f", voidT, nil)

	entry := fn.NewBlock()
	later := fn.NewBlock()

	e := NewEmitter(p, entry)
	e.Append(&Instruction{Op: OpBranch, Targets: []BlockID{later.ID}})

	e.SetCursor(later, -1)
	def := &Instruction{Op: OpLiteral, Type: i32}
	e.Append(def)
	e.Append(&Instruction{Op: OpReturn})

	// Now wire entry to use a value defined only in a block that does
	// not dominate it (later does not dominate entry).
	badUse := &Instruction{Op: OpAdd, Args: []ValueID{def.Result, def.Result}}
	e2 := NewEmitter(p, entry)
	e2.SetCursor(entry, 0)
	e2.Append(badUse)

	if err := fn.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a use whose definition does not dominate it")
	}
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	fn := p.NewFunction("f", voidT, nil)
	fn.NewBlock() // empty block, no terminator

	if err := fn.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a block with no terminator")
	}
}
