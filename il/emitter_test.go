// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "testing"

func newArithFunc(t *testing.T) (*Program, *Function, *Block, TypeID) {
	t.Helper()
	p := NewProgram()
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	voidT := p.Types().Intern(VoidType{})
	fn := p.NewFunction("f", voidT, []TypeID{i32, i32})
	b := fn.NewBlock()
	return p, fn, b, i32
}

func TestAppendAllocatesResultAndDerivesType(t *testing.T) {
	p, fn, b, i32 := newArithFunc(t)
	e := NewEmitter(p, b)

	add := &Instruction{Op: OpAdd, Args: []ValueID{fn.Params[0].ID, fn.Params[1].ID}}
	id := e.Append(add)
	if !id.Valid() {
		t.Fatalf("expected Append to allocate a valid result ID for OpAdd")
	}
	if add.Type != i32 {
		t.Fatalf("expected derived type %d (first operand's type), got %d", i32, add.Type)
	}

	cmp := &Instruction{Op: OpLt, Args: []ValueID{fn.Params[0].ID, fn.Params[1].ID}}
	e.Append(cmp)
	boolT := p.Types().Intern(BoolType{})
	if cmp.Type != boolT {
		t.Fatalf("expected comparison result type to be BoolType, got %d want %d", cmp.Type, boolT)
	}
}

func TestAppendNoResultForStore(t *testing.T) {
	p, _, b, _ := newArithFunc(t)
	e := NewEmitter(p, b)
	st := &Instruction{Op: OpStore}
	id := e.Append(st)
	if id.Valid() {
		t.Fatalf("expected OpStore to produce no result ID, got %d", id)
	}
}

func TestAppendInsertsAtCursor(t *testing.T) {
	p, _, b, _ := newArithFunc(t)
	e := NewEmitter(p, b)

	first := &Instruction{Op: OpLiteral}
	e.Append(first)
	third := &Instruction{Op: OpLiteral}
	e.Append(third)

	e.SetCursor(b, 1)
	second := &Instruction{Op: OpLiteral}
	e.Append(second)

	if len(b.Instrs) != 3 {
		t.Fatalf("expected 3 instructions, got %d", len(b.Instrs))
	}
	if b.Instrs[0] != first || b.Instrs[1] != second || b.Instrs[2] != third {
		t.Fatalf("expected insertion order [first second third], got different ordering")
	}
}

func TestReplacePreservesResultID(t *testing.T) {
	p, fn, b, _ := newArithFunc(t)
	e := NewEmitter(p, b)

	add := &Instruction{Op: OpAdd, Args: []ValueID{fn.Params[0].ID, fn.Params[1].ID}}
	e.Append(add)
	origID := add.Result

	sub := &Instruction{Op: OpSub, Args: []ValueID{fn.Params[0].ID, fn.Params[1].ID}, Source: 42}
	e.Replace(b, add, sub)

	if sub.Result != origID {
		t.Fatalf("expected Replace to preserve result ID %d, got %d", origID, sub.Result)
	}
	if sub.TrivialCopy() {
		t.Fatalf("expected Replace to force Source to -1 (not trivially copyable)")
	}
	def, ok := p.InstrOf(origID)
	if !ok || def != sub {
		t.Fatalf("expected identMap to rebind %d to the replacement instruction", origID)
	}
}

func TestSplitMovesTailAndPreservesTerminator(t *testing.T) {
	p, fn, b, _ := newArithFunc(t)
	e := NewEmitter(p, b)

	hazard := &Instruction{Op: OpLoad, Args: []ValueID{fn.Params[0].ID}}
	e.Append(hazard)
	term := &Instruction{Op: OpReturn}
	e.Append(term)

	tail := e.Split(b, hazard)

	if len(b.Instrs) != 0 {
		t.Fatalf("expected original block to have nothing before the split target, got %d instrs", len(b.Instrs))
	}
	if len(tail.Instrs) != 2 || tail.Instrs[0] != hazard || tail.Instrs[1] != term {
		t.Fatalf("expected tail block to contain [hazard term], got %v", tail.Instrs)
	}
	if len(fn.Blocks) != 2 {
		t.Fatalf("expected Split to append a new block to the function, got %d blocks", len(fn.Blocks))
	}
}
