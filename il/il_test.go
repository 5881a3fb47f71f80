// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "testing"

func TestNewProgramGUIDUnique(t *testing.T) {
	a := NewProgram()
	b := NewProgram()
	if a.GUID == b.GUID {
		t.Fatalf("expected distinct programs to have distinct GUIDs")
	}
}

func TestNewFunctionParamIdentity(t *testing.T) {
	p := NewProgram()
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	voidT := p.Types().Intern(VoidType{})

	fn := p.NewFunction("main", voidT, []TypeID{i32, i32})
	if len(fn.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Params))
	}
	if fn.Params[0].ID == fn.Params[1].ID {
		t.Fatalf("expected distinct parameters to get distinct ValueIDs")
	}
	kind, ok := p.Resolve(fn.Params[0].ID)
	if !ok || kind != DefParam {
		t.Fatalf("Resolve(param 0) = (%v, %v), want (DefParam, true)", kind, ok)
	}
}

func TestResolveUnknownID(t *testing.T) {
	p := NewProgram()
	if _, ok := p.Resolve(ValueID(999)); ok {
		t.Fatalf("expected Resolve of an unallocated ID to report !ok")
	}
	if _, ok := p.Resolve(ValueID(0)); ok {
		t.Fatalf("expected Resolve of the zero (invalid) ValueID to report !ok")
	}
}

func TestBlockTerminatorAndSuccessors(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	fn := p.NewFunction("f", voidT, nil)

	b0 := fn.NewBlock()
	b1 := fn.NewBlock()
	b2 := fn.NewBlock()

	e := NewEmitter(p, b0)
	e.Append(&Instruction{Op: OpBranchConditional, Targets: []BlockID{b1.ID, b2.ID}})

	if b0.Terminator() == nil {
		t.Fatalf("expected b0 to have a terminator")
	}
	succ := b0.Successors()
	if len(succ) != 2 || succ[0] != b1.ID || succ[1] != b2.ID {
		t.Fatalf("Successors() = %v, want [%d %d]", succ, b1.ID, b2.ID)
	}

	e2 := NewEmitter(p, b1)
	e2.Append(&Instruction{Op: OpReturn})
	if b1.Successors() != nil {
		t.Fatalf("expected a Return block to have no successors")
	}
}

func TestBlockSwitchSuccessors(t *testing.T) {
	p := NewProgram()
	voidT := p.Types().Intern(VoidType{})
	i32 := p.Types().Intern(IntType{BitWidth: 32, Signed: true})
	fn := p.NewFunction("f", voidT, []TypeID{i32})

	entry := fn.NewBlock()
	def := fn.NewBlock()
	case0 := fn.NewBlock()
	case1 := fn.NewBlock()

	e := NewEmitter(p, entry)
	e.Append(&Instruction{
		Op:      OpSwitch,
		Args:    []ValueID{fn.Params[0].ID},
		Targets: []BlockID{def.ID},
		Aux: []SwitchCase{
			{Value: 0, Target: case0.ID},
			{Value: 1, Target: case1.ID},
		},
	})

	succ := entry.Successors()
	want := []BlockID{def.ID, case0.ID, case1.ID}
	if len(succ) != len(want) {
		t.Fatalf("Successors() = %v, want %v", succ, want)
	}
	for i := range want {
		if succ[i] != want[i] {
			t.Fatalf("Successors()[%d] = %d, want %d", i, succ[i], want[i])
		}
	}
}
