// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package il defines a language-independent SSA intermediate
// representation for shader bytecode: programs, functions, basic
// blocks, typed instructions, and the interning maps that back them.
//
// A Program owns every value that it contains — types, constants,
// instructions, parameters, and globals are identified by dense,
// monotonically increasing IDs rather than pointers, so that programs
// can be cloned, compared, and walked without entangling lifetimes
// across backends (see bitcode and spir, which lower concrete
// bytecode formats into this representation and lift it back out).
package il

import (
	"errors"

	"github.com/google/uuid"
)

const prefix = "il: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// ErrReorderFailed is returned by Function.ReorderByDominantBlocks
// when the control-flow graph cannot be linearized under the rules
// it implements (see reorder.go). The caller must abort recompilation
// of the owning function.
var ErrReorderFailed = newErr("control flow cannot be reordered")

// ValueID identifies an SSA value: an instruction's result, a
// function parameter, a global variable, or (via ConstID's own
// space) a constant. The zero ValueID is reserved and never a valid
// reference (an instruction with no result uses it).
type ValueID uint32

// Valid reports whether id refers to an actual value.
func (id ValueID) Valid() bool { return id != 0 }

// TypeID identifies an interned Type within a Program.
type TypeID uint32

// ConstID identifies an interned Const within a Program.
type ConstID uint32

// BlockID identifies a BasicBlock within a Function.
type BlockID uint32

// Param is a function parameter; it occupies its own ValueID.
type Param struct {
	ID   ValueID
	Type TypeID
}

// Global is a module-level global variable; it occupies its own
// ValueID and is never defined by an instruction.
type Global struct {
	ID   ValueID
	Type TypeID
	Name string
}

// Program is the top-level IL container. It owns the type and
// constant interning maps, the identifier allocator, and the list of
// functions and globals that make up one shader module.
type Program struct {
	GUID uuid.UUID

	types  *typeMap
	consts *constMap
	ids    *identMap

	Funcs   []*Function
	Globals []*Global
}

// NewProgram creates an empty program with a freshly generated GUID.
func NewProgram() *Program {
	return &Program{
		GUID:   uuid.New(),
		types:  newTypeMap(),
		consts: newConstMap(),
		ids:    newIdentMap(),
	}
}

// Types returns the program's type-interning map.
func (p *Program) Types() *typeMap { return p.types }

// Consts returns the program's constant-interning map.
func (p *Program) Consts() *constMap { return p.consts }

// NewGlobal allocates a new global variable of the given type.
func (p *Program) NewGlobal(name string, typ TypeID) *Global {
	g := &Global{Type: typ, Name: name}
	g.ID = p.ids.allocGlobal(len(p.Globals))
	p.Globals = append(p.Globals, g)
	return g
}

// NewFunction creates a new, empty function owned by p.
func (p *Program) NewFunction(name string, retType TypeID, paramTypes []TypeID) *Function {
	fn := &Function{
		Name:    name,
		RetType: retType,
		prog:    p,
	}
	fn.Params = make([]Param, len(paramTypes))
	for i, t := range paramTypes {
		fn.Params[i] = Param{ID: p.ids.allocParam(len(p.Funcs), i), Type: t}
	}
	p.Funcs = append(p.Funcs, fn)
	return fn
}

// DefKind identifies what kind of entity a ValueID resolves to.
type DefKind uint8

// Kinds of value definition.
const (
	DefInstr DefKind = iota
	DefParam
	DefGlobal
)

// Resolve reports what id refers to. ok is false for the zero
// ValueID or for an ID that p never allocated.
func (p *Program) Resolve(id ValueID) (kind DefKind, ok bool) {
	return p.ids.resolve(id)
}

// InstrOf returns the instruction that defines id, if id resolves to
// DefInstr.
func (p *Program) InstrOf(id ValueID) (*Instruction, bool) {
	return p.ids.instr(id)
}

// Function is a single shader entry point or callee. It owns an
// ordered list of BasicBlocks; the first block is the entry point.
type Function struct {
	Name    string
	Params  []Param
	RetType TypeID

	Blocks []*Block

	prog *Program
}

// Program returns the owning Program.
func (fn *Function) Program() *Program { return fn.prog }

// NewBlock appends a new, empty basic block to fn and returns it.
func (fn *Function) NewBlock() *Block {
	b := &Block{ID: BlockID(len(fn.Blocks)), fn: fn}
	fn.Blocks = append(fn.Blocks, b)
	return b
}

// Block looks up a basic block by ID. It panics if id is out of
// range, mirroring slice indexing.
func (fn *Function) Block(id BlockID) *Block { return fn.Blocks[id] }

// BasicBlock is an ordered list of instructions ending in exactly one
// terminator (Branch, BranchConditional, Switch, Return, or
// Unreachable).
type Block struct {
	ID     BlockID
	Instrs []*Instruction

	fn *Function
}

// Function returns the owning Function.
func (b *Block) Function() *Function { return b.fn }

// Terminator returns the block's terminating instruction, or nil if
// the block is empty or its last instruction is not a terminator.
func (b *Block) Terminator() *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Successors returns the block IDs that b's terminator may transfer
// control to, in a stable order. It returns nil if b has no valid
// terminator.
func (b *Block) Successors() []BlockID {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	switch t.Op {
	case OpBranch:
		return []BlockID{t.Targets[0]}
	case OpBranchConditional:
		return append([]BlockID(nil), t.Targets...)
	case OpSwitch:
		cases := t.Cases()
		ids := make([]BlockID, 0, len(cases)+1)
		ids = append(ids, t.Targets[0]) // default
		for _, c := range cases {
			ids = append(ids, c.Target)
		}
		return ids
	default:
		return nil
	}
}
