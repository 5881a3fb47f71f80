// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

// Emitter is the only sanctioned mutation interface for a Function's
// instruction stream. It is a cursor: a (program, block, position)
// triple. Its methods are pure with respect to the IL arena except
// for the single append/insert/replace they perform — callers decide
// operand IDs (which existing values an instruction reads), and the
// Emitter allocates the result ID and fills in a derivable result
// type when one can be inferred from the operands.
type Emitter struct {
	prog  *Program
	block *Block
	pos   int // insertion index; -1 means "append at end"
}

// NewEmitter creates an Emitter positioned to append at the end of b.
func NewEmitter(prog *Program, b *Block) *Emitter {
	return &Emitter{prog: prog, block: b, pos: -1}
}

// SetCursor repositions e to insert before the instruction currently
// at index pos of b (or at the end of b, if pos == len(b.Instrs)).
func (e *Emitter) SetCursor(b *Block, pos int) {
	e.block = b
	e.pos = pos
}

// Block returns the block the cursor currently targets.
func (e *Emitter) Block() *Block { return e.block }

// Append inserts instr at the cursor, allocates its result ID (if the
// op produces one), and advances the cursor past it. It returns the
// allocated ValueID, or the zero ValueID for instructions with no
// result (stores, terminators, ...).
func (e *Emitter) Append(instr *Instruction) ValueID {
	if instr.Type == 0 && instr.Op != OpStore {
		if t, ok := e.deriveType(instr); ok {
			instr.Type = t
		}
	}
	if producesResult(instr.Op) {
		instr.Result = e.prog.ids.allocInstr()
		e.prog.ids.bindInstr(instr.Result, instr)
	}
	b := e.block
	if e.pos < 0 || e.pos >= len(b.Instrs) {
		b.Instrs = append(b.Instrs, instr)
		e.pos = -1
		return instr.Result
	}
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[e.pos+1:], b.Instrs[e.pos:])
	b.Instrs[e.pos] = instr
	e.pos++
	return instr.Result
}

// Replace substitutes old with instr at old's current position in
// its block, preserving old's Result ValueID so existing uses remain
// valid. instr.Source should normally be left at -1 (unset): a
// replaced instruction is by definition modified and must not be
// copied verbatim on recompile.
func (e *Emitter) Replace(b *Block, old, instr *Instruction) {
	for i, in := range b.Instrs {
		if in == old {
			instr.Result = old.Result
			instr.Source = -1
			b.Instrs[i] = instr
			if instr.Result.Valid() {
				e.prog.ids.bindInstr(instr.Result, instr)
			}
			return
		}
	}
	panic("il: Replace: old instruction not found in block")
}

// Split breaks b in two right before target, moving target and every
// instruction after it into a new block, and returns that new block.
// If target is the block's terminator, the new block holds just that
// terminator. The caller is responsible for inserting a new
// terminator into b after Split returns; b's original terminator (if
// any) moves to the tail block along with target.
//
// This is the primitive a Feature uses to build the guarded-store
// shape described in the feature package: split around the hazardous
// instruction, insert a conditional branch to a new "fail" block that
// exports a message, then fall through to the "resume" block (the
// tail produced by this call) that contains the original instruction.
func (e *Emitter) Split(b *Block, target *Instruction) (tail *Block) {
	idx := -1
	for i, in := range b.Instrs {
		if in == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("il: Split: target instruction not found in block")
	}
	fn := b.fn
	tail = &Block{ID: BlockID(len(fn.Blocks)), fn: fn}
	tail.Instrs = append(tail.Instrs, b.Instrs[idx:]...)
	b.Instrs = b.Instrs[:idx:idx]
	fn.Blocks = append(fn.Blocks, tail)
	return tail
}

// producesResult reports whether op defines a new SSA value.
func producesResult(op Op) bool {
	switch op {
	case OpStore, OpStoreBuffer, OpStoreTexture, OpBranch, OpBranchConditional,
		OpSwitch, OpReturn, OpUnreachable, OpExport:
		return false
	default:
		return true
	}
}

// deriveType infers instr's result type from its operands for the
// handful of ops where that is unambiguous: same-type binary
// arithmetic (result matches the first operand) and comparisons
// (result is always the boolean type, interned as BoolType{}). Any
// other op leaves the type for the caller to set explicitly.
func (e *Emitter) deriveType(instr *Instruction) (TypeID, bool) {
	switch {
	case isArith(instr.Op) && len(instr.Args) > 0:
		if defInstr, ok := e.prog.InstrOf(instr.Args[0]); ok {
			return defInstr.Type, true
		}
		return 0, false
	case isCompare(instr.Op):
		return e.prog.types.Intern(BoolType{}), true
	default:
		return 0, false
	}
}

func isArith(op Op) bool {
	return op >= OpAdd && op <= OpOr
}

func isCompare(op Op) bool {
	return op >= OpEq && op <= OpGe
}
