// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

// Op identifies an instruction's operation. The set mirrors
// spec-level categories: arithmetic, comparison, reduction, type
// coercion, memory, resource, control, composite, atomics, and two
// feature-specific ops (Export, Literal) plus Unexposed for anything
// the backend elects to carry through unchanged.
type Op uint16

// Arithmetic.
const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpShl
	OpShr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpAnd
	OpOr
)

// Comparison.
const (
	OpEq Op = iota + 100
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Reduction.
const (
	OpAny Op = iota + 200
	OpAll
)

// Type coercion.
const (
	OpTrunc Op = iota + 300
	OpBitCast
	OpFloatToInt
	OpIntToFloat
)

// Memory.
const (
	OpAlloca Op = iota + 400
	OpLoad
	OpStore
)

// Resource.
const (
	OpLoadBuffer Op = iota + 500
	OpStoreBuffer
	OpLoadTexture
	OpStoreTexture
	OpResourceSize
	OpResourceToken
)

// Control.
const (
	OpBranch Op = iota + 600
	OpBranchConditional
	OpSwitch
	OpPhi
	OpReturn
	OpUnreachable
)

// Composite.
const (
	OpExtract Op = iota + 700
	OpInsert
	OpSelect
	OpAddressChain
)

// Atomics.
const (
	OpAtomicAdd Op = iota + 800
	OpAtomicOr
	OpAtomicAnd
	OpAtomicXor
	OpAtomicMin
	OpAtomicMax
	OpAtomicExchange
	OpAtomicCompareExchange
)

// Feature-specific.
const (
	OpExport Op = iota + 900
	OpLiteral
)

// Unexposed preserves the original opcode for round-trip when the
// backend does not need to interpret an instruction semantically.
const OpUnexposed Op = 999

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool {
	switch op {
	case OpBranch, OpBranchConditional, OpSwitch, OpReturn, OpUnreachable:
		return true
	default:
		return false
	}
}

// SwitchCase is one case arm of a Switch instruction.
type SwitchCase struct {
	Value  int64
	Target BlockID
}

// PhiIncoming is one (value, predecessor) pair of a Phi instruction.
type PhiIncoming struct {
	Value ValueID
	Pred  BlockID
}

// CallAux carries the original callee name of an intrinsic or
// external call that the parser could not (or chose not to) lower to
// a dedicated Op, preserved on an Unexposed instruction so it can be
// re-emitted verbatim.
type CallAux struct {
	Callee string
}

// Instruction is the envelope shared by every IL instruction variant:
// a result value (possibly invalid, for instructions with no result),
// a source span for the verbatim-copy fast path, a type, an operand
// list, and op-specific auxiliary payloads. This follows the
// Args/Aux/AuxInt shape used by Go's own SSA intermediate
// representation (cmd/compile/internal/ssa): a single envelope
// struct with a small typed "extra data" slot is simpler in Go than
// reproducing the reference's inheritance + checked-downcast scheme,
// and still gives each Op a clear, narrow extension point.
type Instruction struct {
	Op     Op
	Result ValueID // zero if the instruction has no result
	Source int     // offset into the original bytecode; -1 if synthesized
	Type   TypeID
	Args   []ValueID // operand value references, meaning is op-specific

	// Aux carries op-specific structured data:
	//   OpSwitch:  []SwitchCase (case arms; Targets[0] is the default)
	//   OpPhi:     []PhiIncoming
	//   OpUnexposed (call form): CallAux
	//   OpExport:  *ExportAux (see feature package's schema)
	//   OpLiteral: ConstID, the interned constant this instruction
	//              materializes as a value (bridges the constant pool
	//              into the ValueID space used by operand lists)
	Aux any

	// AuxInt carries a small scalar payload whose meaning is
	// op-specific, e.g. the signedness bit for comparisons and
	// shifts, or the resource binding index for Load/StoreBuffer
	// and Load/StoreTexture (low 32 bits) combined with additional
	// flags (bit 32 and above) where needed.
	AuxInt int64

	// Targets holds the basic-block operands of a terminator:
	// Branch has one, BranchConditional has two ({true, false}),
	// Switch has one (the default; case targets live in Aux).
	Targets []BlockID

	// MergeBlock and ContinueBlock resolve Open Question 1 of the
	// design notes: the SPIR backend captures the original
	// OpSelectionMerge/OpLoopMerge target explicitly on the IL
	// terminator rather than re-inferring it at recompile time from
	// pass/fail cross-branching. HasMerge/HasContinue false means "not
	// structured" (e.g. bitcode input, or a SPIR branch with no merge
	// instruction); the matching BlockID field is then unused.
	MergeBlock    BlockID
	HasMerge      bool
	ContinueBlock BlockID
	HasContinue   bool
}

// Signed reports the signedness payload of a comparison, shift, or
// cast instruction (AuxInt's low bit).
func (i *Instruction) Signed() bool { return i.AuxInt&1 != 0 }

// SetSigned sets the signedness payload.
func (i *Instruction) SetSigned(signed bool) {
	if signed {
		i.AuxInt |= 1
	} else {
		i.AuxInt &^= 1
	}
}

// ResourceIndex returns the resource binding index payload of a
// Load/StoreBuffer or Load/StoreTexture instruction.
func (i *Instruction) ResourceIndex() int { return int(uint32(i.AuxInt)) }

// SetResourceIndex sets the resource binding index payload.
func (i *Instruction) SetResourceIndex(index int) {
	i.AuxInt = i.AuxInt&^0xFFFFFFFF | int64(uint32(index))
}

// Cases returns the switch case arms of a Switch instruction.
func (i *Instruction) Cases() []SwitchCase {
	if cs, ok := i.Aux.([]SwitchCase); ok {
		return cs
	}
	return nil
}

// Incoming returns the (value, predecessor) pairs of a Phi
// instruction.
func (i *Instruction) Incoming() []PhiIncoming {
	if ps, ok := i.Aux.([]PhiIncoming); ok {
		return ps
	}
	return nil
}

// TrivialCopy reports whether i can be emitted from its original
// bytecode record verbatim, i.e. it has not been modified by any
// feature's injection pass.
func (i *Instruction) TrivialCopy() bool { return i.Source >= 0 }

// MarkModified clears the source span, forcing recompilation to
// synthesize a new record for i instead of copying the original
// through.
func (i *Instruction) MarkModified() { i.Source = -1 }
