// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package feature

import "github.com/gviegas/shaderprobe/il"

// ExportAux carries the host-side provenance of an OpExport
// instruction a feature injected: which feature produced it, under
// which schema, and (if bound) which source location. Codegen
// backends never read it — they only need OpExport's AuxInt (stream
// index) and Args[0] (the already bit-packed value); ExportAux exists
// for CollectMessages and debug tooling to recover what the raw key
// means.
type ExportAux struct {
	Feature FeatureID
	Schema  *CompiledSchema
	SGUID   SGUID
}

// GuardStore rewrites target (found in block b of function fn) into
// the guarded export shape:
//
//	pre:    br cond(...) fail resume
//	fail:   export(msg); br resume
//	resume: target
//
// using Emitter.Split to move target and everything after it into the
// tail ("resume") block. cond and msg are called with emitters
// already positioned to append into the pre and fail blocks
// respectively; cond must return a bool-typed value, msg the packed
// 32-bit message value.
//
// GuardStore does not itself check whether target has already been
// modified by an earlier feature in this compile job — callers that
// need confluence (first mutation wins) must check
// target.TrivialCopy() or an equivalent marker before calling this
// for the same instruction twice.
func GuardStore(
	prog *il.Program,
	fn *il.Function,
	b *il.Block,
	target *il.Instruction,
	cond func(e *il.Emitter) il.ValueID,
	msg func(e *il.Emitter) il.ValueID,
	stream int,
	aux *ExportAux,
) *il.Block {
	idx := indexOf(b, target)
	if idx < 0 {
		panic("feature: GuardStore: target instruction not found in block")
	}

	pre := il.NewEmitter(prog, b)
	pre.SetCursor(b, idx)
	condVal := cond(pre)

	tail := pre.Split(b, target)

	fail := fn.NewBlock()

	term := il.NewEmitter(prog, b)
	term.Append(&il.Instruction{
		Op:      il.OpBranchConditional,
		Args:    []il.ValueID{condVal},
		Targets: []il.BlockID{fail.ID, tail.ID},
		Source:  -1,
	})

	ef := il.NewEmitter(prog, fail)
	msgVal := msg(ef)
	ef.Append(&il.Instruction{
		Op:     il.OpExport,
		AuxInt: int64(stream),
		Args:   []il.ValueID{msgVal},
		Aux:    aux,
		Source: -1,
	})
	ef.Append(&il.Instruction{Op: il.OpBranch, Targets: []il.BlockID{tail.ID}, Source: -1})

	return tail
}

func indexOf(b *il.Block, target *il.Instruction) int {
	for i, in := range b.Instrs {
		if in == target {
			return i
		}
	}
	return -1
}

// valueType returns the type a ValueID was produced with, falling
// back to a plain signed 32-bit integer when prog has no record of
// it (a parameter or global with no recoverable type at this call
// site).
func valueType(prog *il.Program, v il.ValueID) il.TypeID {
	if instr, ok := prog.InstrOf(v); ok {
		return instr.Type
	}
	return prog.Types().Intern(il.IntType{BitWidth: 32, Signed: true})
}
