// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package spir

import "github.com/gviegas/shaderprobe/il"

var opToArith = func() map[il.Op]uint16 {
	m := make(map[il.Op]uint16, len(arithToOp))
	for k, v := range arithToOp {
		if cur, ok := m[v]; !ok || k < cur {
			m[v] = k
		}
	}
	return m
}()

var opToCmpWire = func() map[il.Op]uint16 {
	m := make(map[il.Op]uint16, len(cmpToILOp))
	for k, v := range cmpToILOp {
		if cur, ok := m[v]; !ok || k < cur {
			m[v] = k
		}
	}
	return m
}()

// emitFunc appends inst to the output instruction stream.
type emitFunc func(in Inst)

// Compile recompiles fn back into this backend's function-section
// instruction stream, following spec §4.3: reorder (structured — back
// edges are the ones declared via OpLoopMerge's continue target),
// verify, then either template-copy a trivially-copyable instruction
// or synthesize a new encoding; Export lowers to the
// OpImageTexelPointer/OpAtomicIAdd/OpAccessChain/OpLoad/OpImageWrite
// sequence.
func (m *Module) Compile(fn *il.Function) ([]Inst, error) {
	if err := fn.ReorderByDominantBlocks(true); err != nil {
		return nil, err
	}
	if err := fn.Verify(); err != nil {
		return nil, err
	}

	fi := m.funcs[fn]
	var out []Inst
	emit := emitFunc(func(in Inst) { out = append(out, in) })

	nextID := uint32(1)
	resultID := make(map[il.ValueID]uint32)
	freshID := func(v il.ValueID) uint32 {
		id := nextID
		nextID++
		if v.Valid() {
			resultID[v] = id
		}
		return id
	}
	wireOf := func(v il.ValueID) uint32 {
		if id, ok := resultID[v]; ok {
			return id
		}
		return 0
	}
	labelOf := make(map[il.BlockID]uint32)
	for _, b := range fn.Blocks {
		labelOf[b.ID] = freshID(0)
	}

	for _, b := range fn.Blocks {
		emit(Inst{Opcode: opLabel, Operands: []uint32{labelOf[b.ID]}})
		for _, in := range b.Instrs {
			if in.TrivialCopy() && in.Op != il.OpExport {
				emit(fi.src[in.Source])
				continue
			}

			switch {
			case in.Op == il.OpExport:
				if err := emitExportSequence(emit, in, wireOf, freshID); err != nil {
					return nil, err
				}

			case in.Op == il.OpBranchConditional:
				if err := emitConditionalBranch(emit, in, wireOf, labelOf); err != nil {
					return nil, err
				}

			case in.Op == il.OpBranch:
				if in.HasMerge {
					emit(Inst{Opcode: opSelMerge, Operands: []uint32{labelOf[in.MergeBlock]}})
				}
				emit(Inst{Opcode: opBranch, Operands: []uint32{labelOf[in.Targets[0]]}})

			case in.Op == il.OpSwitch:
				ops := []uint32{wireOf(in.Args[0]), labelOf[in.Targets[0]]}
				for _, c := range in.Cases() {
					ops = append(ops, uint32(c.Value), labelOf[c.Target])
				}
				emit(Inst{Opcode: opSwitch, Operands: ops})

			case in.Op == il.OpPhi:
				ops := make([]uint32, 0, 2+2*len(in.Incoming()))
				resID := freshID(in.Result)
				ops = append(ops, 0 /* result type, unused by this simplified format */, resID)
				for _, inc := range in.Incoming() {
					ops = append(ops, wireOf(inc.Value), labelOf[inc.Pred])
				}
				emit(Inst{Opcode: opPhi, Operands: ops})

			case in.Op == il.OpReturn:
				emit(Inst{Opcode: opReturn})

			case in.Op == il.OpUnreachable:
				emit(Inst{Opcode: opUnreachable})

			default:
				if err := synthesize(emit, in, wireOf, freshID, fi); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// synthesize handles arithmetic, comparison, cast, load, and store
// instructions, picking the on-wire opcode variant (signed/unsigned/
// float) recorded at parse time for the instruction's result when
// there is one, or otherwise the lowest-numbered opcode that lowers
// to the instruction's IL op (opToArith/opToCmpWire). Neither the
// instruction's Signed() bit nor its operand types are consulted.
func synthesize(emit emitFunc, in *il.Instruction, wireOf func(il.ValueID) uint32, freshID func(il.ValueID) uint32, fi *funcInfo) error {
	switch {
	case in.Op <= il.OpOr:
		opcode, ok := fi.variant[in.Result]
		if !ok {
			opcode, ok = opToArith[in.Op]
			if !ok {
				return ErrUnsupportedOp
			}
		}
		resID := freshID(in.Result)
		emit(Inst{Opcode: opcode, Operands: []uint32{uint32(in.Type), resID, wireOf(in.Args[0]), wireOf(in.Args[1])}})

	case in.Op >= il.OpEq && in.Op <= il.OpGe:
		opcode, ok := fi.variant[in.Result]
		if !ok {
			opcode, ok = opToCmpWire[in.Op]
			if !ok {
				return ErrUnsupportedOp
			}
		}
		resID := freshID(in.Result)
		emit(Inst{Opcode: opcode, Operands: []uint32{uint32(in.Type), resID, wireOf(in.Args[0]), wireOf(in.Args[1])}})

	case in.Op == il.OpBitCast || in.Op == il.OpFloatToInt || in.Op == il.OpIntToFloat:
		opcode := opBitcast
		switch in.Op {
		case il.OpFloatToInt:
			opcode = opConvertFToS
		case il.OpIntToFloat:
			opcode = opConvertSToF
		}
		resID := freshID(in.Result)
		emit(Inst{Opcode: opcode, Operands: []uint32{uint32(in.Type), resID, wireOf(in.Args[0])}})

	case in.Op == il.OpLoad:
		resID := freshID(in.Result)
		emit(Inst{Opcode: opLoad, Operands: []uint32{uint32(in.Type), resID, wireOf(in.Args[0])}})

	case in.Op == il.OpStore:
		emit(Inst{Opcode: opStore, Operands: []uint32{wireOf(in.Args[0]), wireOf(in.Args[1])}})

	default:
		freshID(in.Result)
		emit(Inst{Opcode: 0 /* opNop-equivalent placeholder for an unhandled unexposed op */})
	}
	return nil
}

// emitConditionalBranch emits the SelectionMerge decoration ahead of
// a conditional branch. If the parser captured an explicit merge
// block (Open Question 1, decision (a)), it is used directly;
// otherwise this returns ErrNoMergeInferred. No merge block is
// inferred from the branch targets.
func emitConditionalBranch(emit emitFunc, in *il.Instruction, wireOf func(il.ValueID) uint32, labelOf map[il.BlockID]uint32) error {
	merge := in.MergeBlock
	if !in.HasMerge {
		return ErrNoMergeInferred
	}
	emit(Inst{Opcode: opSelMerge, Operands: []uint32{labelOf[merge]}})
	emit(Inst{
		Opcode:   opBranchCond,
		Operands: []uint32{wireOf(in.Args[0]), labelOf[in.Targets[0]], labelOf[in.Targets[1]]},
	})
	return nil
}

// emitExportSequence lowers an il.OpExport instruction to:
// OpImageTexelPointer into the counter image, OpAtomicIAdd with
// Device scope, OpAccessChain into the stream-image array, OpLoad,
// OpImageWrite — per spec §4.3.
func emitExportSequence(emit emitFunc, in *il.Instruction, wireOf func(il.ValueID) uint32, freshID func(il.ValueID) uint32) error {
	ptr := freshID(0)
	emit(Inst{Opcode: opImageTexelPointer, Operands: []uint32{ptr, uint32(in.AuxInt)}})

	counter := freshID(0)
	emit(Inst{Opcode: opAtomicIAdd, Operands: []uint32{ptr, counter, 1 /* Device scope */, 0 /* MaskNone */, 1}})

	chain := freshID(0)
	emit(Inst{Opcode: opAccessChain, Operands: []uint32{chain, uint32(in.AuxInt), counter}})

	var value uint32
	if len(in.Args) > 0 {
		value = wireOf(in.Args[0])
	}
	loaded := freshID(0)
	emit(Inst{Opcode: opLoad, Operands: []uint32{loaded, chain}})
	emit(Inst{Opcode: opImageWrite, Operands: []uint32{chain, counter, value, loaded}})
	return nil
}
