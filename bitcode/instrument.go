// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package bitcode

import (
	"github.com/gviegas/shaderprobe/il"
)

// opToBin/opToCmp invert the parse-time binToOp/cmpToOp tables, used
// when synthesizing a record for a modified arithmetic or comparison
// instruction.
var opToBin = func() map[il.Op]uint32 {
	m := make(map[il.Op]uint32, len(binToOp))
	for k, v := range binToOp {
		m[v] = k
	}
	return m
}()

var opToCmp = func() map[il.Op]uint32 {
	m := make(map[il.Op]uint32, len(cmpToOp))
	for k, v := range cmpToOp {
		m[v] = k
	}
	return m
}()

// emitFunc appends rec to the output record stream and returns the
// position it was emitted at.
type emitFunc func(rec Record) (pos int64)

// Compile recompiles fn — which must belong to m.Program and have
// been parsed by m (or newly added to it) — back into a Block in
// this format, following spec §4.2's 5-step process: reorder,
// verbatim-copy the fast path, synthesize modified records, lower
// Export to its GPU sequence, and expand Any/All reductions.
//
// It does not mutate m.Blocks; the caller decides whether to replace
// the function's original block (see Module.Stitch).
func (m *Module) Compile(fn *il.Function) (*Block, error) {
	if err := fn.ReorderByDominantBlocks(false); err != nil {
		return nil, err
	}
	if err := fn.Verify(); err != nil {
		return nil, err
	}

	fi := m.funcs[fn]
	out := &Block{ID: BlockFunction}
	if fi != nil {
		out.AbbrevLen, out.Abbrevs, out.Subblocks = fi.src.AbbrevLen, fi.src.Abbrevs, fi.src.Subblocks
	}

	// ordinal maps the (possibly reordered) il.BlockID to its final
	// position, used to remap branch targets in synthesized records.
	// This backend conservatively resynthesizes every terminator (so
	// a block-order change is always reflected correctly) and copies
	// through only non-terminator records that are unmodified,
	// matching spec §4.2 step 2's "copy every original record that
	// corresponds to an unmodified IL instruction."
	ordinal := make(map[il.BlockID]int64, len(fn.Blocks))
	for i, b := range fn.Blocks {
		ordinal[b.ID] = int64(i)
	}

	remap := make(map[il.ValueID]int64) // user ValueID -> emitted position
	var emitted int64

	emit := emitFunc(func(rec Record) int64 {
		out.Records = append(out.Records, rec)
		pos := emitted
		emitted++
		return pos
	})

	relOf := func(id il.ValueID) int64 {
		if pos, ok := remap[id]; ok {
			return emitted - pos
		}
		// Unresolved forward reference (e.g. a phi operand from a
		// block not yet emitted): encode as a negative delta per
		// spec §4.2's "signed encoding whose negative branch means
		// unresolved, resolve after the block is fully seen."
		return -1
	}

	type pendingPhi struct {
		pos int
		inc []il.PhiIncoming
	}
	var pendingPhis []pendingPhi

	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.TrivialCopy() && !in.Op.IsTerminator() && in.Op != il.OpExport &&
				in.Op != il.OpAny && in.Op != il.OpAll {
				pos := emit(fi.src.Records[in.Source])
				if in.Result.Valid() {
					remap[in.Result] = pos
				}
				continue
			}

			switch in.Op {
			case il.OpExport:
				pos := emitExportSequence(emit, in, relOf)
				if in.Result.Valid() {
					remap[in.Result] = pos
				}

			case il.OpAny, il.OpAll:
				pos := emitReduction(emit, in, relOf)
				remap[in.Result] = pos

			case il.OpPhi:
				// Phi operands reference predecessor-block values that
				// may not all be emitted yet; record the position and
				// patch operands in the forward-reference pass below.
				pos := emit(Record{Code: recPhi})
				pendingPhis = append(pendingPhis, pendingPhi{pos: int(pos), inc: in.Incoming()})
				remap[in.Result] = pos

			case il.OpBranch:
				emit(Record{Code: recBr, Ops: []int64{ordinal[in.Targets[0]]}})

			case il.OpBranchConditional:
				emit(Record{Code: recBr, Ops: []int64{relOf(in.Args[0]), ordinal[in.Targets[0]], ordinal[in.Targets[1]]}})

			case il.OpSwitch:
				ops := []int64{relOf(in.Args[0]), ordinal[in.Targets[0]]}
				for _, c := range in.Cases() {
					ops = append(ops, c.Value, ordinal[c.Target])
				}
				emit(Record{Code: recSwitch, Ops: ops})

			case il.OpReturn:
				emit(Record{Code: recRet})

			case il.OpUnreachable:
				emit(Record{Code: recUnreachable})

			default:
				pos, err := synthesize(emit, in, relOf)
				if err != nil {
					return nil, err
				}
				if in.Result.Valid() {
					remap[in.Result] = pos
				}
			}
		}
	}

	// Resolve forward-referenced phi operands now that every value in
	// the function has an emitted position.
	for _, pp := range pendingPhis {
		ops := make([]int64, 0, len(pp.inc)*2)
		for _, inc := range pp.inc {
			ops = append(ops, relOf(inc.Value), ordinal[inc.Pred])
		}
		out.Records[pp.pos].Ops = ops
	}

	return out, nil
}

// synthesize handles the remaining modified-instruction shapes: binary
// arithmetic, comparisons, casts, memory, and resource ops. It
// returns the position the new record was emitted at.
func synthesize(emit emitFunc, in *il.Instruction, relOf func(il.ValueID) int64) (int64, error) {
	var rec Record
	switch {
	case in.Op <= il.OpOr:
		code, ok := opToBin[in.Op]
		if !ok {
			return 0, ErrUnsupportedOp
		}
		rec = Record{Code: recBinOp, Ops: []int64{int64(code), relOf(in.Args[0]), relOf(in.Args[1])}}

	case in.Op >= il.OpEq && in.Op <= il.OpGe:
		code, ok := opToCmp[in.Op]
		if !ok {
			return 0, ErrUnsupportedOp
		}
		signed := int64(0)
		if in.Signed() {
			signed = 1
		}
		rec = Record{Code: recCmp, Ops: []int64{int64(code), signed, relOf(in.Args[0]), relOf(in.Args[1])}}

	case in.Op == il.OpTrunc || in.Op == il.OpBitCast || in.Op == il.OpFloatToInt || in.Op == il.OpIntToFloat:
		rec = Record{Code: recCast, Ops: []int64{int64(castKind(in.Op)), relOf(in.Args[0]), int64(in.Type)}}

	case in.Op == il.OpAlloca:
		rec = Record{Code: recAlloca}

	case in.Op == il.OpLoad:
		rec = Record{Code: recLoad, Ops: []int64{relOf(in.Args[0])}}

	case in.Op == il.OpStore:
		rec = Record{Code: recStore, Ops: []int64{relOf(in.Args[0]), relOf(in.Args[1])}}

	case in.Op == il.OpUnexposed:
		ops := make([]int64, 0, len(in.Args)+1)
		callee := uint32(0)
		if aux, ok := in.Aux.(il.CallAux); ok {
			callee = calleeCode(aux.Callee)
		}
		ops = append(ops, int64(callee))
		for _, a := range in.Args {
			ops = append(ops, relOf(a))
		}
		rec = Record{Code: recCall, Ops: ops}

	default:
		// Resource ops (LoadBuffer, StoreBuffer, ...) round-trip as
		// calls to their originating intrinsic.
		ops := make([]int64, 0, len(in.Args)+1)
		ops = append(ops, int64(resourceCalleeCode(in.Op)))
		for _, a := range in.Args {
			ops = append(ops, relOf(a))
		}
		rec = Record{Code: recCall, Ops: ops}
	}
	return emit(rec), nil
}

func castKind(op il.Op) uint32 {
	switch op {
	case il.OpTrunc:
		return 0
	case il.OpFloatToInt:
		return 1
	case il.OpIntToFloat:
		return 2
	default:
		return 3
	}
}

func calleeCode(name string) uint32 {
	for id, n := range intrinsicNames {
		if n == name {
			return id
		}
	}
	return 0
}

func resourceCalleeCode(op il.Op) uint32 {
	switch op {
	case il.OpLoadBuffer:
		return 1
	case il.OpStoreBuffer:
		return 2
	case il.OpLoadTexture:
		return 3
	case il.OpStoreTexture:
		return 4
	case il.OpResourceSize:
		return 5
	default:
		return 0
	}
}

// Export-sequence intrinsic codes. Distinct from the resource
// load/store intrinsics above: these are the backend's own lowering
// of the feature host's abstract Export instruction, matching spec
// §4.2 step 4 (atomic counter increment, then store at the returned
// offset).
const (
	calleeAtomicIncrement uint32 = 100
	calleeStreamStore     uint32 = 101
)

// emitExportSequence lowers an il.OpExport instruction to the GPU
// export sequence: atomically increment the per-stream counter, then
// store the message value into the stream buffer at the returned
// offset. Returns the position of the final (store) record, which is
// what later operand references resolve to.
func emitExportSequence(emit emitFunc, in *il.Instruction, relOf func(il.ValueID) int64) int64 {
	emit(Record{Code: recCall, Ops: []int64{int64(calleeAtomicIncrement), in.AuxInt}})
	var value int64
	if len(in.Args) > 0 {
		value = relOf(in.Args[0])
	}
	return emit(Record{Code: recCall, Ops: []int64{int64(calleeStreamStore), in.AuxInt, value}})
}

// emitReduction expands an Any/All reduction over a vector or struct
// operand into a per-element compare-against-zero followed by a
// reduction fold (Or for Any, And for All), switching on the
// operand's IL type kind directly per the resolved SVOX open
// question (no separate DXILIDUserType tag is consulted). Returns the
// position of the final fold record (or the lone comparison, for a
// single-lane operand).
func emitReduction(emit emitFunc, in *il.Instruction, relOf func(il.ValueID) int64) int64 {
	fold := binOr
	if in.Op == il.OpAll {
		fold = binAnd
	}

	lanes := reductionLanes(in)
	base := relOf(in.Args[0])

	acc := emit(Record{Code: recCmp, Ops: []int64{int64(cmpNe), 0, base, 0}})
	for lane := 1; lane < lanes; lane++ {
		// Each further lane's value is addressed relative to the base
		// operand as base - lane, for vector and struct operands
		// alike; no ExtractVal record is emitted for a struct operand.
		cmp := emit(Record{Code: recCmp, Ops: []int64{int64(cmpNe), 0, base - int64(lane), 0}})
		nextPos := cmp + 1
		acc = emit(Record{Code: recBinOp, Ops: []int64{int64(fold), nextPos - acc, nextPos - cmp}})
	}
	return acc
}

// reductionLanes reports how many scalar lanes in.Args[0]'s type
// carries, defaulting to 1 for a bare scalar. Vector types iterate
// their Dim; struct types iterate their Members; anything else is
// treated as a single lane.
func reductionLanes(in *il.Instruction) int {
	t, ok := in.Aux.(il.Type)
	if !ok {
		return 1
	}
	switch v := t.(type) {
	case il.VectorType:
		return v.Dim
	case il.StructType:
		return len(v.Members)
	default:
		return 1
	}
}
