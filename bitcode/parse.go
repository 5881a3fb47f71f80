// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package bitcode

import (
	"encoding/binary"

	"github.com/gviegas/shaderprobe/il"
)

// On-wire function-block record opcodes. These are this format's
// instruction encoding, not a standard bitstream's; they exist so the
// parser/recompiler below has concrete values to switch on.
const (
	recBinOp uint32 = iota
	recCast
	recCmp
	recBr
	recSwitch
	recPhi
	recAlloca
	recLoad
	recStore
	recCall
	recRet
	recUnreachable
)

// BinOp payload encodes which arithmetic operation a recBinOp record
// performs; stored as Ops[0] of the record.
const (
	binAdd uint32 = iota
	binSub
	binMul
	binDiv
	binRem
	binShl
	binShr
	binAnd
	binOr
	binXor
	binLAnd
	binLOr
)

var binToOp = map[uint32]il.Op{
	binAdd: il.OpAdd, binSub: il.OpSub, binMul: il.OpMul, binDiv: il.OpDiv,
	binRem: il.OpRem, binShl: il.OpShl, binShr: il.OpShr, binAnd: il.OpBitAnd,
	binOr: il.OpBitOr, binXor: il.OpBitXor, binLAnd: il.OpAnd, binLOr: il.OpOr,
}

// Cmp payload: Ops[0] selects the comparison, Ops[1] the signedness.
const (
	cmpEq uint32 = iota
	cmpNe
	cmpLt
	cmpLe
	cmpGt
	cmpGe
)

var cmpToOp = map[uint32]il.Op{
	cmpEq: il.OpEq, cmpNe: il.OpNe, cmpLt: il.OpLt, cmpLe: il.OpLe, cmpGt: il.OpGt, cmpGe: il.OpGe,
}

// parseBlocks decodes a flat byte stream into a forest of Blocks,
// using the format {id u32, abbrevLen u32, numRecords u32,
// records[numRecords], numAbbrevs u32, abbrevs[numAbbrevs], numSub
// u32, subblocks[numSub]} recursively, matching the logical shape
// spec §6 describes for the bitcode container (id, abbrSize,
// lengthWords, records, sub-blocks) without committing to a specific
// real-world bitstream's bit-packing.
func parseBlocks(b []byte) ([]*Block, error) {
	var blocks []*Block
	for len(b) > 0 {
		blk, rest, err := parseOneBlock(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
		b = rest
	}
	return blocks, nil
}

func parseOneBlock(b []byte) (*Block, []byte, error) {
	if len(b) < 12 {
		return nil, nil, ErrBadBlockHeader
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	abbrevLen := binary.LittleEndian.Uint32(b[4:8])
	numRecords := binary.LittleEndian.Uint32(b[8:12])
	b = b[12:]

	blk := &Block{ID: BlockID(id), AbbrevLen: abbrevLen}
	for i := uint32(0); i < numRecords; i++ {
		rec, rest, err := parseRecord(b)
		if err != nil {
			return nil, nil, err
		}
		blk.Records = append(blk.Records, rec)
		b = rest
	}

	if len(b) < 4 {
		return nil, nil, ErrBadBlockHeader
	}
	numAbbrevs := binary.LittleEndian.Uint32(b[0:4])
	b = b[4:]
	for i := uint32(0); i < numAbbrevs; i++ {
		if len(b) < 8 {
			return nil, nil, ErrBadBlockHeader
		}
		aid := binary.LittleEndian.Uint32(b[0:4])
		n := binary.LittleEndian.Uint32(b[4:8])
		b = b[8:]
		ab := Abbreviation{ID: aid}
		for j := uint32(0); j < n; j++ {
			if len(b) < 8 {
				return nil, nil, ErrBadBlockHeader
			}
			ab.Ops = append(ab.Ops, int64(binary.LittleEndian.Uint64(b[0:8])))
			b = b[8:]
		}
		blk.Abbrevs = append(blk.Abbrevs, ab)
	}

	if len(b) < 4 {
		return nil, nil, ErrBadBlockHeader
	}
	numSub := binary.LittleEndian.Uint32(b[0:4])
	b = b[4:]
	for i := uint32(0); i < numSub; i++ {
		sub, rest, err := parseOneBlock(b)
		if err != nil {
			return nil, nil, err
		}
		blk.Subblocks = append(blk.Subblocks, sub)
		b = rest
	}

	return blk, b, nil
}

func parseRecord(b []byte) (Record, []byte, error) {
	if len(b) < 8 {
		return Record{}, nil, ErrBadBlockHeader
	}
	code := binary.LittleEndian.Uint32(b[0:4])
	n := binary.LittleEndian.Uint32(b[4:8])
	b = b[8:]
	rec := Record{Code: code}
	for i := uint32(0); i < n; i++ {
		if len(b) < 8 {
			return Record{}, nil, ErrShortRecord
		}
		rec.Ops = append(rec.Ops, int64(binary.LittleEndian.Uint64(b[0:8])))
		b = b[8:]
	}
	return rec, b, nil
}

// funcInfo carries the per-function parse state: the originating
// Block, whose records Compile copies through verbatim for unmodified
// instructions, plus the two bookkeeping tables below.
type funcInfo struct {
	src *Block

	// relID is allocated empty by lowerFunction; nothing fills or
	// reads it.
	relID map[il.ValueID]int64

	// blockOfRecord maps a parsed instruction's originating record
	// index to the il.Block it landed in. Compile does not read it.
	blockOfRecord map[int]il.BlockID
}

// lower walks m.Blocks, creating one il.Function per BlockFunction
// block found (recursively, since a module may nest function blocks
// under a module-level block), and lowering each function's records
// to IL instructions. Constants blocks, whether at module level or
// nested inside a function, are not lowered: their records are not
// added to the program's constant map and are not moved.
func (m *Module) lower() error {
	var walk func(b *Block) error
	walk = func(b *Block) error {
		switch b.ID {
		case BlockFunction:
			if err := m.lowerFunction(b); err != nil {
				return err
			}
		case BlockConstants:
			// Left as it is: neither a nested nor a module-level
			// constants block is interned into Program.Consts().
		}
		for _, sub := range b.Subblocks {
			if err := walk(sub); err != nil {
				return err
			}
		}
		return nil
	}
	for _, b := range m.Blocks {
		if err := walk(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) lowerFunction(b *Block) error {
	i32 := m.Program.Types().Intern(il.IntType{BitWidth: 32, Signed: true})
	voidT := m.Program.Types().Intern(il.VoidType{})
	fn := m.Program.NewFunction("func", voidT, []il.TypeID{i32})

	fi := &funcInfo{src: b, relID: make(map[il.ValueID]int64), blockOfRecord: make(map[int]il.BlockID)}
	m.funcs[fn] = fi

	cur := fn.NewBlock()
	emit := il.NewEmitter(m.Program, cur)
	anchor := make([]il.ValueID, 0, len(b.Records))

	resolve := func(rel int64) il.ValueID {
		n := len(anchor)
		idx := n - int(rel)
		if idx < 0 || idx >= n {
			return 0
		}
		return anchor[idx]
	}

	// pendingPhi defers resolving a phi's incoming values until every
	// record in the function has an anchor entry, mirroring
	// instrument.go's pendingPhis patch on the write side: a phi's
	// incoming value commonly names a record that appears later (e.g.
	// a loop induction variable updated in the loop body, after the
	// header phi), which resolve above cannot reach since it only
	// looks backward into the anchor built so far.
	type pendingPhi struct {
		instr *il.Instruction
		ops   []int64
	}
	var pendingPhis []pendingPhi

	for i, rec := range b.Records {
		switch rec.Code {
		case recBinOp:
			if len(rec.Ops) < 3 {
				return ErrShortRecord
			}
			op, ok := binToOp[uint32(rec.Ops[0])]
			if !ok {
				return ErrUnsupportedOp
			}
			instr := &il.Instruction{Op: op, Source: i, Args: []il.ValueID{resolve(rec.Ops[1]), resolve(rec.Ops[2])}}
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID

		case recCmp:
			if len(rec.Ops) < 4 {
				return ErrShortRecord
			}
			op, ok := cmpToOp[uint32(rec.Ops[0])]
			if !ok {
				return ErrUnsupportedOp
			}
			instr := &il.Instruction{Op: op, Source: i, Args: []il.ValueID{resolve(rec.Ops[2]), resolve(rec.Ops[3])}}
			instr.SetSigned(rec.Ops[1] != 0)
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID

		case recCast:
			if len(rec.Ops) < 3 {
				return ErrShortRecord
			}
			instr := &il.Instruction{Op: castOp(uint32(rec.Ops[0])), Source: i, Args: []il.ValueID{resolve(rec.Ops[1])}, Type: il.TypeID(rec.Ops[2])}
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID

		case recAlloca:
			instr := &il.Instruction{Op: il.OpAlloca, Source: i}
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID

		case recLoad:
			if len(rec.Ops) < 1 {
				return ErrShortRecord
			}
			instr := &il.Instruction{Op: il.OpLoad, Source: i, Args: []il.ValueID{resolve(rec.Ops[0])}}
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID

		case recStore:
			if len(rec.Ops) < 2 {
				return ErrShortRecord
			}
			instr := &il.Instruction{Op: il.OpStore, Source: i, Args: []il.ValueID{resolve(rec.Ops[0]), resolve(rec.Ops[1])}}
			emit.Append(instr)
			anchor = append(anchor, 0)
			fi.blockOfRecord[i] = cur.ID

		case recCall:
			callee := ""
			if len(rec.Ops) > 0 {
				callee = calleeName(uint32(rec.Ops[0]))
			}
			args := make([]il.ValueID, 0, len(rec.Ops)-1)
			for _, o := range rec.Ops[1:] {
				args = append(args, resolve(o))
			}
			if lowered, ok := lowerIntrinsic(callee, args); ok {
				lowered.Source = i
				id := emit.Append(&lowered)
				anchor = append(anchor, id)
			} else {
				instr := &il.Instruction{Op: il.OpUnexposed, Source: i, Args: args, Aux: il.CallAux{Callee: callee}}
				id := emit.Append(instr)
				anchor = append(anchor, id)
			}
			fi.blockOfRecord[i] = cur.ID

		case recBr:
			switch len(rec.Ops) {
			case 1:
				emit.Append(&il.Instruction{Op: il.OpBranch, Source: i, Targets: []il.BlockID{il.BlockID(rec.Ops[0])}})
			case 3:
				emit.Append(&il.Instruction{
					Op:      il.OpBranchConditional,
					Source:  i,
					Args:    []il.ValueID{resolve(rec.Ops[0])},
					Targets: []il.BlockID{il.BlockID(rec.Ops[1]), il.BlockID(rec.Ops[2])},
				})
			default:
				return ErrShortRecord
			}
			anchor = append(anchor, 0)
			fi.blockOfRecord[i] = cur.ID
			cur = fn.NewBlock()
			emit.SetCursor(cur, -1)

		case recSwitch:
			if len(rec.Ops) < 2 || len(rec.Ops)%2 != 0 {
				return ErrShortRecord
			}
			def := il.BlockID(rec.Ops[1])
			var cases []il.SwitchCase
			for k := 2; k+1 < len(rec.Ops); k += 2 {
				cases = append(cases, il.SwitchCase{Value: rec.Ops[k], Target: il.BlockID(rec.Ops[k+1])})
			}
			emit.Append(&il.Instruction{
				Op:      il.OpSwitch,
				Source:  i,
				Args:    []il.ValueID{resolve(rec.Ops[0])},
				Targets: []il.BlockID{def},
				Aux:     cases,
			})
			anchor = append(anchor, 0)
			fi.blockOfRecord[i] = cur.ID
			cur = fn.NewBlock()
			emit.SetCursor(cur, -1)

		case recPhi:
			if len(rec.Ops)%2 != 0 {
				return ErrShortRecord
			}
			// Incoming values are resolved in the deferred pass below,
			// once every record (including ones appearing after this
			// phi) has a final anchor position.
			instr := &il.Instruction{Op: il.OpPhi, Source: i}
			id := emit.Append(instr)
			anchor = append(anchor, id)
			fi.blockOfRecord[i] = cur.ID
			pendingPhis = append(pendingPhis, pendingPhi{instr: instr, ops: append([]int64(nil), rec.Ops...)})

		case recRet:
			emit.Append(&il.Instruction{Op: il.OpReturn, Source: i})
			anchor = append(anchor, 0)
			fi.blockOfRecord[i] = cur.ID

		case recUnreachable:
			emit.Append(&il.Instruction{Op: il.OpUnreachable, Source: i})
			anchor = append(anchor, 0)
			fi.blockOfRecord[i] = cur.ID

		default:
			return ErrUnsupportedOp
		}
	}

	// Resolve phi incoming values now that anchor holds a final entry
	// for every record in the function, so a forward reference (the
	// ordinary shape for a loop induction variable) finds its target
	// the same way a backward one does.
	n := len(anchor)
	for _, pp := range pendingPhis {
		var inc []il.PhiIncoming
		for k := 0; k+1 < len(pp.ops); k += 2 {
			idx := n - int(pp.ops[k])
			var v il.ValueID
			if idx >= 0 && idx < n {
				v = anchor[idx]
			}
			inc = append(inc, il.PhiIncoming{Value: v, Pred: il.BlockID(pp.ops[k+1])})
		}
		pp.instr.Aux = inc
	}

	return nil
}

func castOp(kind uint32) il.Op {
	switch kind {
	case 0:
		return il.OpTrunc
	case 1:
		return il.OpFloatToInt
	case 2:
		return il.OpIntToFloat
	default:
		return il.OpBitCast
	}
}

// calleeName resolves an intrinsic's on-wire ID to the mangled
// callee name the recognizer below matches against.
func calleeName(id uint32) string {
	if name, ok := intrinsicNames[id]; ok {
		return name
	}
	return "unknown.intrinsic"
}

var intrinsicNames = map[uint32]string{
	1: "dx.op.bufferLoad",
	2: "dx.op.bufferStore",
	3: "dx.op.textureLoad",
	4: "dx.op.textureStore",
	5: "dx.op.getDimensions",
}

// lowerIntrinsic matches a recognized mangled callee name and lowers
// it to a dedicated resource Op; it reports false if the callee is
// not one of the handful this backend interprets semantically, in
// which case the caller falls back to an Unexposed call.
func lowerIntrinsic(callee string, args []il.ValueID) (il.Instruction, bool) {
	switch callee {
	case "dx.op.bufferLoad":
		return il.Instruction{Op: il.OpLoadBuffer, Args: args}, true
	case "dx.op.bufferStore":
		return il.Instruction{Op: il.OpStoreBuffer, Args: args}, true
	case "dx.op.textureLoad":
		return il.Instruction{Op: il.OpLoadTexture, Args: args}, true
	case "dx.op.textureStore":
		return il.Instruction{Op: il.OpStoreTexture, Args: args}, true
	case "dx.op.getDimensions":
		return il.Instruction{Op: il.OpResourceSize, Args: args}, true
	default:
		return il.Instruction{}, false
	}
}
