// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package spir

import "github.com/gviegas/shaderprobe/il"

// lowerDeclarations interns every type and constant in the
// declarations section before any instruction that uses them is
// lowered, per spec §4.3 ("types are interned first; they come
// before use").
func (m *Module) lowerDeclarations(typeOf map[uint32]il.TypeID) {
	constOf := make(map[uint32]il.ConstID)
	for _, in := range m.Sections[SecDeclarations] {
		switch in.Opcode {
		case opTypeVoid:
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.VoidType{})
		case opTypeBool:
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.BoolType{})
		case opTypeInt:
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.IntType{BitWidth: int(in.Operands[1]), Signed: in.Operands[2] != 0})
		case opTypeFloat:
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.FPType{BitWidth: int(in.Operands[1])})
		case opTypeVector:
			elem := typeOf[in.Operands[1]]
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.VectorType{Elem: elem, Dim: int(in.Operands[2])})
		case opTypeMatrix:
			elem := typeOf[in.Operands[1]]
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.MatrixType{Elem: elem, Rows: int(in.Operands[2]), Cols: int(in.Operands[2])})
		case opTypeArray:
			elem := typeOf[in.Operands[1]]
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.ArrayType{Elem: elem, Count: int(in.Operands[2])})
		case opTypeStruct:
			members := make([]il.TypeID, len(in.Operands)-1)
			for i, o := range in.Operands[1:] {
				members[i] = typeOf[o]
			}
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.StructType{Members: members})
		case opTypePointer:
			pointee := typeOf[in.Operands[2]]
			typeOf[in.Operands[0]] = m.Program.Types().Intern(il.PointerType{Space: il.AddrSpace(in.Operands[1]), Pointee: pointee})
		case opConstant:
			typ := typeOf[in.Operands[0]]
			val := int64(0)
			if len(in.Operands) > 2 {
				val = int64(int32(in.Operands[2]))
			}
			constOf[in.Operands[1]] = m.Program.Consts().Intern(il.IntConst{Typ: typ, Value: val})
		case opConstantTru:
			typ := typeOf[in.Operands[0]]
			constOf[in.Operands[1]] = m.Program.Consts().Intern(il.BoolConst{Typ: typ, Value: true})
		case opConstantFal:
			typ := typeOf[in.Operands[0]]
			constOf[in.Operands[1]] = m.Program.Consts().Intern(il.BoolConst{Typ: typ, Value: false})
		case opVariable:
			typ := typeOf[in.Operands[0]]
			m.Program.NewGlobal("", typ)
		}
	}
}

// lowerInstr lowers a single function-section instruction to an IL
// Instruction. It returns the SPIR result ID (0 if the instruction
// produces none) and the lowered instruction; a nil instruction with
// a nil error means "nothing to emit" (e.g. a decoration-only word
// this simplified parser skips inside the function body).
func (m *Module) lowerInstr(idx int, in Inst, typeOf map[uint32]il.TypeID, resultOf map[uint32]il.ValueID) (uint32, *il.Instruction, error) {
	resolve := func(id uint32) il.ValueID { return resultOf[id] }

	switch {
	case isArithOpcode(in.Opcode):
		if len(in.Operands) < 4 {
			return 0, nil, ErrTruncated
		}
		op, ok := arithToOp[in.Opcode]
		if !ok {
			return 0, nil, ErrUnsupportedOp
		}
		instr := &il.Instruction{
			Op:   op,
			Type: typeOf[in.Operands[0]],
			Args: []il.ValueID{resolve(in.Operands[2]), resolve(in.Operands[3])},
		}
		return in.Operands[1], instr, nil

	case isCmpOpcode(in.Opcode):
		if len(in.Operands) < 4 {
			return 0, nil, ErrTruncated
		}
		op, ok := cmpToILOp[in.Opcode]
		if !ok {
			return 0, nil, ErrUnsupportedOp
		}
		instr := &il.Instruction{
			Op:   op,
			Type: typeOf[in.Operands[0]],
			Args: []il.ValueID{resolve(in.Operands[2]), resolve(in.Operands[3])},
		}
		instr.SetSigned(isSignedVariant(in.Opcode))
		return in.Operands[1], instr, nil

	case in.Opcode == opBitcast || in.Opcode == opConvertFToS || in.Opcode == opConvertSToF || in.Opcode == opUConvert:
		if len(in.Operands) < 3 {
			return 0, nil, ErrTruncated
		}
		op := il.OpBitCast
		switch in.Opcode {
		case opConvertFToS:
			op = il.OpFloatToInt
		case opConvertSToF:
			op = il.OpIntToFloat
		}
		instr := &il.Instruction{Op: op, Type: typeOf[in.Operands[0]], Args: []il.ValueID{resolve(in.Operands[2])}}
		return in.Operands[1], instr, nil

	case in.Opcode == opLoad:
		if len(in.Operands) < 3 {
			return 0, nil, ErrTruncated
		}
		instr := &il.Instruction{Op: il.OpLoad, Type: typeOf[in.Operands[0]], Args: []il.ValueID{resolve(in.Operands[2])}}
		return in.Operands[1], instr, nil

	case in.Opcode == opStore:
		if len(in.Operands) < 2 {
			return 0, nil, ErrTruncated
		}
		instr := &il.Instruction{Op: il.OpStore, Args: []il.ValueID{resolve(in.Operands[0]), resolve(in.Operands[1])}}
		return 0, instr, nil

	case in.Opcode == opBranch:
		if len(in.Operands) < 1 {
			return 0, nil, ErrTruncated
		}
		return 0, &il.Instruction{Op: il.OpBranch, Targets: []il.BlockID{il.BlockID(in.Operands[0])}}, nil

	case in.Opcode == opBranchCond:
		if len(in.Operands) < 3 {
			return 0, nil, ErrTruncated
		}
		instr := &il.Instruction{
			Op:      il.OpBranchConditional,
			Args:    []il.ValueID{resolve(in.Operands[0])},
			Targets: []il.BlockID{il.BlockID(in.Operands[1]), il.BlockID(in.Operands[2])},
		}
		return 0, instr, nil

	case in.Opcode == opSwitch:
		if len(in.Operands) < 2 {
			return 0, nil, ErrTruncated
		}
		def := il.BlockID(in.Operands[1])
		var cases []il.SwitchCase
		for k := 2; k+1 < len(in.Operands); k += 2 {
			cases = append(cases, il.SwitchCase{Value: int64(in.Operands[k]), Target: il.BlockID(in.Operands[k+1])})
		}
		instr := &il.Instruction{
			Op:      il.OpSwitch,
			Args:    []il.ValueID{resolve(in.Operands[0])},
			Targets: []il.BlockID{def},
			Aux:     cases,
		}
		return 0, instr, nil

	case in.Opcode == opPhi:
		if len(in.Operands) < 2 || len(in.Operands)%2 != 0 {
			return 0, nil, ErrTruncated
		}
		var inc []il.PhiIncoming
		for k := 2; k+1 < len(in.Operands); k += 2 {
			inc = append(inc, il.PhiIncoming{Value: resolve(in.Operands[k]), Pred: il.BlockID(in.Operands[k+1])})
		}
		instr := &il.Instruction{Op: il.OpPhi, Type: typeOf[in.Operands[0]], Aux: inc}
		return in.Operands[1], instr, nil

	case in.Opcode == opReturn:
		return 0, &il.Instruction{Op: il.OpReturn}, nil

	case in.Opcode == opUnreachable:
		return 0, &il.Instruction{Op: il.OpUnreachable}, nil

	default:
		// Not semantically interpreted: carried through unexposed so
		// recompile can still reproduce it (no result tracking since
		// this simplified parser does not need to reference it later).
		return 0, &il.Instruction{Op: il.OpUnexposed, Aux: il.CallAux{Callee: "spir.unexposed"}}, nil
	}
}
