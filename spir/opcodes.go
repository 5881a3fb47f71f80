// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package spir

// Opcodes this backend interprets semantically. Anything else is
// carried through as an il.OpUnexposed instruction (or, in sections
// with no IL representation, copied as a raw Inst at stitch time).
const (
	opCapability     uint16 = 17
	opExtension      uint16 = 10
	opExtInstImport  uint16 = 11
	opMemoryModel    uint16 = 14
	opEntryPoint     uint16 = 15
	opExecutionMode  uint16 = 16
	opString         uint16 = 7
	opSource         uint16 = 3
	opName           uint16 = 5
	opMemberName     uint16 = 6
	opDecorate       uint16 = 71
	opMemberDecorate uint16 = 72

	opTypeVoid    uint16 = 19
	opTypeBool    uint16 = 20
	opTypeInt     uint16 = 21
	opTypeFloat   uint16 = 22
	opTypeVector  uint16 = 23
	opTypeMatrix  uint16 = 24
	opTypeArray   uint16 = 28
	opTypeStruct  uint16 = 30
	opTypePointer uint16 = 32
	opTypeFunc    uint16 = 33
	opConstant    uint16 = 43
	opConstantTru uint16 = 41
	opConstantFal uint16 = 42
	opVariable    uint16 = 59

	opFunction    uint16 = 54
	opFuncParam   uint16 = 55
	opLabel       uint16 = 248
	opBranch      uint16 = 249
	opBranchCond  uint16 = 250
	opSwitch      uint16 = 251
	opPhi         uint16 = 245
	opReturn      uint16 = 253
	opUnreachable uint16 = 255
	opSelMerge    uint16 = 247
	opLoopMerge   uint16 = 246

	opLoad  uint16 = 61
	opStore uint16 = 62

	opIAdd  uint16 = 128
	opISub  uint16 = 130
	opIMul  uint16 = 132
	opSDiv  uint16 = 135
	opUDiv  uint16 = 134
	opSRem  uint16 = 137
	opFAdd  uint16 = 129
	opFSub  uint16 = 131
	opFMul  uint16 = 133
	opFDiv  uint16 = 136
	opShl   uint16 = 196
	opShr   uint16 = 197
	opBitAnd uint16 = 199
	opBitOr  uint16 = 197 + 1
	opBitXor uint16 = 201
	opLAnd  uint16 = 167
	opLOr   uint16 = 166

	opIEqual       uint16 = 170
	opINotEqual    uint16 = 171
	opSLessThan    uint16 = 177
	opULessThan    uint16 = 176
	opSLessEqual   uint16 = 179
	opULessEqual   uint16 = 178
	opSGreaterThan uint16 = 173
	opUGreaterThan uint16 = 172
	opFOrdLessThan uint16 = 184

	opLogicalEqual uint16 = 164
	opLogicalAnd   uint16 = 167

	opBitcast       uint16 = 124
	opConvertFToS   uint16 = 110
	opConvertSToF   uint16 = 111
	opUConvert      uint16 = 113

	opImageTexelPointer uint16 = 60
	opAtomicIAdd        uint16 = 234
	opAccessChain       uint16 = 65
	opImageWrite        uint16 = 99
)

func isTypeConstOrGlobal(op uint16) bool {
	switch op {
	case opTypeVoid, opTypeBool, opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix,
		opTypeArray, opTypeStruct, opTypePointer, opTypeFunc,
		opConstant, opConstantTru, opConstantFal, opVariable:
		return true
	default:
		return false
	}
}

func isArithOpcode(op uint16) bool {
	switch op {
	case opIAdd, opFAdd, opISub, opFSub, opIMul, opFMul, opSDiv, opUDiv, opFDiv,
		opSRem, opShl, opShr, opBitAnd, opBitOr, opBitXor, opLAnd, opLOr:
		return true
	default:
		return false
	}
}

func isCmpOpcode(op uint16) bool {
	switch op {
	case opIEqual, opINotEqual, opSLessThan, opULessThan, opSLessEqual, opULessEqual,
		opSGreaterThan, opUGreaterThan, opFOrdLessThan, opLogicalEqual:
		return true
	default:
		return false
	}
}
