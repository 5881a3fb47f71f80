// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package spir parses, mutates, and re-emits a structured SSA
// bytecode: a flat instruction stream partitioned into logical
// sections (capabilities, extensions, imported externals, memory
// model, entry points, execution modes, debug strings, annotations,
// declarations, functions). Mutation happens through a relocation
// stream per section; recompile walks the IL and either copies an
// instruction's source words through verbatim or synthesizes a new
// encoding, then stitch concatenates every section's relocation
// blocks in the fixed section order.
package spir

import (
	"encoding/binary"
	"errors"

	"github.com/gviegas/shaderprobe/il"
)

const prefix = "spir: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// Errors returned by Parse and Compile.
var (
	ErrBadMagic        = newErr("bad magic number")
	ErrBadHeader       = newErr("malformed header")
	ErrTruncated       = newErr("instruction stream truncated mid-operand")
	ErrUnsupportedOp   = newErr("unsupported opcode")
	ErrNoMergeInferred = newErr("conditional branch has no inferable merge block")
)

// Magic is the leading word of the 5-word header.
const Magic uint32 = 0x07230203

// Section identifies one of the fixed logical partitions of the
// instruction stream. Sections always stitch back in this order.
type Section int

// Sections, in fixed stitch order.
const (
	SecCapabilities Section = iota
	SecExtensions
	SecImportedExtInst
	SecMemoryModel
	SecEntryPoint
	SecExecutionMode
	SecDebugString
	SecAnnotation
	SecDeclarations
	SecFunction
	numSections
)

// Header is the 5-word preamble: magic, version, generator, bound
// (one past the highest result ID used), and schema (always 0).
type Header struct {
	Magic     uint32
	Version   uint32
	Generator uint32
	Bound     uint32
	Schema    uint32
}

// Inst is one raw instruction word group: opcode, word count, and
// operand words (result ID and result-type ID, when present, are
// just the first one or two operand words — this format does not
// special-case their position beyond what Parse needs to build the
// IL).
type Inst struct {
	Opcode   uint16
	Operands []uint32
}

// Module is a parsed SPIR-style module: its header, its instructions
// grouped by section, and the IL program lowered from the function
// section.
type Module struct {
	Header   Header
	Sections [numSections][]Inst

	Program *il.Program

	funcs map[*il.Function]*funcInfo
}

// Parse decodes raw into a Module and lowers its function section
// into Module.Program. Types are interned before use, as the words
// arrive in a single linear pass (spec §4.3's "types are interned
// first; they come before use").
func Parse(raw []byte) (*Module, error) {
	if len(raw) < 20 {
		return nil, ErrBadHeader
	}
	hdr := Header{
		Magic:     binary.LittleEndian.Uint32(raw[0:4]),
		Version:   binary.LittleEndian.Uint32(raw[4:8]),
		Generator: binary.LittleEndian.Uint32(raw[8:12]),
		Bound:     binary.LittleEndian.Uint32(raw[12:16]),
		Schema:    binary.LittleEndian.Uint32(raw[16:20]),
	}
	if hdr.Magic != Magic {
		return nil, ErrBadMagic
	}

	insts, err := parseInstructions(raw[20:])
	if err != nil {
		return nil, err
	}

	m := &Module{Header: hdr, Program: il.NewProgram(), funcs: make(map[*il.Function]*funcInfo)}
	m.partition(insts)
	if err := m.lower(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseInstructions(b []byte) ([]Inst, error) {
	var insts []Inst
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrTruncated
		}
		word := binary.LittleEndian.Uint32(b[0:4])
		wordCount := word >> 16
		opcode := uint16(word & 0xFFFF)
		if wordCount == 0 {
			return nil, ErrBadHeader
		}
		need := int(wordCount-1) * 4
		if len(b) < 4+need {
			return nil, ErrTruncated
		}
		ops := make([]uint32, wordCount-1)
		for i := range ops {
			ops[i] = binary.LittleEndian.Uint32(b[4+i*4 : 8+i*4])
		}
		insts = append(insts, Inst{Opcode: opcode, Operands: ops})
		b = b[4+need:]
	}
	return insts, nil
}

// partition buckets insts into their logical section by opcode,
// mirroring spec §4.3's "section partitioning is logical, not
// on-wire": capability/extension/import/memory-model/entry-point/
// execution-mode/debug/annotation opcodes come first in a fixed
// relative order in any valid stream, followed by type/constant/
// global-variable declarations, followed by functions.
func (m *Module) partition(insts []Inst) {
	for _, in := range insts {
		m.Sections[sectionOf(in.Opcode)] = append(m.Sections[sectionOf(in.Opcode)], in)
	}
}

func sectionOf(op uint16) Section {
	switch {
	case op == opCapability:
		return SecCapabilities
	case op == opExtension:
		return SecExtensions
	case op == opExtInstImport:
		return SecImportedExtInst
	case op == opMemoryModel:
		return SecMemoryModel
	case op == opEntryPoint:
		return SecEntryPoint
	case op == opExecutionMode:
		return SecExecutionMode
	case op == opString || op == opSource || op == opName || op == opMemberName:
		return SecDebugString
	case op == opDecorate || op == opMemberDecorate:
		return SecAnnotation
	case isTypeConstOrGlobal(op):
		return SecDeclarations
	default:
		return SecFunction
	}
}
