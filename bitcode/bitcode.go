// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package bitcode parses, mutates, and re-emits a stack-based SSA
// bitcode: a block-structured container of records and abbreviations
// using relative-ID operand encoding for forward references. It
// lowers that representation into an il.Program, accepts feature
// injection against the program, and recompiles modified functions
// back into the bitcode shape, copying unmodified records through
// verbatim.
package bitcode

import (
	"encoding/binary"
	"errors"

	"github.com/gviegas/shaderprobe/il"
)

const prefix = "bitcode: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// Errors returned by Parse and Compile.
var (
	ErrBadMagic       = newErr("bad magic number")
	ErrBadBlockHeader = newErr("malformed block header")
	ErrShortRecord    = newErr("record has fewer operands than its opcode requires")
	ErrUnsupportedOp  = newErr("unsupported opcode")
)

// Magic is the leading 4-byte identifier of this bitcode family.
var Magic = [4]byte{'B', 'C', 0xC0, 0xDE}

// BlockID identifies a logical block kind within the container
// (distinct from il.BlockID, which identifies an IL basic block).
type BlockID uint32

// Block kinds of interest to the parser.
const (
	BlockModule BlockID = iota
	BlockType
	BlockConstants
	BlockFunction
	BlockValueSymtab
	BlockMetadata
	BlockStringTable
)

// Record is one variable-width operand record within a Block, in
// declaration order. Code is the record's opcode (meaning is
// block-kind-specific); Ops are its raw operand words.
type Record struct {
	Code uint32
	Ops  []int64
}

// Abbreviation is a compressed record-encoding template. The parser
// only needs to know that a record was emitted via an abbreviation to
// preserve it on verbatim copy; the encoding details are opaque here.
type Abbreviation struct {
	ID  uint32
	Ops []int64
}

// Block is a logical block of the container: an ID, an abbreviation
// width, a sequence of records and abbreviation definitions in
// declaration order, and nested sub-blocks.
type Block struct {
	ID        BlockID
	AbbrevLen uint32
	Records   []Record
	Abbrevs   []Abbreviation
	Subblocks []*Block
}

// Header is the 4-byte magic plus version word that precedes the
// block stream.
type Header struct {
	Magic   [4]byte
	Version uint32
}

// Module is a parsed bitcode container: its header, its top-level
// blocks, and the IL program lowered from its function blocks.
type Module struct {
	Header Header
	Blocks []*Block

	Program *il.Program

	// funcs maps each il.Function to the parse state needed to
	// recompile it: its originating Block and the anchor/relative-ID
	// bookkeeping built during parse.
	funcs map[*il.Function]*funcInfo
}

// Parse scans raw into a Module, including a full lowering of every
// function block into Module.Program. It does not instrument
// anything; callers run feature injection against Module.Program
// afterward, then call Module.Compile to recompile.
func Parse(raw []byte) (*Module, error) {
	if len(raw) < 8 || [4]byte(raw[:4]) != Magic {
		return nil, ErrBadMagic
	}
	hdr := Header{Magic: Magic, Version: binary.LittleEndian.Uint32(raw[4:8])}

	blocks, err := parseBlocks(raw[8:])
	if err != nil {
		return nil, err
	}

	m := &Module{
		Header:  hdr,
		Blocks:  blocks,
		Program: il.NewProgram(),
		funcs:   make(map[*il.Function]*funcInfo),
	}
	if err := m.lower(); err != nil {
		return nil, err
	}
	return m, nil
}
