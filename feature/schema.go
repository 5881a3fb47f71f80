// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package feature

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gviegas/shaderprobe/il"
)

// sguidBitCount is the width reserved for the optional Shader-SGUID
// field at the head of a non-structured message, matching the
// reference generator's kShaderSGUIDBitCount.
const sguidBitCount = 16

// SGUID is a short per-shader-source-location identifier baked into
// export messages for debug attribution. It is meaningless without
// the SGUIDTable that allocated it.
type SGUID uint32

// InvalidSGUID is returned when a binding cannot be made (out of
// indices, or no source association available).
const InvalidSGUID SGUID = 1<<32 - 1

// ShaderSourceMapping identifies a single shader source location:
// which shader, which file, which line and column.
type ShaderSourceMapping struct {
	ShaderGUID uuid.UUID
	File       string
	Line       int
	Column     int
}

// SGUIDTable hands out and resolves SGUIDs. It deduplicates by source
// mapping: binding the same location twice returns the same SGUID.
type SGUIDTable struct {
	mu      sync.Mutex
	byKey   map[ShaderSourceMapping]SGUID
	lookup  []ShaderSourceMapping
	free    []SGUID
	counter SGUID
}

// NewSGUIDTable creates an empty table sized to sguidBitCount bits of
// addressable SGUIDs.
func NewSGUIDTable() *SGUIDTable {
	return &SGUIDTable{
		byKey:  make(map[ShaderSourceMapping]SGUID),
		lookup: make([]ShaderSourceMapping, 1<<sguidBitCount),
	}
}

// Bind returns the SGUID for mapping, allocating one if this is the
// first time this exact location has been bound. It returns
// InvalidSGUID if the table's index space is exhausted.
func (t *SGUIDTable) Bind(mapping ShaderSourceMapping) SGUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byKey[mapping]; ok {
		return id
	}

	var id SGUID
	switch {
	case len(t.free) > 0:
		id = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	case t.counter < 1<<sguidBitCount:
		id = t.counter
		t.counter++
	default:
		return InvalidSGUID
	}

	t.byKey[mapping] = id
	t.lookup[id] = mapping
	return id
}

// Mapping returns the source mapping bound to sguid. For an sguid
// that was never bound it returns the zero ShaderSourceMapping; it
// panics if sguid lies outside the table (e.g. InvalidSGUID),
// mirroring slice indexing.
func (t *SGUIDTable) Mapping(sguid SGUID) ShaderSourceMapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup[sguid]
}

// Release frees sguid for reuse. Call this only once nothing can
// still reference it (e.g. the owning shader state was destroyed).
func (t *SGUIDTable) Release(sguid SGUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, t.lookup[sguid])
	t.free = append(t.free, sguid)
}

// Field is one member of a message Schema: a name and a bit width.
type Field struct {
	Name string
	Bits int
}

// Schema declares a feature's shader export message layout: a fixed
// set of bit-packed fields, written as a single 32-bit key per
// Export. NoSGUID opts the message out of the leading Shader-SGUID
// field.
type Schema struct {
	Name    string
	NoSGUID bool
	Fields  []Field
}

// CompiledSchema is a Schema with bit offsets assigned: the layout an
// Export instruction's Construct call and a message consumer's decode
// both use.
type CompiledSchema struct {
	Schema
	Offsets   map[string]int
	TotalBits int
}

// CompileSchema assigns a bit offset to every field of s (prepending
// the Shader-SGUID field unless s.NoSGUID), returning an error if the
// packed layout would exceed 32 bits. This mirrors the reference
// generator's non-structured write path; the structured (>32-bit)
// path it stubs out is equally out of scope here.
func CompileSchema(s Schema) (*CompiledSchema, error) {
	fields := s.Fields
	if !s.NoSGUID {
		fields = append([]Field{{Name: "sguid", Bits: sguidBitCount}}, fields...)
	}

	cs := &CompiledSchema{Schema: Schema{Name: s.Name, NoSGUID: s.NoSGUID, Fields: fields}, Offsets: make(map[string]int, len(fields))}
	offset := 0
	for _, f := range fields {
		cs.Offsets[f.Name] = offset
		offset += f.Bits
	}
	if offset > 32 {
		return nil, newErr("schema " + s.Name + " exceeds 32 bits")
	}
	cs.TotalBits = offset
	return cs, nil
}

// Construct emits the bit-packing sequence for one message instance:
// `value = 0; for each field: value |= fieldValue << offset`. values
// must provide an entry for every field in cs.Fields other than
// "sguid" (which, when present, is supplied via the sguid parameter
// and materialized as a literal, not looked up in values). It returns
// the resulting 32-bit packed value.
func (cs *CompiledSchema) Construct(prog *il.Program, e *il.Emitter, values map[string]il.ValueID, sguid SGUID) il.ValueID {
	u32 := prog.Types().Intern(il.IntType{BitWidth: 32, Signed: false})
	acc := literal(prog, e, u32, 0)

	for _, f := range cs.Fields {
		var fv il.ValueID
		if f.Name == "sguid" {
			fv = literal(prog, e, u32, int64(sguid))
		} else {
			fv = values[f.Name]
		}
		shift := literal(prog, e, u32, int64(cs.Offsets[f.Name]))
		shifted := e.Append(&il.Instruction{Op: il.OpShl, Type: u32, Args: []il.ValueID{fv, shift}, Source: -1})
		acc = e.Append(&il.Instruction{Op: il.OpBitOr, Type: u32, Args: []il.ValueID{acc, shifted}, Source: -1})
	}
	return acc
}

// literal materializes an integer constant as an SSA value via
// OpLiteral, the bridge between the constant pool and the ValueID
// operand space.
func literal(prog *il.Program, e *il.Emitter, typ il.TypeID, value int64) il.ValueID {
	c := prog.Consts().Intern(il.IntConst{Typ: typ, Value: value})
	return e.Append(&il.Instruction{Op: il.OpLiteral, Type: typ, Aux: c, Source: -1})
}
