// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import (
	"fmt"
	"math"
)

// ConstKind tags the variant of a Const.
type ConstKind uint8

// Const variants.
const (
	CBool ConstKind = iota
	CInt
	CFP
	CUndef
	CUnexposed
)

// Const is a tagged variant over constant values. Constants are
// interned per (type, scalar bits) within a Program, same as Types;
// Undef is distinct per type.
type Const interface {
	Kind() ConstKind
	Type() TypeID
}

// BoolConst is a boolean constant.
type BoolConst struct {
	Typ   TypeID
	Value bool
}

func (c BoolConst) Kind() ConstKind { return CBool }
func (c BoolConst) Type() TypeID    { return c.Typ }

// IntConst is an integer constant, stored sign-extended to 64 bits
// regardless of the associated type's bit width.
type IntConst struct {
	Typ   TypeID
	Value int64
}

func (c IntConst) Kind() ConstKind { return CInt }
func (c IntConst) Type() TypeID    { return c.Typ }

// FPConst is a floating-point constant, stored widened to 64 bits
// regardless of the associated type's bit width.
type FPConst struct {
	Typ   TypeID
	Value float64
}

func (c FPConst) Kind() ConstKind { return CFP }
func (c FPConst) Type() TypeID    { return c.Typ }

// UndefConst is an unspecified value of a given type. It is distinct
// per type: UndefConst{Typ: a} and UndefConst{Typ: b} share a ConstID
// only when a == b — interning collapses repeated requests for the
// *same* type to one ID.
type UndefConst struct {
	Typ TypeID
}

func (c UndefConst) Kind() ConstKind { return CUndef }
func (c UndefConst) Type() TypeID    { return c.Typ }

// UnexposedConst preserves a constant the parser did not need to
// interpret semantically, carrying its raw encoded bytes so it can be
// reproduced verbatim on recompile.
type UnexposedConst struct {
	Typ TypeID
	Raw []byte
}

func (c UnexposedConst) Kind() ConstKind { return CUnexposed }
func (c UnexposedConst) Type() TypeID    { return c.Typ }

// constKey identifies a constant for interning purposes.
type constKey struct {
	typ  TypeID
	kind ConstKind
	bits uint64
	raw  string
}

func keyOf(c Const) constKey {
	k := constKey{typ: c.Type(), kind: c.Kind()}
	switch v := c.(type) {
	case BoolConst:
		if v.Value {
			k.bits = 1
		}
	case IntConst:
		k.bits = uint64(v.Value)
	case FPConst:
		k.bits = math.Float64bits(v.Value)
	case UndefConst:
		// bits left at zero: Undef is distinct solely by type+kind.
	case UnexposedConst:
		k.raw = string(v.Raw)
	}
	return k
}

// constMap interns Consts by (type, scalar key), same scheme as
// typeMap. It owns constants via a bump-allocated slice: constants
// are appended and never individually freed, matching the reference
// implementation's block-allocator discipline for the constant pool.
type constMap struct {
	byKey map[constKey]ConstID
	vals  []Const
}

func newConstMap() *constMap {
	return &constMap{byKey: make(map[constKey]ConstID), vals: make([]Const, 0, 16)}
}

// Intern returns the canonical ConstID for c, allocating a new bump
// slot only if an equal constant has not already been interned.
func (m *constMap) Intern(c Const) ConstID {
	k := keyOf(c)
	if id, ok := m.byKey[k]; ok {
		return id
	}
	id := ConstID(len(m.vals))
	m.vals = append(m.vals, c)
	m.byKey[k] = id
	return id
}

// At returns the Const for a previously interned ConstID. It panics
// if id was never interned in this map.
func (m *constMap) At(id ConstID) Const { return m.vals[id] }

// Len reports how many distinct constants have been interned.
func (m *constMap) Len() int { return len(m.vals) }

// String implements fmt.Stringer for diagnostics.
func (c constKey) String() string {
	return fmt.Sprintf("{%d %d %#x %q}", c.typ, c.kind, c.bits, c.raw)
}
