// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "fmt"

// TypeKind tags the variant of a Type.
type TypeKind uint8

// Type variants.
const (
	KVoid TypeKind = iota
	KBool
	KInt
	KFP
	KVector
	KMatrix
	KPointer
	KArray
	KStruct
	KBuffer
	KTexture
	KFunction
	KUnexposed
)

// SamplerMode describes how a resource type is sampled.
type SamplerMode uint8

// Sampler modes.
const (
	SamplerNone SamplerMode = iota
	SamplerComparison
	SamplerFiltered
)

// Type is a tagged variant over the shapes a shader value may take.
// Types are interned: two syntactically equal types, within one
// Program, always share the same TypeID (see typeMap). Implementors
// are plain structs; Kind is the discriminant and key is used only by
// the interning map, never compared directly by callers.
type Type interface {
	Kind() TypeKind
	key() string
}

// VoidType is the empty type, used as a function's return type when
// it produces no value.
type VoidType struct{}

func (VoidType) Kind() TypeKind { return KVoid }
func (VoidType) key() string    { return "v" }

// BoolType is the boolean type.
type BoolType struct{}

func (BoolType) Kind() TypeKind { return KBool }
func (BoolType) key() string    { return "b" }

// IntType is a signed or unsigned integer of a given bit width.
type IntType struct {
	BitWidth int
	Signed   bool
}

func (IntType) Kind() TypeKind { return KInt }
func (t IntType) key() string  { return fmt.Sprintf("i%d:%v", t.BitWidth, t.Signed) }

// FPType is a floating-point type of a given bit width.
type FPType struct {
	BitWidth int
}

func (FPType) Kind() TypeKind { return KFP }
func (t FPType) key() string  { return fmt.Sprintf("f%d", t.BitWidth) }

// VectorType is a fixed-size vector of a scalar element type.
type VectorType struct {
	Elem TypeID
	Dim  int
}

func (VectorType) Kind() TypeKind { return KVector }
func (t VectorType) key() string  { return fmt.Sprintf("vec%d:%d", t.Elem, t.Dim) }

// MatrixType is a fixed-size matrix of a scalar element type.
type MatrixType struct {
	Elem TypeID
	Rows int
	Cols int
}

func (MatrixType) Kind() TypeKind { return KMatrix }
func (t MatrixType) key() string  { return fmt.Sprintf("mat%d:%dx%d", t.Elem, t.Rows, t.Cols) }

// AddrSpace identifies a pointer's storage class.
type AddrSpace uint8

// Address spaces.
const (
	SpacePrivate AddrSpace = iota
	SpaceGroupShared
	SpaceDevice
	SpaceConstant
)

// PointerType is a pointer into a given address space.
type PointerType struct {
	Space   AddrSpace
	Pointee TypeID
}

func (PointerType) Kind() TypeKind { return KPointer }
func (t PointerType) key() string  { return fmt.Sprintf("ptr%d:%d", t.Space, t.Pointee) }

// ArrayType is a fixed-length array.
type ArrayType struct {
	Elem  TypeID
	Count int
}

func (ArrayType) Kind() TypeKind { return KArray }
func (t ArrayType) key() string  { return fmt.Sprintf("arr%d:%d", t.Elem, t.Count) }

// StructType is an ordered sequence of member types.
type StructType struct {
	Members []TypeID
}

func (StructType) Kind() TypeKind { return KStruct }
func (t StructType) key() string  { return fmt.Sprintf("struct%v", t.Members) }

// TexelFormat identifies the element format of a typed Buffer/Texture
// resource.
type TexelFormat uint16

// BufferType is a structured or typed GPU buffer resource.
type BufferType struct {
	Elem        TypeID
	TexelFormat TexelFormat
	SamplerMode SamplerMode
}

func (BufferType) Kind() TypeKind { return KBuffer }
func (t BufferType) key() string {
	return fmt.Sprintf("buf%d:%d:%d", t.Elem, t.TexelFormat, t.SamplerMode)
}

// TextureDim identifies a texture resource's dimensionality.
type TextureDim uint8

// Texture dimensions.
const (
	Tex1D TextureDim = iota
	Tex2D
	Tex3D
	TexCube
)

// TextureType is a texture resource.
type TextureType struct {
	Dim         TextureDim
	Sampled     bool
	MS          bool
	SamplerMode SamplerMode
	Format      TexelFormat
}

func (TextureType) Kind() TypeKind { return KTexture }
func (t TextureType) key() string {
	return fmt.Sprintf("tex%d:%v:%v:%d:%d", t.Dim, t.Sampled, t.MS, t.SamplerMode, t.Format)
}

// FunctionType is a function signature.
type FunctionType struct {
	Ret    TypeID
	Params []TypeID
}

func (FunctionType) Kind() TypeKind { return KFunction }
func (t FunctionType) key() string  { return fmt.Sprintf("fn%d:%v", t.Ret, t.Params) }

// UnexposedType preserves a type the parser did not need to interpret
// semantically, identified by its original bytecode encoding so it
// can be reproduced verbatim on recompile.
type UnexposedType struct {
	Orig string
}

func (UnexposedType) Kind() TypeKind { return KUnexposed }
func (t UnexposedType) key() string  { return "u:" + t.Orig }

// typeMap interns Types by structural key, returning a canonical
// TypeID for syntactically equal types. It owns every Type it
// returns; a TypeID is only meaningful within the Program whose
// typeMap produced it, never across Program boundaries.
type typeMap struct {
	byKey map[string]TypeID
	types []Type
}

func newTypeMap() *typeMap {
	return &typeMap{byKey: make(map[string]TypeID), types: make([]Type, 0, 16)}
}

// Intern returns the canonical TypeID for t, interning it if this is
// the first time an equal Type is seen.
func (m *typeMap) Intern(t Type) TypeID {
	k := t.key()
	if id, ok := m.byKey[k]; ok {
		return id
	}
	id := TypeID(len(m.types))
	m.types = append(m.types, t)
	m.byKey[k] = id
	return id
}

// At returns the Type for a previously interned TypeID. It panics if
// id was never interned in this map.
func (m *typeMap) At(id TypeID) Type { return m.types[id] }

// Len reports how many distinct types have been interned.
func (m *typeMap) Len() int { return len(m.types) }
