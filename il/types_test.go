// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

import "testing"

func TestTypeMapInterns(t *testing.T) {
	m := newTypeMap()
	a := m.Intern(IntType{BitWidth: 32, Signed: true})
	b := m.Intern(IntType{BitWidth: 32, Signed: true})
	if a != b {
		t.Fatalf("expected equal types to intern to the same ID, got %d and %d", a, b)
	}
	c := m.Intern(IntType{BitWidth: 32, Signed: false})
	if c == a {
		t.Fatalf("expected a differently-signed IntType to intern to a distinct ID")
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 distinct types, got %d", m.Len())
	}
}

func TestTypeMapCompositeDistinctness(t *testing.T) {
	m := newTypeMap()
	i32 := m.Intern(IntType{BitWidth: 32, Signed: true})
	f32 := m.Intern(FPType{BitWidth: 32})

	v1 := m.Intern(VectorType{Elem: i32, Dim: 4})
	v2 := m.Intern(VectorType{Elem: i32, Dim: 4})
	if v1 != v2 {
		t.Fatalf("expected equal vector types to share an ID")
	}
	v3 := m.Intern(VectorType{Elem: f32, Dim: 4})
	if v3 == v1 {
		t.Fatalf("expected vectors of different element types to be distinct")
	}

	s1 := m.Intern(StructType{Members: []TypeID{i32, f32}})
	s2 := m.Intern(StructType{Members: []TypeID{f32, i32}})
	if s1 == s2 {
		t.Fatalf("expected member order to distinguish struct types")
	}
}

func TestTypeMapAtRoundTrips(t *testing.T) {
	m := newTypeMap()
	id := m.Intern(BoolType{})
	got := m.At(id)
	if got.Kind() != KBool {
		t.Fatalf("At(%d) = %v, want KBool", id, got.Kind())
	}
}
