// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package il

// identMap is the program's identifier allocator. It hands out dense,
// monotonic ValueIDs, never reusing one, and records which kind of
// entity (instruction, parameter, or global) each ID resolves to so
// that IL consumers can classify an operand without a linear search
// of the function list.
//
// Unlike the engine's dataMap (which frees and reuses slots via a
// bitm.Bitm free-list), identMap never frees: IL identifiers live
// exactly as long as the Program itself, so a bare append-only slice
// is both simpler and the correct fit here.
type identMap struct {
	kinds []DefKind
	defs  map[ValueID]*Instruction
}

func newIdentMap() *identMap {
	// ID 0 is reserved as the invalid sentinel.
	return &identMap{kinds: make([]DefKind, 1, 64), defs: make(map[ValueID]*Instruction)}
}

func (m *identMap) alloc(kind DefKind) ValueID {
	id := ValueID(len(m.kinds))
	m.kinds = append(m.kinds, kind)
	return id
}

func (m *identMap) allocInstr() ValueID { return m.alloc(DefInstr) }

func (m *identMap) allocParam(funcIdx, paramIdx int) ValueID { return m.alloc(DefParam) }

func (m *identMap) allocGlobal(globalIdx int) ValueID { return m.alloc(DefGlobal) }

// bindInstr associates id (previously returned by allocInstr) with
// the instruction that defines it.
func (m *identMap) bindInstr(id ValueID, instr *Instruction) { m.defs[id] = instr }

// instr looks up the instruction that defines id, if any.
func (m *identMap) instr(id ValueID) (*Instruction, bool) {
	i, ok := m.defs[id]
	return i, ok
}

func (m *identMap) resolve(id ValueID) (DefKind, bool) {
	if id == 0 || int(id) >= len(m.kinds) {
		return 0, false
	}
	return m.kinds[id], true
}

// Len reports the number of identifiers allocated so far, including
// the reserved zero ID.
func (m *identMap) Len() int { return len(m.kinds) }
