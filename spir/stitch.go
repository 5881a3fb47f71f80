// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package spir

import (
	"encoding/binary"

	"github.com/gviegas/shaderprobe/il"
)

// Stitch recompiles fn via Compile and serializes the whole module
// back to bytes: concatenate every section's instruction words in the
// fixed section order ("stitch concatenates relocation blocks per
// section in the fixed section order"), substituting the function
// section with the recompiled stream.
func (m *Module) Stitch(fn *il.Function) ([]byte, error) {
	compiled, err := m.Compile(fn)
	if err != nil {
		return nil, err
	}

	var buf []byte
	var hdr [20]byte
	binary.LittleEndian.PutUint32(hdr[0:4], m.Header.Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], m.Header.Version)
	binary.LittleEndian.PutUint32(hdr[8:12], m.Header.Generator)
	binary.LittleEndian.PutUint32(hdr[12:16], m.Header.Bound)
	binary.LittleEndian.PutUint32(hdr[16:20], m.Header.Schema)
	buf = append(buf, hdr[:]...)

	for sec := Section(0); sec < numSections; sec++ {
		insts := m.Sections[sec]
		if sec == SecFunction {
			insts = compiled
		}
		for _, in := range insts {
			buf = appendInst(buf, in)
		}
	}
	return buf, nil
}

func appendInst(buf []byte, in Inst) []byte {
	wordCount := uint32(len(in.Operands) + 1)
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], wordCount<<16|uint32(in.Opcode))
	buf = append(buf, w[:]...)
	for _, op := range in.Operands {
		binary.LittleEndian.PutUint32(w[:], op)
		buf = append(buf, w[:]...)
	}
	return buf
}
