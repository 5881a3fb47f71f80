// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package bitcode

import (
	"bytes"
	"encoding/binary"

	"github.com/gviegas/shaderprobe/il"
)

// Stitch recompiles fn via Compile and serializes the whole module
// back to bytes, substituting fn's originating block with the
// recompiled one and leaving every other top-level block untouched.
// Unmodified functions (not present in m.funcs, or never touched by
// any feature) therefore round-trip byte-identical except at fn's
// own block span, matching the round-trip testable property of
// spec §8 for the modified-function case.
func (m *Module) Stitch(fn *il.Function) ([]byte, error) {
	compiled, err := m.Compile(fn)
	if err != nil {
		return nil, err
	}

	fi := m.funcs[fn]
	blocks := make([]*Block, len(m.Blocks))
	copy(blocks, m.Blocks)
	replaceBlock(blocks, fi.src, compiled)

	var buf bytes.Buffer
	var hdr [8]byte
	copy(hdr[0:4], m.Header.Magic[:])
	binary.LittleEndian.PutUint32(hdr[4:8], m.Header.Version)
	buf.Write(hdr[:])
	for _, b := range blocks {
		writeBlock(&buf, b)
	}
	return buf.Bytes(), nil
}

// replaceBlock substitutes old with replacement wherever it occurs
// (by pointer identity) among blocks or their descendants, preserving
// every sibling untouched.
func replaceBlock(blocks []*Block, old, replacement *Block) bool {
	for i, b := range blocks {
		if b == old {
			blocks[i] = replacement
			return true
		}
		if replaceBlock(b.Subblocks, old, replacement) {
			return true
		}
	}
	return false
}

func writeBlock(buf *bytes.Buffer, b *Block) {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(b.ID))
	binary.LittleEndian.PutUint32(hdr[4:8], b.AbbrevLen)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(b.Records)))
	buf.Write(hdr[:])

	for _, rec := range b.Records {
		writeRecord(buf, rec)
	}

	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b.Abbrevs)))
	buf.Write(n[:])
	for _, ab := range b.Abbrevs {
		var abHdr [8]byte
		binary.LittleEndian.PutUint32(abHdr[0:4], ab.ID)
		binary.LittleEndian.PutUint32(abHdr[4:8], uint32(len(ab.Ops)))
		buf.Write(abHdr[:])
		for _, op := range ab.Ops {
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], uint64(op))
			buf.Write(w[:])
		}
	}

	binary.LittleEndian.PutUint32(n[:], uint32(len(b.Subblocks)))
	buf.Write(n[:])
	for _, sub := range b.Subblocks {
		writeBlock(buf, sub)
	}
}

func writeRecord(buf *bytes.Buffer, rec Record) {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], rec.Code)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(rec.Ops)))
	buf.Write(hdr[:])
	for _, op := range rec.Ops {
		var w [8]byte
		binary.LittleEndian.PutUint64(w[:], uint64(op))
		buf.Write(w[:])
	}
}
