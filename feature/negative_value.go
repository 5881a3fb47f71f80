// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package feature

import (
	"github.com/gviegas/shaderprobe/il"
)

// NegativeValueFeature detects buffer stores of a value that, read
// as signed, is negative: a common sign/unsigned confusion bug in
// compute shaders. It demonstrates the guarded-export injection shape
// every Feature uses.
type NegativeValueFeature struct {
	id     FeatureID
	schema *CompiledSchema
	sguids *SGUIDTable
	stream int

	messages []decodedMessage
}

type decodedMessage struct {
	sguid SGUID
	value uint32
}

// NewNegativeValueFeature creates the feature. stream is the physical
// export stream index the streamer assigned this feature's schema.
func NewNegativeValueFeature(stream int) *NegativeValueFeature {
	return &NegativeValueFeature{sguids: NewSGUIDTable(), stream: stream}
}

func (f *NegativeValueFeature) Name() string { return "WritingNegativeValue" }

func (f *NegativeValueFeature) Install(r *Registry, id FeatureID) bool {
	schema, err := CompileSchema(Schema{
		Name:   "WritingNegativeValue",
		Fields: []Field{{Name: "value", Bits: 16}},
	})
	if err != nil {
		return false
	}
	f.id = id
	f.schema = schema
	return true
}

func (f *NegativeValueFeature) CollectExports(stream *MessageStream) {
	stream.Publish(f.schema)
}

// Inject guards every StoreBuffer instruction with a check that its
// stored value, interpreted as signed, is negative.
func (f *NegativeValueFeature) Inject(program *il.Program) error {
	for _, fn := range program.Funcs {
		for _, b := range fn.Blocks {
			var targets []*il.Instruction
			for _, in := range b.Instrs {
				if in.Op == il.OpStoreBuffer && in.TrivialCopy() {
					targets = append(targets, in)
				}
			}
			// Each guard moves its target into a new tail block, so
			// later targets of b are looked up in the latest tail.
			cur := b
			for _, in := range targets {
				cur = f.guard(program, fn, cur, in)
			}
		}
	}
	return nil
}

func (f *NegativeValueFeature) guard(prog *il.Program, fn *il.Function, b *il.Block, target *il.Instruction) *il.Block {
	value := target.Args[len(target.Args)-1]
	typ := valueType(prog, value)

	mapping := ShaderSourceMapping{ShaderGUID: prog.GUID, File: fn.Name, Line: int(b.ID), Column: indexOf(b, target)}
	sguid := f.sguids.Bind(mapping)

	cond := func(e *il.Emitter) il.ValueID {
		zero := literal(prog, e, typ, 0)
		c := &il.Instruction{Op: il.OpLt, Args: []il.ValueID{value, zero}, Source: -1}
		c.SetSigned(true)
		return e.Append(c)
	}
	msg := func(e *il.Emitter) il.ValueID {
		return f.schema.Construct(prog, e, map[string]il.ValueID{"value": value}, sguid)
	}

	return GuardStore(prog, fn, b, target, cond, msg, f.stream, &ExportAux{Feature: f.id, Schema: f.schema, SGUID: sguid})
}

// CollectMessages hands each raw key fed since the last call to sink,
// with its SGUID split out, and then forgets them. The other fields
// are not decoded; Message.Raw carries the whole key.
func (f *NegativeValueFeature) CollectMessages(sink MessageSink) {
	for _, m := range f.messages {
		sink.Emit(Message{Feature: f.id, SGUID: m.sguid, Raw: m.value})
	}
	f.messages = f.messages[:0]
}

// Feed hands raw keys read from this feature's export stream to the
// feature, so a later CollectMessages call can report them. Each
// key's low sguidBitCount bits are taken as its SGUID. Nothing in
// this module calls Feed; whoever drains the stream does.
func (f *NegativeValueFeature) Feed(raw []uint32) {
	for _, r := range raw {
		sguid := SGUID(r & (1<<sguidBitCount - 1))
		f.messages = append(f.messages, decodedMessage{sguid: sguid, value: r})
	}
}
