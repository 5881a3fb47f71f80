// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package feature

import (
	"testing"

	"github.com/gviegas/shaderprobe/il"
)

type stubFeature struct {
	name      string
	id        FeatureID
	installOK bool
	injected  int
}

func (f *stubFeature) Name() string { return f.name }
func (f *stubFeature) Install(r *Registry, id FeatureID) bool {
	f.id = id
	return f.installOK
}
func (f *stubFeature) CollectExports(s *MessageStream) {}
func (f *stubFeature) Inject(p *il.Program) error {
	f.injected++
	return nil
}
func (f *stubFeature) CollectMessages(sink MessageSink) {}

func TestRegisterAssignsSequentialBits(t *testing.T) {
	r := NewRegistry()
	a := &stubFeature{name: "a", installOK: true}
	b := &stubFeature{name: "b", installOK: true}

	idA, err := r.Register(a)
	if err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	idB, err := r.Register(b)
	if err != nil {
		t.Fatalf("Register(b): %v", err)
	}
	if idA == idB {
		t.Fatalf("expected distinct bits, got %d and %d", idA, idB)
	}
	if idA.Bit()&idB.Bit() != 0 {
		t.Fatalf("expected non-overlapping bit masks")
	}
}

func TestRegisterFreesSlotOnInstallFailure(t *testing.T) {
	r := NewRegistry()
	bad := &stubFeature{name: "bad", installOK: false}
	if _, err := r.Register(bad); err != ErrInstallFailed {
		t.Fatalf("Register(bad) = %v, want ErrInstallFailed", err)
	}

	good := &stubFeature{name: "good", installOK: true}
	id, err := r.Register(good)
	if err != nil {
		t.Fatalf("Register(good): %v", err)
	}
	if id != 0 {
		t.Fatalf("expected the freed bit 0 to be reused, got %d", id)
	}
	if len(r.Features()) != 1 {
		t.Fatalf("expected only the successfully installed feature to be registered")
	}
}

func TestEnabledPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	mk := func(name string) *stubFeature { return &stubFeature{name: name, installOK: true} }
	fa, fb, fc := mk("a"), mk("b"), mk("c")
	for _, f := range []*stubFeature{fa, fb, fc} {
		if _, err := r.Register(f); err != nil {
			t.Fatalf("Register(%s): %v", f.name, err)
		}
	}
	all := fa.id.Bit() | fb.id.Bit() | fc.id.Bit()
	for _, f := range r.Enabled(all) {
		order = append(order, f.(*stubFeature).name)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected registration order [a b c], got %v", order)
	}
}

func TestMessageStreamPublishDeduplicates(t *testing.T) {
	var s MessageStream
	schema := &CompiledSchema{Schema: Schema{Name: "x"}}
	s.Publish(schema)
	s.Publish(schema)
	if len(s.Schemas) != 1 {
		t.Fatalf("expected Publish to dedupe by identity, got %d entries", len(s.Schemas))
	}
}
