// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package schedule

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gviegas/shaderprobe/bitcode"
	"github.com/gviegas/shaderprobe/driver"
	"github.com/gviegas/shaderprobe/feature"
)

// fakeBuffer is a host-visible driver.Buffer backed by a plain slice,
// the same shape export's own tests use.
type fakeBuffer struct{ data []byte }

func (b *fakeBuffer) Bytes() []byte { return b.data }
func (b *fakeBuffer) Cap() int64    { return int64(len(b.data)) }
func (b *fakeBuffer) Destroy()      {}

// fakeGPU implements just enough of driver.GPU for NewExportPool:
// buffer allocation. Every other method panics if called, since no
// test here exercises command recording.
type fakeGPU struct{ drv driver.Driver }

func (g *fakeGPU) Driver() driver.Driver { return g.drv }
func (g *fakeGPU) Commit(*driver.WorkItem, chan<- *driver.WorkItem) error {
	panic("not implemented")
}
func (g *fakeGPU) NewCmdBuffer() (driver.CmdBuffer, error) { panic("not implemented") }
func (g *fakeGPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	return &fakeBuffer{data: make([]byte, size)}, nil
}
func (g *fakeGPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	panic("not implemented")
}
func (g *fakeGPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	panic("not implemented")
}
func (g *fakeGPU) Limits() driver.Limits { return driver.Limits{} }

// fakeDriver is a driver.Driver that always opens the same fakeGPU.
type fakeDriver struct {
	name string
	gpu  *fakeGPU
}

func newFakeDriver(name string) *fakeDriver {
	d := &fakeDriver{name: name}
	d.gpu = &fakeGPU{drv: d}
	return d
}

func (d *fakeDriver) Open() (driver.GPU, error) { return d.gpu, nil }
func (d *fakeDriver) Name() string              { return d.name }
func (d *fakeDriver) Close()                    {}

// Wire-format record codes mirroring bitcode's unexported
// recAlloca/recLoad/recStore/recRet constants (parse.go), reproduced
// here since the schedule package only ever sees bytecode from the
// outside, the same way a real host application would.
const (
	recAlloca uint32 = 6
	recLoad   uint32 = 7
	recStore  uint32 = 8
	recRet    uint32 = 10
)

// buildMinimalBitcode encodes a single function block — alloca, load,
// store, return — as a standalone byte stream, using the same layout
// bitcode.Parse expects: magic, version, then one BlockFunction block
// of {id, abbrevLen, numRecords, records..., numAbbrevs=0, numSub=0}.
func buildMinimalBitcode(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(bitcode.Magic[:])
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], 1)
	buf.Write(ver[:])

	records := []struct {
		code uint32
		ops  []int64
	}{
		{recAlloca, nil},
		{recLoad, []int64{1}},
		{recStore, []int64{1, 1}},
		{recRet, nil},
	}

	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(bitcode.BlockFunction))
	binary.LittleEndian.PutUint32(hdr[4:8], 2)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(records)))
	buf.Write(hdr[:])

	for _, r := range records {
		var rhdr [8]byte
		binary.LittleEndian.PutUint32(rhdr[0:4], r.code)
		binary.LittleEndian.PutUint32(rhdr[4:8], uint32(len(r.ops)))
		buf.Write(rhdr[:])
		for _, op := range r.ops {
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], uint64(op))
			buf.Write(w[:])
		}
	}

	var zero [4]byte
	buf.Write(zero[:]) // numAbbrevs
	buf.Write(zero[:]) // numSub
	return buf.Bytes()
}

func TestOnMessageGlobalDirtiesEveryKnownShader(t *testing.T) {
	s := NewScheduler(feature.NewRegistry())
	a := NewShaderState(uuid.New(), nil)
	b := NewShaderState(uuid.New(), nil)
	s.RegisterShader(a)
	s.RegisterShader(b)

	// RegisterShader already dirties; drain it first so the assertion
	// below is about SetGlobalInstrumentation specifically.
	s.snapshot()

	s.OnMessage(SetGlobalInstrumentation{FeatureBits: 1})

	s.mu.Lock()
	_, dirtyA := s.dirtyShaders[a]
	_, dirtyB := s.dirtyShaders[b]
	s.mu.Unlock()
	if !dirtyA || !dirtyB {
		t.Fatalf("expected global reconfiguration to dirty every known shader")
	}
}

func TestOnMessageShaderOverrideDirtiesDependentPipelines(t *testing.T) {
	s := NewScheduler(feature.NewRegistry())
	sh := NewShaderState(uuid.New(), nil)
	p := NewPipelineState(uuid.New(), 0, sh)
	s.RegisterShader(sh)
	s.RegisterPipeline(p)
	s.snapshot()

	s.OnMessage(SetShaderInstrumentation{Shader: sh, FeatureBits: 2})

	s.mu.Lock()
	_, dirtyP := s.dirtyPipelines[p]
	s.mu.Unlock()
	if !dirtyP {
		t.Fatalf("expected a shader override to dirty its dependent pipelines")
	}
	if sh.LocalBits() != 2 {
		t.Fatalf("LocalBits() = %d, want 2", sh.LocalBits())
	}
}

func TestCommitCompilesAndLinksSingleShaderPipeline(t *testing.T) {
	raw := buildMinimalBitcode(t)
	s := NewScheduler(feature.NewRegistry())
	sh := NewShaderState(uuid.New(), raw)
	p := NewPipelineState(uuid.New(), 4, sh)
	s.RegisterShader(sh)
	s.RegisterPipeline(p)

	head := s.Commit()
	if head != 1 {
		t.Fatalf("Commit() = %d, want 1", head)
	}

	key := InstrumentationKey{FeatureBitSet: 0, PipelineLayoutUserSlots: 4}
	v, ok := sh.Variant(key)
	if !ok {
		t.Fatalf("expected a compiled variant for key %+v", key)
	}
	if !bytes.Equal(v.Bytes, raw) {
		t.Fatalf("expected an unmodified compile to round-trip byte-identical")
	}
	if !p.Linked() {
		t.Fatalf("expected the pipeline to be linked once its shader's variant exists")
	}
}

func TestCommitSkipsPipelineOnMalformedShaderBytecode(t *testing.T) {
	s := NewScheduler(feature.NewRegistry())
	sh := NewShaderState(uuid.New(), []byte{0, 1, 2, 3})
	p := NewPipelineState(uuid.New(), 0, sh)
	s.RegisterShader(sh)
	s.RegisterPipeline(p)

	s.Commit()

	if p.Linked() {
		t.Fatalf("expected the pipeline to remain unlinked when its shader failed to compile")
	}
}

func TestNewSchedulerWithDriverOpensRegisteredDriverAndBuildsExportPool(t *testing.T) {
	driver.Register(newFakeDriver("fake-schedule-driver"))

	s, err := NewSchedulerWithDriver(feature.NewRegistry(), "fake-schedule-driver")
	if err != nil {
		t.Fatalf("NewSchedulerWithDriver: %v", err)
	}
	if s.GPU() == nil {
		t.Fatalf("expected the scheduler to hold the opened GPU")
	}

	pool, err := s.NewExportPool(4, 2, 256, 4096)
	if err != nil {
		t.Fatalf("NewExportPool: %v", err)
	}
	if pool == nil {
		t.Fatalf("expected a non-nil export.Pool")
	}
}

func TestNewSchedulerWithDriverRejectsUnknownName(t *testing.T) {
	if _, err := NewSchedulerWithDriver(feature.NewRegistry(), "no-such-driver"); err != ErrDriverNotFound {
		t.Fatalf("NewSchedulerWithDriver(unknown) = %v, want ErrDriverNotFound", err)
	}
}

func TestNewExportPoolRejectsSchedulerWithNoGPUBound(t *testing.T) {
	s := NewScheduler(feature.NewRegistry())
	if _, err := s.NewExportPool(1, 1, 1, 1); err != ErrNoGPUBound {
		t.Fatalf("NewExportPool on undriven scheduler = %v, want ErrNoGPUBound", err)
	}
}

func TestWaitUnblocksOnceHeadReachesTarget(t *testing.T) {
	s := NewScheduler(feature.NewRegistry())
	done := make(chan struct{})
	go func() {
		s.Wait(1)
		close(done)
	}()

	s.Commit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not unblock after Commit")
	}
}
