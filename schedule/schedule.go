// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package schedule coalesces dirty shaders and pipelines, fans out
// their recompilation to a worker pool, and publishes the resulting
// instrumented bytecode variants. It is the only component that picks
// between the bitcode and SPIR backends (by magic number) and the
// only one that knows about a shader's or pipeline's feature-bit
// configuration; bitcode, spir, il, and feature stay unaware of it.
package schedule

import (
	"encoding/binary"
	"errors"
	"log"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/gviegas/shaderprobe/bitcode"
	"github.com/gviegas/shaderprobe/driver"
	"github.com/gviegas/shaderprobe/export"
	"github.com/gviegas/shaderprobe/feature"
	"github.com/gviegas/shaderprobe/spir"
)

const prefix = "schedule: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// Errors returned by compile jobs. They never propagate out of
// Commit: a failed job is logged and its shader/pipeline is left
// uninstrumented for that key, per §7's error taxonomy.
var (
	ErrUnrecognizedBytecode = newErr("unrecognized bytecode family")
	ErrNoEntryFunction      = newErr("bytecode module contains no function to instrument")
)

// ErrDriverNotFound means no driver package registered itself under
// the requested name (see driver.Register).
var ErrDriverNotFound = newErr("no driver registered under that name")

// ErrNoGPUBound means NewExportPool was called against a Scheduler
// created with NewScheduler instead of NewSchedulerWithDriver: there
// is no GPU to allocate the pool's buffers from.
var ErrNoGPUBound = newErr("scheduler has no GPU bound; use NewSchedulerWithDriver")

// InstrumentationKey identifies one instrumented variant of a shader:
// the feature bit set it was compiled under, and the user-root-slot
// count of the pipeline layout it is bound into (export descriptors
// are appended after the layout's own slots, so the variant's code
// differs per slot count). Plain struct equality is its identity —
// no custom hash is needed, unlike the reference implementation.
type InstrumentationKey struct {
	FeatureBitSet           uint64
	PipelineLayoutUserSlots uint32
}

// InstrumentedBytecode is one compiled, instrumented variant of a
// shader's bytecode, keyed by InstrumentationKey in ShaderState.
type InstrumentedBytecode struct {
	Bytes []byte
}

// ShaderState is the per-shader bookkeeping the scheduler owns: the
// original bytecode, the shader's own feature-bit override, and the
// cache of instrumented variants already compiled for it. Spec §3
// calls this shape out as "the core only needs" from a shader state;
// this is that minimal shape made concrete.
type ShaderState struct {
	GUID     uuid.UUID
	Bytecode []byte

	mu        sync.RWMutex
	localBits uint64
	variants  map[InstrumentationKey]*InstrumentedBytecode
}

// NewShaderState creates a shader state wrapping the given bytecode.
// It is not dirty and not known to any Scheduler until passed to
// Scheduler.RegisterShader.
func NewShaderState(guid uuid.UUID, bytecode []byte) *ShaderState {
	return &ShaderState{GUID: guid, Bytecode: bytecode, variants: make(map[InstrumentationKey]*InstrumentedBytecode)}
}

// Variant returns the instrumented bytecode compiled for key, if any.
func (s *ShaderState) Variant(key InstrumentationKey) (*InstrumentedBytecode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[key]
	return v, ok
}

// LocalBits returns the shader's own feature-bit override.
func (s *ShaderState) LocalBits() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localBits
}

// PipelineState is the per-pipeline bookkeeping the scheduler owns:
// the shaders it references (one per stage) and the pipeline's own
// feature-bit override and root-layout user-slot count.
type PipelineState struct {
	GUID      uuid.UUID
	Shaders   []*ShaderState
	UserSlots uint32

	mu        sync.RWMutex
	localBits uint64
	linked    bool
}

// NewPipelineState creates a pipeline state referencing shaders. It
// is not known to any Scheduler until passed to
// Scheduler.RegisterPipeline.
func NewPipelineState(guid uuid.UUID, userSlots uint32, shaders ...*ShaderState) *PipelineState {
	return &PipelineState{GUID: guid, Shaders: append([]*ShaderState(nil), shaders...), UserSlots: userSlots}
}

// Linked reports whether every shader referenced by p currently has
// the variant CompilePipelines last required.
func (p *PipelineState) Linked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.linked
}

// Instrumentation control messages (§6), handed to OnMessage as
// already-parsed Go values by the external bridge.
type (
	// SetInstrumentationConfig records the synchronous-recording
	// setting, which SyncRecording reports. Commit does not consult it:
	// Commit always blocks the calling goroutine until the batch it
	// snapshots has fully compiled; callers that want the host API
	// thread never to block dispatch `go sched.Commit()` themselves and
	// use Wait.
	SetInstrumentationConfig struct {
		SynchronousRecording bool
	}

	// SetGlobalInstrumentation replaces the feature bit set applied to
	// every shader, and dirties every shader the scheduler knows about.
	SetGlobalInstrumentation struct {
		FeatureBits uint64
	}

	// SetShaderInstrumentation replaces one shader's own override and
	// dirties the shader plus every pipeline that references it.
	SetShaderInstrumentation struct {
		Shader      *ShaderState
		FeatureBits uint64
	}

	// SetPipelineInstrumentation replaces one pipeline's own override
	// and dirties the pipeline plus every shader it references.
	SetPipelineInstrumentation struct {
		Pipeline    *PipelineState
		FeatureBits uint64
	}
)

// Batch is a snapshot of the dirty set taken at the start of a
// commit: the set of shaders/pipelines a single three-stage pipeline
// run will attempt to (re)compile.
type Batch struct {
	Shaders   []*ShaderState
	Pipelines []*PipelineState
}

// Scheduler maintains the dirty shader/pipeline set and runs the
// three-stage commit pipeline (CompileShaders, CompilePipelines,
// CommitTable) against a shared worker pool, per §4.5.
type Scheduler struct {
	registry *feature.Registry
	workers  chan struct{}
	gpu      driver.GPU

	mu             sync.Mutex
	globalBits     uint64
	syncRecording  bool
	shaders        map[*ShaderState]struct{}
	dirtyShaders   map[*ShaderState]struct{}
	dirtyPipelines map[*PipelineState]struct{}
	pipelinesOf    map[*ShaderState][]*PipelineState

	commitMu sync.Mutex
	event    CompilationEvent
}

// NewScheduler creates a scheduler backed by registry, with a worker
// pool sized to runtime.GOMAXPROCS(-1), matching the teacher's
// staging-buffer pool precedent exactly.
func NewScheduler(registry *feature.Registry) *Scheduler {
	n := runtime.GOMAXPROCS(-1)
	return &Scheduler{
		registry:       registry,
		workers:        make(chan struct{}, n),
		shaders:        make(map[*ShaderState]struct{}),
		dirtyShaders:   make(map[*ShaderState]struct{}),
		dirtyPipelines: make(map[*PipelineState]struct{}),
		pipelinesOf:    make(map[*ShaderState][]*PipelineState),
		event:          newCompilationEvent(),
	}
}

// NewSchedulerWithDriver looks up name among the drivers that have
// registered themselves via driver.Register (client code imports the
// specific driver package for its side effect, same as driver.Drivers'
// own doc comment describes), opens it, and returns a Scheduler bound
// to the resulting GPU so NewExportPool can allocate export buffers
// through it.
func NewSchedulerWithDriver(registry *feature.Registry, name string) (*Scheduler, error) {
	var drv driver.Driver
	for _, d := range driver.Drivers() {
		if d.Name() == name {
			drv = d
			break
		}
	}
	if drv == nil {
		return nil, ErrDriverNotFound
	}
	gpu, err := drv.Open()
	if err != nil {
		return nil, err
	}
	s := NewScheduler(registry)
	s.gpu = gpu
	return s, nil
}

// GPU returns the GPU a driver-bound Scheduler opened, or nil for one
// created with plain NewScheduler.
func (s *Scheduler) GPU() driver.GPU { return s.gpu }

// NewExportPool builds an export.Pool whose counter and stream
// buffers are allocated through the Scheduler's bound GPU, wiring the
// driver selected by NewSchedulerWithDriver through to the export
// streamer's buffer allocation seam.
func (s *Scheduler) NewExportPool(capacity, nstream int, counterSize, streamSize int64) (*export.Pool, error) {
	if s.gpu == nil {
		return nil, ErrNoGPUBound
	}
	newCounter := func() (driver.Buffer, error) {
		return s.gpu.NewBuffer(counterSize, true, driver.UShaderWrite)
	}
	newStream := func() (driver.Buffer, error) {
		return s.gpu.NewBuffer(streamSize, true, driver.UShaderWrite)
	}
	return export.NewPool(capacity, nstream, newCounter, newStream), nil
}

// RegisterShader records a newly created shader and marks it dirty,
// modeling the "host application triggers shader creation" arrow of
// §2's data flow.
func (s *Scheduler) RegisterShader(sh *ShaderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shaders[sh] = struct{}{}
	s.dirtyShaders[sh] = struct{}{}
}

// RegisterPipeline records a newly created pipeline, indexes it
// against the shaders it references (so a later per-shader override
// can dirty its dependent pipelines), and marks the pipeline and its
// shaders dirty.
func (s *Scheduler) RegisterPipeline(p *PipelineState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirtyPipelines[p] = struct{}{}
	for _, sh := range p.Shaders {
		s.pipelinesOf[sh] = append(s.pipelinesOf[sh], p)
		s.shaders[sh] = struct{}{}
		s.dirtyShaders[sh] = struct{}{}
	}
}

// OnMessage applies a reconfiguration message, dirtying whatever
// shaders/pipelines it affects. It never triggers a commit itself —
// callers decide when to call Commit.
func (s *Scheduler) OnMessage(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case SetInstrumentationConfig:
		s.syncRecording = m.SynchronousRecording

	case SetGlobalInstrumentation:
		s.globalBits = m.FeatureBits
		for sh := range s.shaders {
			s.dirtyShaders[sh] = struct{}{}
		}

	case SetShaderInstrumentation:
		m.Shader.mu.Lock()
		m.Shader.localBits = m.FeatureBits
		m.Shader.mu.Unlock()
		s.dirtyShaders[m.Shader] = struct{}{}
		for _, p := range s.pipelinesOf[m.Shader] {
			s.dirtyPipelines[p] = struct{}{}
		}

	case SetPipelineInstrumentation:
		m.Pipeline.mu.Lock()
		m.Pipeline.localBits = m.FeatureBits
		m.Pipeline.mu.Unlock()
		s.dirtyPipelines[m.Pipeline] = struct{}{}
		for _, sh := range m.Pipeline.Shaders {
			s.dirtyShaders[sh] = struct{}{}
		}
	}
}

// SyncRecording reports the current synchronous-recording setting.
func (s *Scheduler) SyncRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncRecording
}

// Wait blocks until the scheduler's compilation head reaches target,
// for synchronous-recording callers holding a value previously
// returned by Commit.
func (s *Scheduler) Wait(target uint64) { s.event.Wait(target) }

// snapshot drains the dirty sets into a Batch under s.mu, leaving
// both sets empty for whatever dirties them next.
func (s *Scheduler) snapshot() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b Batch
	for sh := range s.dirtyShaders {
		b.Shaders = append(b.Shaders, sh)
	}
	for p := range s.dirtyPipelines {
		b.Pipelines = append(b.Pipelines, p)
	}
	s.dirtyShaders = make(map[*ShaderState]struct{})
	s.dirtyPipelines = make(map[*PipelineState]struct{})
	return b
}

// Commit snapshots the current dirty set and runs the three-stage
// commit pipeline against it, blocking until every stage completes.
// It serializes against any other in-flight Commit so that only one
// batch occupies the worker pool at a time. It returns the
// compilation-head value reached, for Wait.
//
// Effective bits (the global/shader/pipeline overrides folded into
// each InstrumentationKey) are read live at the moment each job
// actually runs, not snapshotted into the Batch: if OnMessage dirties
// the same shader again with new bits while this Commit is still
// compiling, the job sees the newer bits, and the shader stays
// eligible for the next Commit regardless — the later commit always
// wins, per §8's scheduler property.
func (s *Scheduler) Commit() uint64 {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	batch := s.snapshot()
	if len(batch.Shaders) > 0 {
		s.compileShaders(batch)
	}
	if len(batch.Pipelines) > 0 {
		s.compilePipelines(batch)
	}
	return s.commitTable()
}

// runPool runs fn(0), fn(1), ..., fn(n-1) concurrently, bounded by
// the scheduler's worker-token channel, and blocks until every call
// returns: a fixed-capacity channel of tokens plus a sync.WaitGroup
// per batch, exactly `engine/staging.go`'s commitStaging shape.
func (s *Scheduler) runPool(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		s.workers <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-s.workers }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// keysFor computes the distinct InstrumentationKeys sh currently
// needs: one per distinct (pipeline bits, pipeline user-slot count)
// combination among the pipelines referencing sh, folded with the
// scheduler's global bits and the shader's own override. A shader
// with no pipeline yet (freshly created, not linked into anything)
// gets a single bare key with zero user slots.
func (s *Scheduler) keysFor(sh *ShaderState) []InstrumentationKey {
	s.mu.Lock()
	global := s.globalBits
	pipelines := append([]*PipelineState(nil), s.pipelinesOf[sh]...)
	s.mu.Unlock()

	local := sh.LocalBits()

	if len(pipelines) == 0 {
		return []InstrumentationKey{{FeatureBitSet: global | local}}
	}

	seen := make(map[InstrumentationKey]struct{}, len(pipelines))
	var keys []InstrumentationKey
	for _, p := range pipelines {
		p.mu.RLock()
		pBits, slots := p.localBits, p.UserSlots
		p.mu.RUnlock()
		k := InstrumentationKey{FeatureBitSet: global | local | pBits, PipelineLayoutUserSlots: slots}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// compileShaders is stage 1: for every dirty shader, compute its
// effective keys and enqueue a compile job for each one missing a
// variant.
func (s *Scheduler) compileShaders(batch Batch) {
	s.runPool(len(batch.Shaders), func(i int) {
		sh := batch.Shaders[i]
		for _, key := range s.keysFor(sh) {
			if _, ok := sh.Variant(key); ok {
				continue
			}
			out, err := compileVariant(sh.Bytecode, s.registry, key.FeatureBitSet)
			if err != nil {
				log.Printf(prefix+"shader %s: compile failed for key %+v: %v; shader remains uninstrumented for that key", sh.GUID, key, err)
				continue
			}
			sh.mu.Lock()
			sh.variants[key] = &InstrumentedBytecode{Bytes: out}
			sh.mu.Unlock()
		}
	})
}

// compilePipelines is stage 2: for every dirty pipeline, confirm
// every referenced shader already has the variant its current
// effective key names; missing variants are logged and only that
// pipeline is skipped, per §7's "missing variant at link time" rule.
func (s *Scheduler) compilePipelines(batch Batch) {
	s.runPool(len(batch.Pipelines), func(i int) {
		p := batch.Pipelines[i]

		s.mu.Lock()
		global := s.globalBits
		s.mu.Unlock()

		p.mu.RLock()
		pBits, slots := p.localBits, p.UserSlots
		p.mu.RUnlock()

		for _, sh := range p.Shaders {
			key := InstrumentationKey{FeatureBitSet: global | sh.LocalBits() | pBits, PipelineLayoutUserSlots: slots}
			if _, ok := sh.Variant(key); !ok {
				log.Printf(prefix+"pipeline %s: missing variant for shader %s under key %+v; link skipped", p.GUID, sh.GUID, key)
				p.mu.Lock()
				p.linked = false
				p.mu.Unlock()
				return
			}
		}
		p.mu.Lock()
		p.linked = true
		p.mu.Unlock()
	})
}

// commitTable is stage 3: bump the compilation event, freeing any
// caller blocked in Wait. Variant installs already happened under
// each ShaderState's own mutex in stage 1 (a Go map write under a
// lock is immediately visible to any reader taking the same lock),
// so there is no separate publish step to perform here beyond the
// event bump itself.
func (s *Scheduler) commitTable() uint64 {
	return s.event.bumpHead()
}

// compileVariant dispatches on the bytecode's magic number, parses,
// injects the enabled features, and recompiles back to bytes.
func compileVariant(raw []byte, registry *feature.Registry, bits uint64) ([]byte, error) {
	switch {
	case len(raw) >= 4 && [4]byte(raw[:4]) == bitcode.Magic:
		m, err := bitcode.Parse(raw)
		if err != nil {
			return nil, err
		}
		if len(m.Program.Funcs) == 0 {
			return nil, ErrNoEntryFunction
		}
		if err := registry.Inject(m.Program, bits); err != nil {
			return nil, err
		}
		return m.Stitch(m.Program.Funcs[0])

	case len(raw) >= 4 && binary.LittleEndian.Uint32(raw[:4]) == spir.Magic:
		m, err := spir.Parse(raw)
		if err != nil {
			return nil, err
		}
		if len(m.Program.Funcs) == 0 {
			return nil, ErrNoEntryFunction
		}
		if err := registry.Inject(m.Program, bits); err != nil {
			return nil, err
		}
		return m.Stitch(m.Program.Funcs[0])

	default:
		return nil, ErrUnrecognizedBytecode
	}
}

// CompilationEvent is the scheduler's commit timestamp: head counts
// commits that have fully completed. Commit itself already blocks
// its caller until its own batch finishes and returns the head value
// it reached; Wait exists for a second goroutine that observed that
// returned value (e.g. via a message bridge) and wants to block until
// that specific commit — or a later one — is visible, without calling
// Commit itself.
type CompilationEvent struct {
	mu   sync.Mutex
	head uint64
	ch   chan struct{}
}

func newCompilationEvent() CompilationEvent {
	return CompilationEvent{ch: make(chan struct{})}
}

// Head returns the number of commits that have fully completed.
func (e *CompilationEvent) Head() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.head
}

// bumpHead advances head by one and wakes every blocked Wait call.
func (e *CompilationEvent) bumpHead() uint64 {
	e.mu.Lock()
	e.head++
	head := e.head
	ch := e.ch
	e.ch = make(chan struct{})
	e.mu.Unlock()
	close(ch)
	return head
}

// Wait blocks until head reaches at least target.
func (e *CompilationEvent) Wait(target uint64) {
	for {
		e.mu.Lock()
		if e.head >= target {
			e.mu.Unlock()
			return
		}
		ch := e.ch
		e.mu.Unlock()
		<-ch
	}
}
