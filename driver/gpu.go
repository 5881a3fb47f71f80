// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// GPU is the external GPU device surface.
// A GPU is obtained from a call to Driver.Open.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Commit submits a batch of command buffers for execution.
	// It sends the result to wk.Err's owner (via wch) when every
	// command buffer in the batch completes execution; command
	// buffers in wk.Work cannot be recorded into again until then.
	Commit(wk *WorkItem, wch chan<- *WorkItem) error

	// NewCmdBuffer creates a new command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewBuffer creates a new buffer.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// NewDescHeap creates a new descriptor heap.
	NewDescHeap(ds []Descriptor) (DescHeap, error)

	// NewDescTable creates a new descriptor table drawn from one
	// or more descriptor heaps.
	NewDescTable(dh []DescHeap) (DescTable, error)

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits
}

// Fence is a GPU-side monotonic counter a queue signals as submitted
// work completes. The host polls Completed without blocking to learn
// which segments have finished (the export streamer's Process never
// blocks a GPU queue; it peeks fence completion non-destructively).
type Fence interface {
	// Completed returns the highest value the fence has reached so far.
	Completed() uint64

	// Commit reserves and returns the next value a caller's submitted
	// work will signal upon completion.
	Commit() uint64
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may allocate external memory
// that is not managed by GC, so Destroy must be called explicitly.
type Destroyer interface {
	Destroy()
}

// WorkItem is a batch of command buffers submitted together.
// Work items are reused: a caller obtains one from a pool (usually a
// buffered channel of *WorkItem, following the pattern used
// throughout this module), records into every driver.CmdBuffer it
// names, then hands it to GPU.Commit. Once the completion channel
// receives the item back, Err reports whether the batch succeeded
// and the command buffers may be recorded into again.
type WorkItem struct {
	Work   []CmdBuffer
	Err    error
	Custom any
}

// CmdBuffer is the interface that defines a command buffer.
// Commands are recorded into command buffers and later committed to
// the GPU for execution.
//
// Usage:
//
//  1. call Begin
//  2. call SetPipeline/SetDescTable/Dispatch as needed, any number
//     of times
//  3. call End
//  4. pass the buffer to GPU.Commit
//
// Begin must not be called again until the buffer's batch has been
// committed and completed, or Reset has been called.
type CmdBuffer interface {
	Destroyer

	// Begin prepares the command buffer for recording.
	Begin() error

	// IsRecording reports whether the command buffer is between a
	// call to Begin and a call to End.
	IsRecording() bool

	// SetPipeline sets the pipeline bound at the next Dispatch.
	// isInstrumented records whether pl is an instrumented variant,
	// so the caller's export-descriptor binding can be made
	// idempotent per pipeline type (see export.StreamState).
	SetPipeline(pl Pipeline, isInstrumented bool)

	// SetDescTableComp sets a descriptor table range for compute
	// pipelines, starting at the given user-root slot.
	SetDescTableComp(table DescTable, slot int)

	// Dispatch dispatches compute thread groups.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// Barrier inserts a number of global barriers.
	Barrier(b []Barrier)

	// CopyBuffer copies data between buffers.
	CopyBuffer(param *BufferCopy)

	// Fill fills a buffer range with copies of a byte value.
	// off and size must be aligned to 4 bytes.
	Fill(buf Buffer, off int64, value byte, size int64)

	// End ends command recording and prepares the command buffer
	// for execution. Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands from the command buffer.
	Reset() error
}

// Pipeline is an opaque compute or graphics pipeline object, created
// from a (possibly instrumented) driver.ShaderCode.
type Pipeline interface {
	Destroyer

	// LayoutHash identifies the pipeline's root/descriptor layout.
	// Two pipelines that can share a bound descriptor table without
	// rebinding it return the same hash (see §4.6's bind-idempotency
	// rule).
	LayoutHash() uint64
}

// ShaderCode is an opaque compiled shader module, created from a
// bytecode stream (instrumented or not).
type ShaderCode interface {
	Destroyer
}

// BufferCopy describes a copy command between two buffers.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// Sync identifies pipeline stages for a Barrier.
type Sync int

// Sync bits.
const (
	SNone Sync = 1 << iota
	SCopy
	SCompute
)

// Access identifies memory access types for a Barrier.
type Access int

// Access bits.
const (
	ANone Access = 1 << iota
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
)

// Barrier describes an execution/memory dependency.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// DescType identifies the type of a descriptor.
type DescType int

// Descriptor types.
const (
	DBuffer DescType = iota
	DImage
	DConstant
	DTexture
	DSampler
)

// Descriptor describes one binding of a descriptor heap/table.
type Descriptor struct {
	Type DescType
	Nr   int // binding number, unique within the heap
	Len  int // array length (1 for a scalar binding)
}

// DescHeap is a pool of descriptors of fixed layout.
type DescHeap interface {
	Destroyer

	// SetBuffer writes a buffer descriptor at the given slot/binding.
	SetBuffer(slot, nr int, buf []Buffer, off, size []int64)

	// Len returns the heap's descriptor-set capacity.
	Len() int
}

// DescTable is a range of descriptor sets drawn from one or more
// DescHeaps, bindable as a unit via CmdBuffer.SetDescTableComp.
type DescTable interface {
	Destroyer
}

// Usage identifies how a Buffer will be used.
type Usage int

// Usage bits.
const (
	UCopySrc Usage = 1 << iota
	UCopyDst
	UShaderRead
	UShaderWrite
	UConstant
)

// Buffer is a linear, GPU-addressable memory allocation.
type Buffer interface {
	Destroyer

	// Bytes returns the buffer's contents for host access.
	// It panics if the buffer is not host-visible.
	Bytes() []byte

	// Cap returns the buffer's capacity in bytes.
	Cap() int64
}

// Limits describes implementation-defined limits relevant to the
// instrumentation layer (e.g., maximum descriptors per heap).
type Limits struct {
	MaxDescHeapSize int
	MaxCmdBuffers   int
}
