// Package task implements the reusable task record and fixed-capacity pool
// described in spec.md §3 "Task" and §4.1.
//
// Grounded on jacobsa/fuse's internal/buffer.{InMessage,OutMessage} (framed
// read/write buffers with a header area) and its buffer.DefaultMessageProvider
// (a mutex-guarded freelist of recycled buffers, Get/Put with lazy
// allocation on miss) — generalized here from FUSE kernel messages to RDMA
// tasks, and from an unbounded freelist to the fixed-capacity pool spec.md
// §4.1 requires ("Acquiring fails with pool exhausted when empty").
package task

import (
	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

// OpTag is the RDMA operation a task's work request(s) perform.
type OpTag uint8

const (
	OpRecv OpTag = iota + 1
	OpSend
	OpRDMARead
	OpRDMAWrite
)

// Kind distinguishes a primary (application-visible) task from a phantom
// task allocated only to carry an intermediate work request when local and
// remote scatter-gather lists mismatch (spec.md §4.1 "Phantom tasks").
type Kind uint8

const (
	KindPrimary Kind = iota
	KindPhantom
)

// State is the task lifecycle state (spec.md §3 "Task").
type State uint8

const (
	StateInit State = iota
	StateDelivered
	StateRead
	StateResponseRecv
	StateCancelPending
)

// MaxIOV bounds the number of scatter/gather descriptors a task carries per
// direction (spec.md §3: "up to N scatter/gather descriptors").
const MaxIOV = 16

// sgeSlots groups the four scatter-gather directions a task tracks.
type sgeSlots struct {
	LocalSend  []wire.ScatterDescriptor // local source of an RDMA_WRITE we issue
	PeerRead   []wire.ScatterDescriptor // remote span we RDMA_READ from the peer
	PeerWrite  []wire.ScatterDescriptor // remote span we RDMA_WRITE into at the peer
	LocalRecv  []wire.ScatterDescriptor // local target of an RDMA_READ we issue
}

// Task is the reusable unit of work flowing through a Connection.
type Task struct {
	// Framed byte buffer: a fixed inline region with a read/write cursor and
	// a reserved TLV/header area at its front (spec.md §4.1 "inline buffer
	// for control/small messages").
	buf       []byte
	headerLen int
	dataLen   int

	Kind  Kind
	Op    OpTag
	State State

	// LocalTaskID/RemoteTaskID correlate a response to its originating
	// request across the wire (spec.md §3 "local and remote task
	// identifiers").
	LocalTaskID  uint64
	RemoteTaskID uint64

	// Sender is the original request task a response task refers back to.
	// A response keeps its Sender from being recycled until the response
	// itself is released (spec.md §4.1 "explicit refcount").
	Sender *Task
	refs   int32

	SN uint32

	SGE sgeSlots

	// PhantomRemaining stores (rsize - r - 1): the number of phantom tasks
	// still to come for the logical op this task is part of (spec.md §4.1).
	PhantomRemaining int

	poolSlot int // index into the owning Pool's storage; -1 if detached

	// ExtBuf holds a payload buffer sourced from outside the task's fixed
	// inline region — the upper layer's own buffer (spec.md §6
	// "ASSIGN_IN_BUF") or a memory-pool allocation — used for RDMA_READ
	// targets too large for the inline region to hold.
	ExtBuf []byte
}

// NewTask allocates a task with an inline buffer of the given size. Tasks
// are normally obtained from a Pool, not constructed directly.
func NewTask(inlineBufSize, headerLen int) *Task {
	return &Task{
		buf:       make([]byte, inlineBufSize),
		headerLen: headerLen,
		poolSlot:  -1,
	}
}

// Reset returns a task to its initial, reusable state. Called by Pool.Put.
func (t *Task) Reset() {
	t.Kind = KindPrimary
	t.Op = 0
	t.State = StateInit
	t.LocalTaskID = 0
	t.RemoteTaskID = 0
	t.Sender = nil
	t.refs = 0
	t.SN = 0
	t.SGE = sgeSlots{}
	t.PhantomRemaining = 0
	t.dataLen = 0
	t.ExtBuf = nil
}

// HeaderBytes returns the reserved TLV/header region at the front of the
// task's inline buffer.
func (t *Task) HeaderBytes() []byte { return t.buf[:t.headerLen] }

// Buffer returns the task's entire inline buffer (header region followed by
// payload region), the span registered with the verbs layer so a single
// work request can cover both (spec.md §4.1 "framed byte buffer").
func (t *Task) Buffer() []byte { return t.buf }

// DataBytes returns the portion of the inline buffer currently holding
// application payload, after the header region.
func (t *Task) DataBytes() []byte { return t.buf[t.headerLen : t.headerLen+t.dataLen] }

// SetData copies src into the task's inline data region, setting dataLen to
// len(src).
// Returns false if src does not fit.
func (t *Task) SetData(src []byte) bool {
	if t.headerLen+len(src) > len(t.buf) {
		return false
	}
	copy(t.buf[t.headerLen:], src)
	t.dataLen = len(src)
	return true
}

// InlineCapacity is the number of payload bytes available after the header
// region.
func (t *Task) InlineCapacity() int { return len(t.buf) - t.headerLen }

// SetExtBuf assigns an externally supplied payload buffer, bypassing the
// inline region's fixed capacity (spec.md §6 "Memory pool", "ASSIGN_IN_BUF").
func (t *Task) SetExtBuf(buf []byte) { t.ExtBuf = buf }

// PayloadBytes returns the task's delivered application payload: the
// externally supplied buffer when one was assigned, otherwise the inline
// data region.
func (t *Task) PayloadBytes() []byte {
	if t.ExtBuf != nil {
		return t.ExtBuf
	}
	return t.DataBytes()
}

// Ref increments the task's reference count (spec.md §4.1: a response task
// keeps its Sender alive).
func (t *Task) Ref() { t.refs++ }

// Unref decrements the reference count and reports whether it reached zero
// (i.e. whether the task may now be recycled).
func (t *Task) Unref() bool {
	if t.refs > 0 {
		t.refs--
	}
	return t.refs == 0
}

// Refs reports the current reference count, for tests and invariants.
func (t *Task) Refs() int32 { return t.refs }
