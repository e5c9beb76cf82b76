package xio

// This file specifies the RDMA verbs collaborator interface consumed by the
// core (spec.md §6 "RDMA verbs"). The core never talks to real hardware
// directly; every component that needs to post work or poll completions
// does so through this interface, so the same engine drives both a real
// ibverbs binding (not part of this module — see SPEC_FULL.md "DOMAIN
// STACK") and the in-process internal/looptransport implementation used by
// this package's own tests.

// WROpcode names the four work-request kinds the core issues (spec.md §1,
// §3 "Task").
type WROpcode uint8

const (
	WRRecv WROpcode = iota + 1
	WRSend
	WRRDMARead
	WRRDMAWrite
)

// SGE is a local scatter/gather element: an address/length/key triple
// describing a span of registered memory.
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

// WorkRequest is a single verb-layer operation descriptor. The source
// chains these with a `next` pointer (spec.md §9 "Work-request chaining");
// here a WorkRequest chain is simply a []WorkRequest built on the caller's
// stack and handed to PostSend/PostRecv in one call, dissolving once
// posted.
type WorkRequest struct {
	ID        uint64
	Op        WROpcode
	Local     []SGE
	RemoteAddr uint64
	RKey      uint32
	Signaled  bool
	Fence     bool
}

// CompletionStatus reports the outcome of a posted work request.
type CompletionStatus uint8

const (
	StatusSuccess CompletionStatus = iota
	StatusFlushErr
	StatusError
)

// WorkCompletion is a single completion-queue entry (spec.md §4.2
// "Completion dispatch").
type WorkCompletion struct {
	ID     uint64
	Op     WROpcode
	Status CompletionStatus
	Bytes  uint32

	// MoreInBatch is set on every RECV of a polled batch except the last
	// RECV, so the rx handler can defer transmission decisions until the
	// batch's final RECV (spec.md §4.2).
	MoreInBatch bool
}

// MemoryRegion is an opaque handle to memory registered with the verbs
// layer, carrying the local/remote steering keys the wire protocol embeds
// in scatter descriptors (spec.md glossary "Stag / rkey / lkey").
type MemoryRegion struct {
	LKey uint32
	RKey uint32
}

// Verbs is the external collaborator specified by spec.md §6: "post send,
// post recv, poll cq, arm notify, ack cq events, disconnect, register/
// deregister memory region."
type Verbs interface {
	PostSend(wrs []WorkRequest) error
	PostRecv(wr WorkRequest) error
	PollCQ(max int) []WorkCompletion
	ArmNotify() error
	AckCQEvents(n int)
	Disconnect() error
	RegisterMR(buf []byte) (MemoryRegion, error)
	DeregisterMR(MemoryRegion) error
}
