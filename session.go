package xio

import "time"

// Session and ExecutionContext are the external collaborators specified by
// spec.md §6 ("Session layer", "Execution context"). Connections never
// implement session/endpoint identity or timer/event-loop plumbing
// themselves; they consume it through these interfaces, exactly as the
// teacher's Connection consumes the kernel device file and a MountConfig
// rather than owning mount-syscall logic itself.

// Session is the endpoint/identity layer above connections (spec.md
// glossary "Session").
type Session interface {
	// NextSN allocates the next outgoing sequence number for a connection
	// belonging to this session (spec.md §4.5 "session.next_sn()").
	NextSN() uint32

	// IsValidInRequest/IsValidOutMessage are the session-layer validators a
	// Connection consults before admitting a message (spec.md §6).
	IsValidInRequest(hdrLen int) bool
	IsValidOutMessage(ulpHdrLen, ulpDataLen int) bool

	// Notification fan-out (spec.md §6).
	NotifyMsgError(msg *Message, status MsgStatus)
	NotifyConnectionClosed(reason error)
	NotifyTeardown()
	NotifyMsg(msg *Message)

	// PeerID returns the session-peer-id pair embedded in every session
	// header (spec.md §6).
	PeerID() (local, remote uint32)

	// AssignInBuf offers the upper layer first refusal on the target buffer
	// for an inbound RDMA_READ whose payload exceeds a task's inline
	// capacity (spec.md §6 "ASSIGN_IN_BUF"). ok is false when the session
	// declines, in which case the connection falls back to its configured
	// MemoryPool or its own allocate-and-register.
	AssignInBuf(size int) (buf []byte, mr MemoryRegion, ok bool)
}

// ExecutionContext is the thread/event-loop primitive a Connection is bound
// to (spec.md §5 "Concurrency & resource model": "No internal locking...
// All mutating operations must be invoked from the owning context's
// thread"). AddWork is one-shot and deduplicating per spec.md §6.
type ExecutionContext interface {
	AddWork(fn func())
	AddDelayedWork(d time.Duration, fn func())
	IsLoopStopping() bool
}

// SimpleSession is a minimal, fully-wired Session used by this package's
// own tests, mirroring the teacher's practice of shipping a minimal real
// implementation of an otherwise-abstract collaborator interface
// (fuseutil.NotImplementedFileSystem in jacobsa/fuse).
type SimpleSession struct {
	sn          uint32
	LocalPeer   uint32
	RemotePeer  uint32
	MaxULPHdr   int
	MaxULPData  int

	OnMsgError        func(*Message, MsgStatus)
	OnConnectionClose func(error)
	OnTeardown        func()
	OnMsg             func(*Message)
	OnAssignInBuf     func(size int) ([]byte, MemoryRegion, bool)
}

func (s *SimpleSession) NextSN() uint32 {
	sn := s.sn
	s.sn++
	return sn
}

func (s *SimpleSession) IsValidInRequest(hdrLen int) bool {
	return s.MaxULPHdr == 0 || hdrLen <= s.MaxULPHdr
}

func (s *SimpleSession) IsValidOutMessage(ulpHdrLen, ulpDataLen int) bool {
	if s.MaxULPHdr != 0 && ulpHdrLen > s.MaxULPHdr {
		return false
	}
	if s.MaxULPData != 0 && ulpDataLen > s.MaxULPData {
		return false
	}
	return true
}

func (s *SimpleSession) NotifyMsgError(msg *Message, status MsgStatus) {
	if s.OnMsgError != nil {
		s.OnMsgError(msg, status)
	}
}

func (s *SimpleSession) NotifyConnectionClosed(reason error) {
	if s.OnConnectionClose != nil {
		s.OnConnectionClose(reason)
	}
}

func (s *SimpleSession) NotifyTeardown() {
	if s.OnTeardown != nil {
		s.OnTeardown()
	}
}

func (s *SimpleSession) NotifyMsg(msg *Message) {
	if s.OnMsg != nil {
		s.OnMsg(msg)
	}
}

func (s *SimpleSession) PeerID() (local, remote uint32) { return s.LocalPeer, s.RemotePeer }

func (s *SimpleSession) AssignInBuf(size int) ([]byte, MemoryRegion, bool) {
	if s.OnAssignInBuf != nil {
		return s.OnAssignInBuf(size)
	}
	return nil, MemoryRegion{}, false
}

// InlineExecutionContext runs work synchronously on the calling goroutine.
// It is the minimal ExecutionContext used by tests that don't need real
// cross-thread posting.
type InlineExecutionContext struct {
	stopping bool
}

func (c *InlineExecutionContext) AddWork(fn func()) {
	if fn != nil {
		fn()
	}
}

func (c *InlineExecutionContext) AddDelayedWork(d time.Duration, fn func()) {
	if fn != nil {
		fn()
	}
}

func (c *InlineExecutionContext) IsLoopStopping() bool { return c.stopping }

func (c *InlineExecutionContext) Stop() { c.stopping = true }
