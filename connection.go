// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xio

import (
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/storage-zuiwanyuan/accelio/internal/clock"
	"github.com/storage-zuiwanyuan/accelio/internal/datapath"
	"github.com/storage-zuiwanyuan/accelio/internal/reactor"
	"github.com/storage-zuiwanyuan/accelio/internal/task"
	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

// DefaultPollingTimeout bounds a single completion-queue reactor pass
// (spec.md §4.2 "polling_timeout microseconds").
const DefaultPollingTimeout = 50 * time.Microsecond

// Default in-flight budgets and pool sizes (spec.md §3 "Connection").
const (
	DefaultReqBudget    = 64
	DefaultOneWayBudget = 64
	DefaultAppIOBudget  = 256
	MsgPoolSize         = 1024
)

// xioHeaderLen reserves enough room at the front of every task's inline
// buffer for the TLV envelope, the transport header, and the largest
// per-kind sub-header (request header with its three scatter-descriptor
// arrays), so framing never has to grow the buffer (spec.md §4.1 "framed
// byte buffer ... with a reserved TLV header area").
var xioHeaderLen = wire.TLVEnvelopeSize() + wire.TransportHeaderSize + datapath.MaxHdr

// ConnectionConfig bundles the tunables a Connection needs at construction,
// mirroring the teacher's MountConfig: struct fields with documented
// defaults, never global mutable state.
type ConnectionConfig struct {
	SQDepth      uint32
	RQDepth      uint32
	MaxSendBufSz int

	ReqBudget    int64
	OneWayBudget int64
	AppIOBudget  int64

	// NoQueueing mirrors spec.md §4.5 enqueue-contract step 3: "If the
	// session is in no-queueing mode and the connection is not ONLINE:
	// fail with EAGAIN." Off by default (messages queue while connecting).
	NoQueueing bool

	// PollingTimeout bounds a single completion-queue reactor pass (spec.md
	// §4.2 "polling_timeout microseconds").
	PollingTimeout time.Duration

	DebugLogger *log.Logger
	ErrorLogger *log.Logger

	// MemPool supplies target buffers for inbound RDMA_READ payloads too
	// large for a task's inline region when the session itself declines via
	// AssignInBuf (spec.md §6 "Memory pool"). Optional; the connection
	// falls back to allocating and registering its own buffer when nil.
	MemPool MemoryPool
}

func (cfg *ConnectionConfig) setDefaults() {
	if cfg.SQDepth == 0 {
		cfg.SQDepth = 16
	}
	if cfg.RQDepth == 0 {
		cfg.RQDepth = 16
	}
	if cfg.MaxSendBufSz == 0 {
		cfg.MaxSendBufSz = 8192
	}
	if cfg.ReqBudget == 0 {
		cfg.ReqBudget = DefaultReqBudget
	}
	if cfg.OneWayBudget == 0 {
		cfg.OneWayBudget = DefaultOneWayBudget
	}
	if cfg.AppIOBudget == 0 {
		cfg.AppIOBudget = DefaultAppIOBudget
	}
	if cfg.PollingTimeout == 0 {
		cfg.PollingTimeout = DefaultPollingTimeout
	}
}

// Connection is a duplex peer binding driving the connection scheduler,
// close state machine, and cancel subsystem (spec.md §3 "Connection").
type Connection struct {
	cfg ConnectionConfig

	ctx     ExecutionContext
	session Session
	verbs   Verbs

	debugLogger *log.Logger
	errorLogger *log.Logger

	rdma *rdmaHandle

	// Two application message queues and their in-flight counterparts
	// (spec.md §3: "two app message queues (requests, responses); two
	// in-flight queues (same partition)").
	requests         messageList
	responses        messageList
	inFlightRequests messageList
	inFlightResponses messageList

	// Fixed-capacity pool of reusable one-way envelopes (FIN, HELLO, NOP,
	// receipts) — must never be allocated on the hot path (spec.md §5
	// "Resource policy").
	oneWayPool messageList

	tasks *task.Pool

	// In-flight admission budgets (spec.md §3, §5 "Backpressure" level 3).
	// golang.org/x/sync/semaphore gives TryAcquire, the non-blocking
	// admission check the single-threaded scheduling model requires.
	reqBudget    *semaphore.Weighted
	oneWayBudget *semaphore.Weighted
	appIOBudget  *semaphore.Weighted

	// mrByTask registers each task's inline buffer with the verbs layer the
	// first time it is posted, so SGEs can reference it; released back to
	// the verbs layer when the task is recycled.
	mrByTask map[*task.Task]MemoryRegion

	// recvByID matches a RECV completion's work-request id back to the task
	// that owns the posted buffer (spec.md §4.3 "Receive handling").
	recvByID map[uint64]*task.Task
	// rdmaByID matches an RDMA_READ completion's work-request id back to the
	// segment task that issued it (spec.md §4.3 "RDMA-read scheduling").
	rdmaByID map[uint64]*task.Task
	// sendByID matches a SEND completion's work-request id back to the task
	// that issued it, so the task can be recycled once the completion
	// arrives (spec.md §3 lifecycle "ready → in-flight → completed →
	// pool"). Populated for every posted SEND, including direct control
	// frames that hold no budget and sit in no ready queue.
	sendByID map[uint64]*task.Task
	// sendPending additionally records, for budget-bearing application
	// messages only, the budget they hold and which in-flight list they
	// occupy, so a send completion can release both (spec.md §4.5
	// "xio_connection_send": "On success decrement the relevant budget").
	sendPending map[uint64]sentMessage
	// awaitingRequests correlates an inbound response to the outstanding
	// request it answers by sn (spec.md §6 "matched by sn"). A request is
	// recorded here once admitted and stays until a response with a
	// matching sn arrives — independent of sendPending, which only tracks
	// the request until its own SEND completes.
	awaitingRequests map[uint32]*Message
	// pendingRDMAMsg recalls the application-facing Message a scheduled
	// RDMA_READ will eventually deliver, keyed by its terminal (non-phantom)
	// task (spec.md §4.1 "Phantom tasks").
	pendingRDMAMsg map[*task.Task]*Message
	nextRecvID     uint64

	reactor *reactor.Reactor

	toggle       bool // round-robin bit between requests/responses queues
	closing      bool
	closeReason  error
	refCount     int32
	state        State
	isFlushed    bool
	retryCounter int

	nextTaskID uint64

	stats ConnectionStats
}

// sentMessage is the bookkeeping sendPending carries for a budget-bearing
// application message between post time and its SEND completion.
type sentMessage struct {
	msg    *Message
	budget *semaphore.Weighted
}

// NewConnection constructs a Connection bound to session/ctx/verbs. The
// connection starts in INIT; the active side calls BeginSetup, and the
// setup handshake (spec.md §6 "Setup handshake") followed by the HELLO
// exchange drives both sides to ONLINE, the HELLO handlers calling
// MarkOnline themselves.
func NewConnection(session Session, ctx ExecutionContext, verbs Verbs, cfg ConnectionConfig) *Connection {
	cfg.setDefaults()

	c := &Connection{
		cfg:          cfg,
		ctx:          ctx,
		session:      session,
		verbs:        verbs,
		debugLogger:  cfg.DebugLogger,
		errorLogger:  cfg.ErrorLogger,
		rdma:         newRDMAHandle(cfg.SQDepth, cfg.RQDepth),
		tasks:        task.NewPool(int(cfg.SQDepth+cfg.RQDepth)*2, cfg.MaxSendBufSz, xioHeaderLen),
		reqBudget:    semaphore.NewWeighted(cfg.ReqBudget),
		oneWayBudget: semaphore.NewWeighted(cfg.OneWayBudget),
		appIOBudget:  semaphore.NewWeighted(cfg.AppIOBudget),
		mrByTask:         make(map[*task.Task]MemoryRegion),
		recvByID:         make(map[uint64]*task.Task),
		rdmaByID:         make(map[uint64]*task.Task),
		sendByID:         make(map[uint64]*task.Task),
		sendPending:      make(map[uint64]sentMessage),
		awaitingRequests: make(map[uint32]*Message),
		pendingRDMAMsg:   make(map[*task.Task]*Message),
		state:            StateInit,
		refCount:         1,
	}
	for i := 0; i < MsgPoolSize; i++ {
		c.oneWayPool.PushBack(&Message{})
	}
	c.reactor = reactor.New(verbs, clock.Real(), cfg.PollingTimeout, c.pollAndDispatch, c.idle)
	c.primeRQ()
	return c
}

// MarkOnline transitions a freshly-established connection to ONLINE once
// the HELLO handshake completes (SPEC_FULL.md supplemented feature:
// "receipt of HELLO_RSP is the trigger that flips the connection from
// ESTABLISHED to ONLINE").
func (c *Connection) MarkOnline() {
	c.state = StateOnline
	c.xmit()
}

// State reports the connection's current position in the close state
// machine.
func (c *Connection) State() State { return c.state }

// acquireOneWay pulls an envelope from the fixed-capacity free pool used
// for FIN/HELLO/NOP/receipt messages (spec.md §5 "Resource policy").
func (c *Connection) acquireOneWay() (*Message, error) {
	m := c.oneWayPool.PopFront()
	if m == nil {
		return nil, ErrPoolExhausted
	}
	*m = Message{}
	return m, nil
}

func (c *Connection) releaseOneWay(m *Message) {
	*m = Message{}
	c.oneWayPool.PushBack(m)
}

// admitting reports whether the connection is in a state that accepts new
// application messages (spec.md §4.5 enqueue-contract step 2).
func (c *Connection) admitting() bool {
	switch c.state {
	case StateInit, StateEstablished, StateOnline:
		return !c.closing
	default:
		return false
	}
}

// enqueue implements the shared body of send_request/send_response/
// send_one_way (spec.md §4.5 "Enqueue contract").
func (c *Connection) enqueue(m *Message, list *messageList) error {
	if !c.session.IsValidOutMessage(m.ULPHeaderLen(), m.ULPDataLen()) {
		c.session.NotifyMsgError(m, MsgSize)
		return ErrInvalidMessage
	}
	if !c.admitting() {
		c.session.NotifyMsgError(m, MsgFlushed)
		return ErrShutdown
	}
	if c.cfg.NoQueueing && c.state != StateOnline {
		return ErrAgain
	}

	m.SN = c.session.NextSN()
	list.PushBack(m)

	if c.state == StateOnline {
		c.xmit()
	}
	return nil
}

// SendRequest enqueues one or more requests (spec.md §6 "send_request").
func (c *Connection) SendRequest(m *Message) error {
	m.Kind = KindRequest
	return c.enqueue(m, &c.requests)
}

// SendResponse enqueues a response that must carry a back-pointer to its
// matched request (spec.md §6 "send_response").
func (c *Connection) SendResponse(m *Message) error {
	if m.Request == nil {
		c.session.NotifyMsgError(m, MsgInvalid)
		return ErrInvalidMessage
	}
	m.Kind = KindResponse
	return c.enqueue(m, &c.responses)
}

// SendOneWay enqueues a one-way message that expects no matched reply
// (spec.md §6 "send_one_way").
func (c *Connection) SendOneWay(m *Message) error {
	m.Kind = KindOneWayRequest
	return c.enqueue(m, &c.requests)
}

// sendDirect posts a one-way-pool message straight to the wire, bypassing
// the ready queues, as the close state machine's FIN/FIN-ACK frames do
// (spec.md §4.6 "sends it directly (bypassing the ready queue)").
func (c *Connection) sendDirect(m *Message) {
	c.postMessage(m, true)
}

// xmit is the round-robin pump of spec.md §4.5: alternates between the
// request and response ready queues, popping one message at a time and
// handing it to xioConnectionSend.
func (c *Connection) xmit() {
	queues := [2]*messageList{&c.requests, &c.responses}
	c.retryCounter = 0

	for {
		// spec.md §4.3 "xmit" step 1: "window = min(tx_window, peer_credits,
		// sqe_avail). Exit if 0." Control frames (FIN/HELLO/setup/cancel/
		// credit-nop) bypass this gate entirely via sendDirect; only the
		// ready-queue pump is subject to it.
		if c.rdma.window.AvailableToSend() == 0 {
			return
		}

		q := queues[boolToIdx(c.toggle)]
		c.toggle = !c.toggle

		if q.Len() == 0 {
			c.retryCounter++
			if c.retryCounter >= 2 {
				return
			}
			continue
		}

		m := q.PopFront()
		err := c.xioConnectionSend(m)
		switch err {
		case nil:
			c.retryCounter = 0
			c.moveToInFlight(m)
		case ErrAgain:
			q.PushFront(m)
			c.retryCounter++
			if c.retryCounter >= 2 {
				return
			}
		case ErrInvalidMessage:
			// Message rejected after framing: drop it, reset retry counter,
			// keep draining (spec.md §4.5 "ENOMSG" case). xioConnectionSend
			// has already notified the session.
			c.retryCounter = 0
		default:
			c.session.NotifyMsgError(m, MsgInvalid)
			return
		}
	}
}

func boolToIdx(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (m *messageList) PushFront(msg *Message) {
	msg.next = m.head
	m.head = msg
	if m.tail == nil {
		m.tail = msg
	}
	m.size++
}

func (c *Connection) moveToInFlight(m *Message) {
	switch m.Kind {
	case KindRequest:
		c.inFlightRequests.PushBack(m)
		c.awaitingRequests[m.SN] = m
	case KindResponse:
		c.inFlightResponses.PushBack(m)
	}
}

// completeSend retires a posted SEND work request once its completion
// arrives: the task returns to the pool, any budget it held is released,
// and the owning application message (if any) is removed from its
// in-flight list (spec.md §3 lifecycle "ready → in-flight → completed →
// pool", §8 scenario 3 "after the first completion arrives, it moves to
// in-flight"). Control frames sent via sendDirect hold no budget and
// occupy no message list, so only their task is recycled.
func (c *Connection) completeSend(id uint64) {
	t, ok := c.sendByID[id]
	if !ok {
		return
	}
	delete(c.sendByID, id)
	c.rdma.removeInFlight(t)

	if p, ok := c.sendPending[id]; ok {
		delete(c.sendPending, id)
		if p.budget != nil {
			p.budget.Release(1)
		}
		switch p.msg.Kind {
		case KindRequest:
			c.inFlightRequests.Remove(p.msg)
		case KindResponse:
			c.inFlightResponses.Remove(p.msg)
		}
	}

	if t.Refs() == 0 {
		c.tasks.Put(t)
	}
}

// xioConnectionSend performs per-message admission and framing (spec.md
// §4.5 "xio_connection_send").
func (c *Connection) xioConnectionSend(m *Message) error {
	budget := c.budgetFor(m)
	if budget != nil && !budget.TryAcquire(1) {
		return ErrAgain
	}

	var t *task.Task
	var err error

	if m.Kind == KindResponse && isReceiptOnly(m) {
		t, err = c.tasks.Acquire()
		if err == nil {
			t.Sender = m.Request.task
			t.Sender.Ref()
		}
	} else {
		t, err = c.tasks.Acquire()
	}
	if err != nil {
		if budget != nil {
			budget.Release(1)
		}
		return ErrAgain
	}

	if postErr := c.frameAndPost(m, t); postErr != nil {
		c.tasks.Put(t)
		if budget != nil {
			budget.Release(1)
		}
		c.session.NotifyMsgError(m, MsgInvalid)
		return ErrInvalidMessage
	}

	m.task = t
	c.sendByID[t.LocalTaskID] = t
	c.sendPending[t.LocalTaskID] = sentMessage{msg: m, budget: budget}
	c.rdma.moveToInFlight(t)

	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(m.ULPDataLen())
	return nil
}

func isReceiptOnly(m *Message) bool {
	return m.Flags&FlagFirst != 0 && m.Flags&FlagLast == 0
}

func (c *Connection) budgetFor(m *Message) *semaphore.Weighted {
	switch m.Kind {
	case KindRequest:
		return c.reqBudget
	case KindOneWayRequest, KindOneWayResponse:
		return c.oneWayBudget
	default:
		return c.appIOBudget
	}
}

// frameAndPost builds the wire frame for m into t's buffer and posts it
// through the verbs layer. The TLV/transport header is common to every
// message kind; the sub-header that follows it is kind-specific (spec.md
// §4.3 "Wire format").
func (c *Connection) frameAndPost(m *Message, t *task.Task) error {
	sn, ackSN, credits := c.rdma.window.WriteSN()

	c.nextTaskID++
	t.LocalTaskID = c.nextTaskID
	t.SN = m.SN

	hdr := t.HeaderBytes()
	tlvLen := wire.TLVEnvelopeSize()
	subOff := tlvLen + wire.TransportHeaderSize

	subLen, tlvType, err := c.encodeSubHeader(m, t, hdr[subOff:])
	if err != nil {
		return err
	}

	// Version/flags/header-length/task-id are encoded once via th.Encode;
	// sn/ack-sn/credits are then stamped in place at their fixed offsets via
	// wire.WriteSN, exactly as spec.md §4.3's write_sn overwrites those
	// fields "without re-serializing the whole header" (the layout in
	// internal/wire exists specifically so this split is possible).
	th := wire.TransportHeader{
		Version:   wire.ReqHeaderVersion,
		Flags:     setupFlag(m.Kind),
		HeaderLen: uint16(subLen),
		TaskID:    t.LocalTaskID,
	}
	if err := th.Encode(hdr[tlvLen:]); err != nil {
		return err
	}
	if err := wire.WriteSN(hdr[tlvLen:], sn, ackSN, credits); err != nil {
		return err
	}
	if err := wire.PutTLV(hdr, tlvType, uint32(wire.TransportHeaderSize+subLen)); err != nil {
		return err
	}

	localMR, ok := c.mrByTask[t]
	if !ok {
		var err error
		localMR, err = c.verbs.RegisterMR(t.Buffer())
		if err != nil {
			return err
		}
		c.mrByTask[t] = localMR
	}

	// Inline payload always starts at the fixed xioHeaderLen offset (where
	// SetData wrote it), not immediately after the variable-length
	// sub-header, so the work request must cover up to there whenever a
	// payload is present.
	totalLen := subOff + subLen
	if dl := len(t.DataBytes()); dl > 0 {
		totalLen = xioHeaderLen + dl
	}

	wr := WorkRequest{
		ID:       t.LocalTaskID,
		Op:       WRSend,
		Local:    []SGE{{Addr: uint64(localMR.LKey), Length: uint32(totalLen)}},
		Signaled: c.shouldSignal(),
		// FIN frames post with a fence and force a flush (spec.md §4.3
		// "Fence/signal").
		Fence: m.Kind == KindFinRequest || m.Kind == KindFinResponse,
	}

	if err := c.verbs.PostSend([]WorkRequest{wr}); err != nil {
		return err
	}
	c.rdma.window.SQEAvail--
	return nil
}

// encodeSubHeader writes the kind-specific sub-header for m into buf and
// reports its encoded length and the TLV type that identifies it to the
// receiver (spec.md §4.3 "Wire format").
func (c *Connection) encodeSubHeader(m *Message, t *task.Task, buf []byte) (int, wire.TLVType, error) {
	switch m.Kind {
	case KindRequest, KindOneWayRequest:
		n, err := c.encodeRequestHeader(m, t, buf)
		return n, wire.TLVRequest, err
	case KindResponse, KindOneWayResponse:
		n, err := c.encodeResponseHeader(m, t, buf)
		return n, wire.TLVResponse, err
	case KindFinRequest, KindFinResponse, KindHelloRequest, KindHelloResponse, KindCreditNop:
		n, err := c.encodeControlHeader(m, buf)
		return n, wire.TLVNop, err
	case KindCancelRequest:
		n, err := c.encodeCancelHeader(m, buf)
		return n, wire.TLVCancelRequest, err
	case KindCancelResponse:
		n, err := c.encodeCancelHeader(m, buf)
		return n, wire.TLVCancelResponse, err
	case KindSetupRequest, KindSetupResponse:
		n, err := c.encodeSetupHeader(buf)
		return n, wire.TLVSetup, err
	default:
		return 0, 0, ErrInvalidMessage
	}
}

// encodeRequestHeader chooses inline-SEND vs RDMA_READ exposure per spec.md
// §4.3 "Transfer-mode decision" and encodes the resulting RequestHeader.
func (c *Connection) encodeRequestHeader(m *Message, t *task.Task, buf []byte) (int, error) {
	mode := datapath.ChooseRequestMode(xioHeaderLen, m.ULPHeaderLen(), len(m.Data.Buf), c.cfg.MaxSendBufSz)

	h := wire.RequestHeader{Opcode: wire.OpSend, SN: uint16(m.SN), ULPHdrLen: uint32(m.ULPHeaderLen())}
	// The ULP header always rides inline in the SEND frame, even when the
	// data payload is large enough to go via RDMA_READ instead (spec.md
	// §4.3: "only the header goes via SEND").
	inline := append([]byte(nil), m.Header.Buf...)
	if mode == datapath.ModeRDMARead && len(m.Data.Buf) > 0 {
		mr, err := c.verbs.RegisterMR(m.Data.Buf)
		if err != nil {
			return 0, err
		}
		h.Opcode = wire.OpRDMARead
		h.ReadSGEs = []wire.ScatterDescriptor{{Addr: uint64(mr.RKey), Length: uint32(len(m.Data.Buf)), Stag: mr.RKey}}
	} else {
		h.ULPImmLen = uint32(len(m.Data.Buf))
		inline = append(inline, m.Data.Buf...)
	}
	if !t.SetData(inline) {
		return 0, ErrInvalidMessage
	}
	if err := h.Encode(buf); err != nil {
		return 0, err
	}
	return h.EncodedLen(), nil
}

// encodeResponseHeader frames a response's ResponseHeader. Response payload
// is always carried inline here: no RDMA_WRITE response is issued, and the
// receive path does not record the peer's write descriptors from the
// matched request's inbound RequestHeader. SN echoes m.Request.SN so the requester's
// onRecvResponseFrame can match this response back to its outstanding
// request (spec.md §6 "matched by sn").
func (c *Connection) encodeResponseHeader(m *Message, t *task.Task, buf []byte) (int, error) {
	var sn uint16
	if m.Request != nil {
		sn = uint16(m.Request.SN)
	}
	h := wire.ResponseHeader{
		Opcode:    wire.OpSend,
		SN:        sn,
		ULPHdrLen: uint32(m.ULPHeaderLen()),
		ULPImmLen: uint32(len(m.Data.Buf)),
	}
	inline := append(append([]byte(nil), m.Header.Buf...), m.Data.Buf...)
	if !t.SetData(inline) {
		return 0, ErrInvalidMessage
	}
	if err := h.Encode(buf); err != nil {
		return 0, err
	}
	return wire.ResponseHeaderSize, nil
}

// encodeControlHeader frames the one-way control kinds (FIN, HELLO,
// CREDIT_NOP) that share the NOP header's shape: a bare sn/ack_sn/credits/
// opcode/flags tuple with no ULP payload (spec.md §4.4 "NOP header").
func (c *Connection) encodeControlHeader(m *Message, buf []byte) (int, error) {
	h := wire.NopHeader{
		HdrLen: uint16(wire.NopHeaderSize),
		SN:     uint16(m.SN),
		Opcode: uint8(m.Kind),
		Flags:  m.Flags,
	}
	if err := h.Encode(buf); err != nil {
		return 0, err
	}
	return wire.NopHeaderSize, nil
}

// encodeCancelHeader frames CANCEL_REQ/CANCEL_RSP (spec.md §4.7).
func (c *Connection) encodeCancelHeader(m *Message, buf []byte) (int, error) {
	h := wire.CancelHeader{SN: uint16(m.SN)}
	h.HdrLen = uint16(h.EncodedLen())
	if err := h.Encode(buf); err != nil {
		return 0, err
	}
	return h.EncodedLen(), nil
}

// acquireInBuf implements spec.md §6's ASSIGN_IN_BUF preference order for an
// inbound RDMA_READ payload too large for a task's inline region: the
// session's own buffer first, then a configured memory pool, then the
// connection's own allocate-and-register as a last resort.
func (c *Connection) acquireInBuf(size int) ([]byte, MemoryRegion, error) {
	if buf, mr, ok := c.session.AssignInBuf(size); ok {
		return buf, mr, nil
	}
	if c.cfg.MemPool != nil {
		return c.cfg.MemPool.Alloc(size)
	}
	buf := make([]byte, size)
	mr, err := c.verbs.RegisterMR(buf)
	return buf, mr, err
}

// shouldSignal implements spec.md §4.3's "Signal the last wr if either
// tx_window_sz() < 1 or sqe_avail < req_nr + 1" rule, simplified to the
// single-wr-per-send shape this connection posts one message at a time.
func (c *Connection) shouldSignal() bool {
	return c.rdma.window.TxWindowSize() < 1 || c.rdma.window.SQEAvail < 2
}

// postMessage is the posting path of direct sends (FIN/HELLO/NOP/cancel
// frames); the scheduler's xioConnectionSend calls frameAndPost itself.
func (c *Connection) postMessage(m *Message, direct bool) error {
	t, err := c.tasks.Acquire()
	if err != nil {
		return err
	}
	if err := c.frameAndPost(m, t); err != nil {
		c.tasks.Put(t)
		return err
	}
	m.task = t
	c.sendByID[t.LocalTaskID] = t
	if direct {
		c.rdma.moveToInFlight(t)
	}
	return nil
}

// flushMsgs re-prepends every in-flight message to the head of its ready
// queue, restoring budgets (spec.md §4.5 "Flush semantics").
func (c *Connection) flushMsgs() {
	drain := func(inFlight, ready *messageList, budget *semaphore.Weighted) {
		for inFlight.Len() > 0 {
			m := inFlight.PopFront()
			ready.PushFront(m)
			if budget != nil {
				budget.Release(1)
			}
		}
	}
	drain(&c.inFlightRequests, &c.requests, c.reqBudget)
	drain(&c.inFlightResponses, &c.responses, c.appIOBudget)
}

// notifyMsgsFlush drains both ready queues, delivering MSG_FLUSHED to
// every application message, and returns one-way response envelopes to the
// free pool (spec.md §4.5 "Flush semantics"). isFlushed prevents a double
// flush.
func (c *Connection) notifyMsgsFlush() {
	if c.isFlushed {
		return
	}
	c.isFlushed = true

	drainNotify := func(q *messageList) {
		for q.Len() > 0 {
			m := q.PopFront()
			c.session.NotifyMsgError(m, MsgFlushed)
			if m.Kind == KindOneWayResponse {
				c.releaseOneWay(m)
			}
		}
	}
	drainNotify(&c.requests)
	drainNotify(&c.responses)
}

// IsFlushed reports whether notifyMsgsFlush has already run, for tests.
func (c *Connection) IsFlushed() bool { return c.isFlushed }

// Flag bits carried on Message.Flags (spec.md §3 "flags (receipt
// requested, small-zero-copy, etc.)").
const (
	FlagReceiptRequested uint8 = 1 << iota
	FlagSmallZeroCopy
	FlagFirst
	FlagLast
)
