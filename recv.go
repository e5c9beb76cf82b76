package xio

import (
	"github.com/storage-zuiwanyuan/accelio/internal/datapath"
	"github.com/storage-zuiwanyuan/accelio/internal/task"
	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

// primeRQ posts the initial batch of receive buffers at construction time
// (spec.md §3 "actual_rq_depth").
func (c *Connection) primeRQ() {
	n := int(c.rdma.window.ActualRQDepth)
	if err := c.postRecvBuffers(n); err != nil {
		return
	}
	c.rdma.window.RQEAvail += uint32(n)
	// Each newly posted recv buffer is a receive freshly rearmed and not yet
	// advertised to the peer (spec.md glossary "Credit"); the next frame
	// this side sends piggybacks them via WriteSN.
	c.rdma.window.LocalCredits += uint32(n)
}

// refillRQ tops up the receive queue once it drops to rq_depth+1 posted
// buffers, per spec.md §4.3 "Receive handling": "If rqe_avail ≤ rq_depth + 1
// and CONNECTED, refill the RQ by allocating primary tasks and chaining
// recv wrs."
func (c *Connection) refillRQ() {
	connected := c.state == StateOnline || c.state == StateEstablished
	if !connected || !c.rdma.window.NeedsRQRefill() {
		return
	}
	target := c.rdma.window.ActualRQDepth + 1
	if c.rdma.window.RQEAvail >= target {
		return
	}
	deficit := int(target - c.rdma.window.RQEAvail)
	if err := c.postRecvBuffers(deficit); err == nil {
		c.rdma.window.RQEAvail += uint32(deficit)
		c.rdma.window.LocalCredits += uint32(deficit)
	}
}

func (c *Connection) nextID() uint64 {
	c.nextRecvID++
	return c.nextRecvID
}

// postRecvBuffers acquires n primary tasks from the pool and posts each as
// a RECV work request, tracking the id→task mapping so a later completion
// can be matched back to its buffer (spec.md §4.1, §4.3).
func (c *Connection) postRecvBuffers(n int) error {
	for i := 0; i < n; i++ {
		t, err := c.tasks.Acquire()
		if err != nil {
			return err
		}
		mr, err := c.verbs.RegisterMR(t.Buffer())
		if err != nil {
			c.tasks.Put(t)
			return err
		}
		c.mrByTask[t] = mr

		id := c.nextID()
		t.LocalTaskID = id
		c.recvByID[id] = t

		wr := WorkRequest{ID: id, Op: WRRecv, Local: []SGE{{Addr: uint64(mr.LKey), Length: uint32(len(t.Buffer()))}}}
		if err := c.verbs.PostRecv(wr); err != nil {
			delete(c.recvByID, id)
			c.tasks.Put(t)
			return err
		}
		c.rdma.pushIO(t)
	}
	return nil
}

// pollAndDispatch drains up to budget completions from the verbs layer and
// routes each to its handler. It is the dispatch callback an
// internal/reactor.Reactor drives within each pass (spec.md §4.2 "Completion
// dispatch").
func (c *Connection) pollAndDispatch(budget int) int {
	wcs := c.verbs.PollCQ(budget)
	for _, wc := range wcs {
		switch wc.Op {
		case WRSend:
			c.onSendCompletion(wc)
		case WRRecv:
			c.onRecvCompletion(wc)
		case WRRDMARead:
			c.onRDMAReadCompletion(wc)
		case WRRDMAWrite:
			c.onRDMAWriteCompletion(wc)
		}
	}
	return len(wcs)
}

// onSendCompletion advances the send window on a successfully retired SEND,
// per spec.md §4.4: "Completions advance max_sn per send completion", and
// retires the task that issued it: recycled to the pool, its budget (if
// any) released, and its owning message dequeued from the in-flight list
// (spec.md §3 lifecycle "ready → in-flight → completed → pool", §8 scenario
// 3). A WR_FLUSH_ERR is expected during teardown and ignored; any other
// error is connection-level (spec.md §7).
func (c *Connection) onSendCompletion(wc WorkCompletion) {
	switch wc.Status {
	case StatusSuccess:
		c.rdma.window.OnSendCompletion()
		c.completeSend(wc.ID)
	case StatusFlushErr:
	default:
		c.onConnectError(&ConnectionError{Reason: "send completion error", Err: ErrShutdown})
	}
}

// onRecvCompletion implements spec.md §4.3 "Receive handling": accounts for
// the retired RQE, hands the frame off for TLV dispatch, and refills the RQ
// if needed.
func (c *Connection) onRecvCompletion(wc WorkCompletion) {
	t, ok := c.recvByID[wc.ID]
	if !ok {
		return
	}
	delete(c.recvByID, wc.ID)
	c.rdma.removeIO(t)
	c.rdma.window.OnRecvCompletion()

	if wc.Status == StatusSuccess {
		c.handleInboundFrame(t.Buffer()[:wc.Bytes])
	}
	c.tasks.Put(t)
	c.refillRQ()

	if !wc.MoreInBatch {
		c.xmit()
	}
}

// handleInboundFrame decodes the TLV envelope, transport header, and
// per-kind sub-header of a received frame and dispatches it (spec.md §4.3
// "Receive handling").
func (c *Connection) handleInboundFrame(data []byte) {
	tlvType, _, rest, err := wire.GetTLV(data)
	if err != nil {
		return
	}
	th, err := wire.DecodeTransportHeader(rest)
	if err != nil {
		return
	}
	subAll := rest[wire.TransportHeaderSize:]
	if int(th.HeaderLen) > len(subAll) {
		return
	}
	sub := subAll[:th.HeaderLen]

	if inOrder := c.rdma.window.OnRecvFrame(th.SN, th.Credits); !inOrder {
		c.debugLog(uint32(th.SN), "out-of-order frame: exp_sn now %d", c.rdma.window.ExpSN)
	}

	switch tlvType {
	case wire.TLVRequest:
		c.onRecvRequestFrame(th, sub, data)
	case wire.TLVResponse:
		c.onRecvResponseFrame(th, sub, data)
	case wire.TLVNop:
		c.onRecvNopFrame(sub)
	case wire.TLVSetup:
		c.onRecvSetupFrame(sub, th.Flags != 0)
	case wire.TLVCancelRequest:
		c.onRecvCancelFrame(sub, true)
	case wire.TLVCancelResponse:
		c.onRecvCancelFrame(sub, false)
	}
}

// inlineRegion extracts a length-prefixed span from the fixed xioHeaderLen
// offset onward, where SetData always places the concatenated ULP header
// followed by ULP data regardless of how much of the reserved header
// region the sub-header itself used. skip positions past any preceding
// region (the ULP header, when extracting the data that follows it).
func inlineRegion(data []byte, skip, length uint32) []byte {
	if length == 0 {
		return nil
	}
	start := xioHeaderLen + int(skip)
	end := start + int(length)
	if start < 0 || end > len(data) {
		return nil
	}
	return append([]byte(nil), data[start:end]...)
}

func (c *Connection) onRecvRequestFrame(th wire.TransportHeader, sub, data []byte) {
	reqHdr, err := wire.DecodeRequestHeader(sub)
	if err != nil {
		return
	}
	msg := &Message{Kind: KindRequest, SN: uint32(reqHdr.SN)}
	msg.Header.Buf = inlineRegion(data, 0, reqHdr.ULPHdrLen)

	if reqHdr.Opcode == wire.OpRDMARead && len(reqHdr.ReadSGEs) > 0 {
		c.scheduleRDMARead(msg, reqHdr.ReadSGEs)
		return
	}

	msg.Data.Buf = inlineRegion(data, reqHdr.ULPHdrLen, reqHdr.ULPImmLen)
	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(len(msg.Data.Buf))
	c.session.NotifyMsg(msg)
}

// onRecvResponseFrame correlates an inbound response back to the
// outstanding request it answers by sn (spec.md §6 "matched by sn"), using
// ResponseHeader.SN, which the responder stamped from the matched request's
// own sn (see encodeResponseHeader) — not the transport header's per-frame
// window sn, which is a connection-local counter the two peers number
// independently. A response whose sn does not match any request this
// connection is still awaiting is reported as MSG_INVALID rather than
// delivered (spec.md §8 boundary behavior); on a match, the request is
// released from awaitingRequests since it has now been answered.
func (c *Connection) onRecvResponseFrame(th wire.TransportHeader, sub, data []byte) {
	rspHdr, err := wire.DecodeResponseHeader(sub)
	if err != nil {
		return
	}
	msg := &Message{Kind: KindResponse, SN: uint32(rspHdr.SN)}
	msg.Header.Buf = inlineRegion(data, 0, rspHdr.ULPHdrLen)
	msg.Data.Buf = inlineRegion(data, rspHdr.ULPHdrLen, rspHdr.ULPImmLen)

	if _, ok := c.awaitingRequests[msg.SN]; !ok {
		c.session.NotifyMsgError(msg, MsgInvalid)
		return
	}
	delete(c.awaitingRequests, msg.SN)

	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(len(msg.Data.Buf))
	c.session.NotifyMsg(msg)
}

// onRecvNopFrame dispatches the control kinds sharing the NOP header shape
// (spec.md §4.4 "NOP header"): FIN/FIN-ACK drive the close state machine
// (close.go), HELLO drives the ESTABLISHED→ONLINE handshake, and CREDIT_NOP
// needs no further action since OnRecvFrame already folded its credits in.
func (c *Connection) onRecvNopFrame(sub []byte) {
	nopHdr, err := wire.DecodeNopHeader(sub)
	if err != nil {
		return
	}
	switch MessageKind(nopHdr.Opcode) {
	case KindFinRequest:
		c.onFinRequest()
	case KindFinResponse:
		c.onFinAck()
	case KindHelloRequest:
		c.onHelloRequest()
	case KindHelloResponse:
		c.MarkOnline()
	case KindCreditNop:
	}
}

func (c *Connection) onRecvCancelFrame(sub []byte, isRequest bool) {
	h, err := wire.DecodeCancelHeader(sub)
	if err != nil {
		return
	}
	if isRequest {
		c.OnCancelRequest(uint32(h.SN))
		return
	}
	status := MsgCanceled
	if h.Result != 0 {
		status = MsgNotFound
	}
	c.OnCancelResponse(uint32(h.SN), status)
}

// scheduleRDMARead implements spec.md §4.3's "read scheduling": builds a
// local buffer sized to the peer-exposed remote scatter list, splits the two
// lists into segments (allocating phantom tasks as needed), and queues the
// resulting chain for transmission.
func (c *Connection) scheduleRDMARead(msg *Message, remote []wire.ScatterDescriptor) {
	var total uint32
	for _, d := range remote {
		total += d.Length
	}

	primary, err := c.tasks.Acquire()
	if err != nil {
		c.session.NotifyMsgError(msg, MsgNotFound)
		return
	}

	// A payload this size rarely fits the task's fixed inline region, so the
	// target buffer comes from the upper layer or a memory pool instead
	// (spec.md §6 "Memory pool", "ASSIGN_IN_BUF"), not from enlarging every
	// task's inline capacity.
	buf, mr, err := c.acquireInBuf(int(total))
	if err != nil {
		c.tasks.Put(primary)
		c.session.NotifyMsgError(msg, MsgSize)
		return
	}
	primary.SetExtBuf(buf)
	primary.SN = msg.SN

	local := []wire.ScatterDescriptor{{Addr: uint64(mr.LKey), Length: total, Stag: mr.LKey}}
	segs, err := datapath.SplitScatterLists(local, remote)
	if err != nil {
		c.tasks.Put(primary)
		return
	}

	n := datapath.PhantomsNeeded(segs)
	phantoms, err := c.tasks.AllocatePhantoms(n, task.OpRDMARead)
	if err != nil {
		c.tasks.Put(primary)
		return
	}
	datapath.AssignSegments(segs, phantoms, primary, task.OpRDMARead)

	c.pendingRDMAMsg[primary] = msg
	chain := append(append([]*task.Task{}, phantoms...), primary)
	c.rdma.pushRDMARead(chain)
	c.pumpRDMARead()
}

// pumpRDMARead submits as many queued RDMA_READ segments as sqe_avail
// allows (spec.md §4.3: "xmit_rdma_rd submits as many as sqe_avail allows").
func (c *Connection) pumpRDMARead() {
	for _, t := range c.rdma.xmitRDMARead() {
		if len(t.SGE.PeerRead) == 0 || len(t.SGE.LocalRecv) == 0 {
			continue
		}
		remote := t.SGE.PeerRead[0]
		local := t.SGE.LocalRecv[0]

		id := c.nextID()
		t.LocalTaskID = id
		c.rdmaByID[id] = t

		wr := WorkRequest{
			ID:         id,
			Op:         WRRDMARead,
			Local:      []SGE{{Addr: local.Addr, Length: local.Length}},
			RemoteAddr: remote.Addr,
			RKey:       remote.Stag,
			Signaled:   true,
		}
		if err := c.verbs.PostSend([]WorkRequest{wr}); err != nil {
			delete(c.rdmaByID, id)
		}
	}
}

// onRDMAReadCompletion retires a posted RDMA_READ segment. Only the
// terminal (non-phantom) task triggers delivery to the application (spec.md
// §4.1 "Phantom tasks").
func (c *Connection) onRDMAReadCompletion(wc WorkCompletion) {
	t, ok := c.rdmaByID[wc.ID]
	if !ok {
		return
	}
	delete(c.rdmaByID, wc.ID)
	c.rdma.completeRDMARead(t)
	c.rdma.window.SQEAvail++
	c.pumpRDMARead()

	if t.PhantomRemaining > 0 {
		return
	}

	msg, ok := c.pendingRDMAMsg[t]
	if !ok {
		c.tasks.Put(t)
		return
	}
	delete(c.pendingRDMAMsg, t)

	// Peer-side cancel handling marked this task CANCEL_PENDING while the
	// read was in flight (spec.md §4.7): suppress delivery and answer the
	// cancel instead.
	if t.State == task.StateCancelPending {
		if rsp, err := c.acquireOneWay(); err == nil {
			rsp.Kind = KindCancelResponse
			rsp.SN = t.SN
			c.sendDirect(rsp)
		}
		c.tasks.Put(t)
		return
	}

	msg.Data.Buf = t.PayloadBytes()
	c.stats.MessagesReceived++
	c.stats.BytesReceived += uint64(len(msg.Data.Buf))
	c.session.NotifyMsg(msg)
	c.tasks.Put(t)
}

// onRDMAWriteCompletion retires a posted RDMA_WRITE. This engine does not
// yet issue RDMA_WRITE itself (see encodeResponseHeader); the handler exists
// for completeness against the WROpcode taxonomy a Verbs implementation may
// still report.
func (c *Connection) onRDMAWriteCompletion(wc WorkCompletion) {
	if wc.Status == StatusSuccess {
		c.rdma.window.SQEAvail++
	}
}

// SendHello sends HELLO_REQ once a connection reaches ESTABLISHED, starting
// the handshake that drives it to ONLINE (SPEC_FULL.md supplemented
// feature).
func (c *Connection) SendHello() {
	if c.state != StateEstablished {
		return
	}
	m, err := c.acquireOneWay()
	if err != nil {
		return
	}
	m.Kind = KindHelloRequest
	c.sendDirect(m)
}

// onHelloRequest answers an inbound HELLO_REQ with HELLO_RSP and marks the
// connection ONLINE immediately, since the passive side needs no further
// round trip (SPEC_FULL.md supplemented feature).
func (c *Connection) onHelloRequest() {
	rsp, err := c.acquireOneWay()
	if err != nil {
		return
	}
	rsp.Kind = KindHelloResponse
	c.sendDirect(rsp)
	c.MarkOnline()
}

// idle is spec.md §4.2's idle handler: invoked after every reactor pass; if
// ONLINE with available sqe_avail, peer credits, and local credits, but
// nothing queued, it emits a CREDIT_NOP carrying the accumulated credits.
func (c *Connection) idle() {
	if c.state != StateOnline {
		return
	}
	w := c.rdma.window
	if w.SQEAvail == 0 || w.PeerCredits == 0 || w.LocalCredits == 0 {
		return
	}
	if c.requests.Len() > 0 || c.responses.Len() > 0 {
		return
	}
	m, err := c.acquireOneWay()
	if err != nil {
		return
	}
	m.Kind = KindCreditNop
	c.sendDirect(m)
}

// RunPass drives one completion-queue reactor pass: poll, dispatch,
// idle-handler, re-arm hysteresis (spec.md §4.2). It reports whether the
// caller should invoke RunPass again immediately.
func (c *Connection) RunPass() bool { return c.reactor.RunPass() }

// OnReadable notifies the reactor that the armed completion channel became
// readable, transitioning it from armed to polling mode (spec.md §4.2
// "Armed" bullet).
func (c *Connection) OnReadable() { c.reactor.OnReadable() }
