package xio

import "github.com/storage-zuiwanyuan/accelio/internal/task"

// Cancel subsystem (spec.md §4.7). Modeled directly on the teacher's
// cancelFuncs/recordCancelFunc/beginOp/finishOp/handleInterrupt pattern in
// connection.go: a cooperative, search-then-act mechanism rather than
// preemptive cancellation, generalized from a single in-kernel interrupt
// request id to a (sn) search across the two lists a not-yet-delivered
// request can occupy here: the ready queue and the rdma in-flight list.

// CancelRequest implements spec.md §4.7's search order for locating a
// request by sn and acting on whichever list currently holds it. It
// reports the outcome synchronously when the message was still purely
// local (still on the ready queue); once a message has actually been
// posted to the wire, cancellation is asynchronous and the outcome arrives
// later as a CANCEL_RSP (spec.md §5 "Cancellation. Cooperative only").
func (c *Connection) CancelRequest(sn uint32) {
	// 1. reqs_msgq (ready): remove, notify MSG_CANCELED, done.
	var found *Message
	c.requests.Each(func(m *Message) bool {
		if m.SN == sn {
			found = m
			return false
		}
		return true
	})
	if found != nil {
		c.requests.Remove(found)
		c.session.NotifyMsgError(found, MsgCanceled)
		c.stats.Cancellations++
		return
	}

	// 2. tx_ready_list (framed, not yet posted): this engine posts a task in
	// the same call that frames it (frameAndPost), so no message ever sits
	// framed-but-unposted — that stage collapses into case 3 below.

	// 3. in_flight_list (already posted): wire a CANCEL_REQ carrying sn; the
	// peer responds asynchronously. completeSend retires a task straight
	// from in_flight_list to the pool on its SEND completion, so there is no
	// separate completed-but-unrecycled list to search here.
	for _, t := range c.rdma.inFlight {
		if t.SN == sn {
			c.sendCancelRequest(sn)
			return
		}
	}

	// Not found anywhere: nothing to cancel locally, and no peer round trip
	// is possible without a matching posted task.
}

func (c *Connection) sendCancelRequest(sn uint32) {
	m, err := c.acquireOneWay()
	if err != nil {
		return
	}
	m.Kind = KindCancelRequest
	m.SN = sn
	c.sendDirect(m)
}

// OnCancelRequest implements spec.md §4.7's peer-side handling: "search
// local rdma-read lists for phantom_idx==0 && sn match; on hit, state :=
// CANCEL_PENDING, suppress user delivery ... on miss, reply immediately."
func (c *Connection) OnCancelRequest(sn uint32) {
	for _, t := range c.rdma.rdmaRdList {
		if t.SN == sn && t.PhantomRemaining == 0 {
			t.State = task.StateCancelPending
			return
		}
	}
	for _, t := range c.rdma.rdmaRdInFlight {
		if t.SN == sn && t.PhantomRemaining == 0 {
			t.State = task.StateCancelPending
			return
		}
	}

	// Miss: reply immediately via the upper-layer hook.
	rsp, err := c.acquireOneWay()
	if err != nil {
		return
	}
	rsp.Kind = KindCancelResponse
	rsp.SN = sn
	c.sendDirect(rsp)
	c.session.NotifyMsgError(rsp, MsgNotFound)
}

// OnCancelResponse delivers the terminal CANCEL_RESPONSE event to the
// session (spec.md §8 scenario 6: "Exactly one CANCEL_RESPONSE event fires
// on the client").
func (c *Connection) OnCancelResponse(sn uint32, status MsgStatus) {
	m := &Message{Kind: KindCancelResponse, SN: sn}
	c.session.NotifyMsgError(m, status)
}
