package xio

import "github.com/storage-zuiwanyuan/accelio/internal/wire"

// localSetupOffer builds this connection's offered queue-depth/buffer-size
// parameters for the CONN_SETUP_REQ/RSP exchange (spec.md §6 "Setup
// handshake").
func (c *Connection) localSetupOffer() wire.SetupHeader {
	return wire.SetupHeader{
		BufferSz: uint32(c.cfg.MaxSendBufSz),
		SQDepth:  c.cfg.SQDepth,
		RQDepth:  c.cfg.RQDepth,
		Credits:  c.cfg.RQDepth,
	}
}

// BeginSetup sends CONN_SETUP_REQ from INIT, starting the handshake that
// negotiates queue depths before a connection can reach ESTABLISHED
// (spec.md §6 "Setup handshake"). Only the connecting (active) side calls
// this; the listening side waits for the inbound request and replies.
func (c *Connection) BeginSetup() {
	if c.state != StateInit {
		return
	}
	m, err := c.acquireOneWay()
	if err != nil {
		return
	}
	m.Kind = KindSetupRequest
	c.sendDirect(m)
}

// encodeSetupHeader frames a CONN_SETUP_REQ/RSP sub-header: this
// connection's own offer, for the request and the response alike. The
// response does not carry the negotiated minimum; each side computes the
// minimum itself on receipt (see onRecvSetupFrame).
func (c *Connection) encodeSetupHeader(buf []byte) (int, error) {
	h := c.localSetupOffer()
	if err := h.Encode(buf); err != nil {
		return 0, err
	}
	return wire.SetupHeaderSize, nil
}

// setupFlag distinguishes CONN_SETUP_REQ from CONN_SETUP_RSP on the wire by
// reusing the transport header's otherwise-unused flags byte, the same way
// every other one-way control kind is told apart by its own sub-header's
// opcode field (spec.md §4.3 "Wire format").
func setupFlag(k MessageKind) uint8 {
	if k == KindSetupResponse {
		return 1
	}
	return 0
}

// onRecvSetupFrame dispatches an inbound CONN_SETUP_REQ or CONN_SETUP_RSP
// (spec.md §6 "Setup handshake"): negotiate to the element-wise minimum of
// both sides' offers, adopt it, and — on the passive side — reply with a
// CONN_SETUP_RSP carrying its own offer.
// Either side moves INIT→ESTABLISHED once its half of the handshake
// completes and kicks off the HELLO exchange toward ONLINE.
func (c *Connection) onRecvSetupFrame(sub []byte, isResponse bool) {
	peer, err := wire.DecodeSetupHeader(sub)
	if err != nil {
		return
	}
	c.applySetup(wire.Min(c.localSetupOffer(), peer))

	if !isResponse {
		rsp, err := c.acquireOneWay()
		if err == nil {
			rsp.Kind = KindSetupResponse
			c.sendDirect(rsp)
		}
	}

	if c.state == StateInit {
		c.state = StateEstablished
		c.SendHello()
	}
}

// applySetup adopts the negotiated receive-queue depth as ActualRQDepth,
// with no extra receive entries added on top of it. Negotiated buffer
// size/send-queue depth are not applied: the task pool and window keep the
// sizes taken from this connection's own configured values at
// construction, and sends are not limited to a smaller peer offer.
func (c *Connection) applySetup(h wire.SetupHeader) {
	c.rdma.window.ActualRQDepth = h.RQDepth
	c.refillRQ()
}
