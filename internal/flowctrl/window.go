// Package flowctrl implements the credit-based sliding send/receive window
// described in spec.md §4.4 and the RDMA handle fields of §3.
package flowctrl

const (
	// MaxRecvWR caps sim_peer_credits (spec.md §3 invariant:
	// "sim_peer_credits ≤ MAX_RECV_WR").
	MaxRecvWR = 256

	// snWrapWindow bounds how far ahead a sequence number may be considered
	// "before" another without being treated as having wrapped (spec.md §9
	// open question 3: "modulo arithmetic with a defined window < 32768").
	snWrapWindow = 1 << 15
)

// Window is the per-RDMAHandle sliding-window and credit state (spec.md §3
// "RDMA handle", §4.4 "Flow-control window").
type Window struct {
	SN      uint32 // current send sequence number; strictly monotonic
	MaxSN   uint32 // = send-queue depth; advances on each send completion
	ExpSN   uint32 // expected next sequence number on receive
	AckSN   uint32

	LocalCredits   uint32 // receives freshly rearmed, not yet advertised
	PeerCredits    uint32 // credits available for outgoing sends
	SimPeerCredits uint32 // local mirror of what the peer believes it holds

	SQEAvail uint32
	RQEAvail uint32
	ActualRQDepth uint32

	KickRDMARead      bool
	LastSendSignaled  bool
	ReqSigCount       uint32
	RspSigCount       uint32
}

// NewWindow initializes a Window for a connection whose negotiated queue
// depths are sqDepth/rqDepth. The connection passes its configured RQDepth
// unchanged; no extra receive entries are added on top of it.
func NewWindow(sqDepth, rqDepth uint32) *Window {
	return &Window{
		MaxSN:         sqDepth,
		SQEAvail:      sqDepth,
		ActualRQDepth: rqDepth,
	}
}

// TxWindowSize returns how many more frames may be transmitted before
// exhausting the send-queue depth (spec.md §4.4 "tx_window_sz = max_sn −
// sn").
func (w *Window) TxWindowSize() uint32 {
	if w.SN >= w.MaxSN {
		return 0
	}
	return w.MaxSN - w.SN
}

// AvailableToSend is the effective transmit window: the minimum of the
// send-queue window, peer credits, and device send-queue entries (spec.md
// §4.3 "xmit": "window = min(tx_window, peer_credits, sqe_avail)").
func (w *Window) AvailableToSend() uint32 {
	n := w.TxWindowSize()
	if w.PeerCredits < n {
		n = w.PeerCredits
	}
	if w.SQEAvail < n {
		n = w.SQEAvail
	}
	return n
}

// WriteSN advances the send sequence number and piggybacks local credits
// onto the outgoing frame, per spec.md §4.3: "write_sn ... then increment
// sn, add credits to sim_peer_credits, reset credits to 0, decrement
// peer_credits." Returns the (sn, ackSN, credits) triple the caller should
// stamp onto the wire header via wire.WriteSN.
func (w *Window) WriteSN() (sn, ackSN uint16, credits uint16) {
	sn = uint16(w.SN)
	ackSN = uint16(w.ExpSN)
	credits = uint16(w.LocalCredits)

	w.SN++
	w.SimPeerCredits += w.LocalCredits
	if w.SimPeerCredits > MaxRecvWR {
		w.SimPeerCredits = MaxRecvWR
	}
	w.LocalCredits = 0
	if w.PeerCredits > 0 {
		w.PeerCredits--
	}
	return
}

// OnSendCompletion advances the send-queue window after a completion
// retires an outstanding send (spec.md §4.4: "Completions advance max_sn
// per send completion").
func (w *Window) OnSendCompletion() { w.MaxSN++ }

// OnRecvFrame advances exp_sn on receipt of an application frame whose
// header sn matches, and folds in credits the peer piggybacked, per
// spec.md §4.3 "Receive handling": "exp_sn == hdr.sn ⇒ advance, else log
// and accept; peer_credits += hdr.credits". inOrder reports whether the
// frame's sn matched ExpSN (out-of-order frames are accepted but logged by
// the caller, never rejected — verbs delivery is in-order per QP).
func (w *Window) OnRecvFrame(hdrSN uint16, hdrCredits uint16) (inOrder bool) {
	inOrder = uint16(w.ExpSN) == hdrSN
	w.ExpSN++
	w.PeerCredits += uint32(hdrCredits)
	return
}

// OnRecvCompletion accounts for a posted RECV retiring (spec.md §4.3
// "Receive handling": "decrement rqe_avail and sim_peer_credits").
func (w *Window) OnRecvCompletion() {
	if w.RQEAvail > 0 {
		w.RQEAvail--
	}
	if w.SimPeerCredits > 0 {
		w.SimPeerCredits--
	}
}

// NeedsRQRefill reports whether the receive queue should be topped up
// (spec.md §4.3: "If rqe_avail ≤ rq_depth + 1 and CONNECTED, refill the
// RQ").
func (w *Window) NeedsRQRefill() bool {
	return w.RQEAvail <= w.ActualRQDepth+1
}

// SNLess reports whether sequence number a logically precedes b, using a
// defined modulo window rather than raw integer comparison, so that 16-bit
// wire wraparound does not break ordering once SN exceeds 65535 in the
// 32-bit handle counter (spec.md §9 open question 3).
func SNLess(a, b uint32) bool {
	d := (b - a) & 0xFFFF
	return d > 0 && d < snWrapWindow
}
