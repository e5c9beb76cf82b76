// Package datapath implements the wire-framing and transfer-mode decisions
// of spec.md §4.3: choosing inline SEND vs RDMA_READ/RDMA_WRITE for a
// message's payload, and walking local/remote scatter-gather lists to split
// an RDMA op into segments stamped onto a primary task and its phantom
// tasks when they mismatch in segmentation.
//
// Grounded on the teacher's internal/buffer package (framed, contiguous
// send/receive buffers with a fixed header region) generalized from a
// single kernel-protocol frame shape to the request/response/nop/setup/
// cancel sub-headers of spec.md §4.3, and on
// _examples/other_examples/b80f44bc_fenilsonani-vcs__internal-hyperdrive-rdma_network.go.go's
// WorkRequest/ScatterGatherElement vocabulary for the verb-level chaining.
package datapath

import (
	"github.com/storage-zuiwanyuan/accelio/internal/task"
	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

// MaxHdr is subtracted from max_send_buf_sz when deciding whether a
// request's header + inline data fits in the inline SEND budget (spec.md
// §4.3 "Transfer-mode decision").
const MaxHdr = 256

// SendMode is the outcome of the outgoing transfer-mode decision.
type SendMode uint8

const (
	ModeInlineSend SendMode = iota
	ModeRDMARead
)

// ChooseRequestMode implements spec.md §4.3's outgoing-request decision:
// "If xio_hdr + ulp_hdr + ulp_imm < max_send_buf_sz − MAX_HDR: inline SEND
// ... Else: RDMA_READ by peer."
func ChooseRequestMode(xioHdrLen, ulpHdrLen, ulpImmLen, maxSendBufSz int) SendMode {
	if xioHdrLen+ulpHdrLen+ulpImmLen < maxSendBufSz-MaxHdr {
		return ModeInlineSend
	}
	return ModeRDMARead
}

// ResponseSmallZeroCopy is the flag bit spec.md §4.3 names
// "XIO_MSG_FLAG_SMALL_ZERO_COPY" on the requester's message.
const ResponseSmallZeroCopy uint8 = 1 << 1

// ChooseResponseMode implements spec.md §4.3's symmetric incoming-response
// decision: "if the requester sets XIO_MSG_FLAG_SMALL_ZERO_COPY or the
// response exceeds the send buffer, the requester exposes an inbound data
// buffer ... otherwise it expects the response inline."
func ChooseResponseMode(requestFlags uint8, expectedRspLen, maxSendBufSz int) SendMode {
	if requestFlags&ResponseSmallZeroCopy != 0 || expectedRspLen > maxSendBufSz {
		return ModeRDMARead
	}
	return ModeInlineSend
}

// Segment is one local/remote address pair to RDMA_READ or RDMA_WRITE,
// produced by SplitScatterLists.
type Segment struct {
	Local  wire.ScatterDescriptor
	Remote wire.ScatterDescriptor
}

// SplitScatterLists walks local and remote scatter-gather lists jointly,
// splitting at element boundaries, implementing spec.md §4.3's
// `prep_rdma_op`: "walks the local and remote sg lists jointly, splitting
// at element boundaries and emitting one RDMA_READ work request per
// segment." Returns an error if the total lengths of the two lists differ,
// per the same paragraph's "validate total lengths match".
func SplitScatterLists(local, remote []wire.ScatterDescriptor) ([]Segment, error) {
	var localTotal, remoteTotal uint64
	for _, d := range local {
		localTotal += uint64(d.Length)
	}
	for _, d := range remote {
		remoteTotal += uint64(d.Length)
	}
	if localTotal != remoteTotal {
		return nil, wire.ErrBadLength
	}

	var segs []Segment
	li, ri := 0, 0
	var lOff, rOff uint32
	for li < len(local) && ri < len(remote) {
		l := local[li]
		r := remote[ri]
		lRemain := l.Length - lOff
		rRemain := r.Length - rOff
		n := lRemain
		if rRemain < n {
			n = rRemain
		}

		segs = append(segs, Segment{
			Local:  wire.ScatterDescriptor{Addr: l.Addr + uint64(lOff), Length: n, Stag: l.Stag},
			Remote: wire.ScatterDescriptor{Addr: r.Addr + uint64(rOff), Length: n, Stag: r.Stag},
		})

		lOff += n
		rOff += n
		if lOff == l.Length {
			li++
			lOff = 0
		}
		if rOff == r.Length {
			ri++
			rOff = 0
		}
	}
	return segs, nil
}

// PhantomsNeeded reports how many auxiliary (phantom) tasks an RDMA op
// split into len(segs) segments requires: every segment but the terminal
// one needs its own task to carry the work request, since only one task
// (the last) triggers completion notification (spec.md §4.1 "Phantom tasks").
func PhantomsNeeded(segs []Segment) int {
	if len(segs) == 0 {
		return 0
	}
	return len(segs) - 1
}

// AssignSegments stamps the SGE fields of a primary task plus its phantom
// tasks with the segments produced by SplitScatterLists, in the order they
// must be chained on the wire: phantoms first (non-terminal), primary task
// last (terminal, the one that notifies completion).
func AssignSegments(segs []Segment, phantoms []*task.Task, primary *task.Task, op task.OpTag) {
	ordered := append(append([]*task.Task{}, phantoms...), primary)
	for i, seg := range segs {
		if i >= len(ordered) {
			break
		}
		t := ordered[i]
		t.Op = op
		switch op {
		case task.OpRDMARead:
			t.SGE.LocalRecv = []wire.ScatterDescriptor{seg.Local}
			t.SGE.PeerRead = []wire.ScatterDescriptor{seg.Remote}
		case task.OpRDMAWrite:
			t.SGE.LocalSend = []wire.ScatterDescriptor{seg.Local}
			t.SGE.PeerWrite = []wire.ScatterDescriptor{seg.Remote}
		}
	}
}
