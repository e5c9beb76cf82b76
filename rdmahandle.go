package xio

import (
	"github.com/storage-zuiwanyuan/accelio/internal/flowctrl"
	"github.com/storage-zuiwanyuan/accelio/internal/task"
)

// rdmaHandle is the per-connection RDMA protocol state of spec.md §3 "RDMA
// handle": the flow-control window plus the four task lists the data-path
// engine moves tasks through (rdma-read, rdma-read-in-flight, io,
// in-flight). There is no separate transmit-ready or tx-complete list.
type rdmaHandle struct {
	window *flowctrl.Window

	rdmaRdList     []*task.Task // scheduled RDMA_READ ops awaiting sqe_avail
	rdmaRdInFlight []*task.Task // posted RDMA_READ ops awaiting completion
	io             []*task.Task // tasks holding a posted RECV work request
	inFlight       []*task.Task // posted SEND/WRITE ops awaiting completion

	// kickRDMARead is set when rdma_rd_list has entries that could not be
	// posted for lack of sqe_avail; retried at every transmit or completion
	// cycle (spec.md §4.3 "RDMA-read scheduling").
	kickRDMARead bool

	lastSendSignaled bool
	reqSigCount      uint32
	rspSigCount      uint32
}

func newRDMAHandle(sqDepth, rqDepth uint32) *rdmaHandle {
	return &rdmaHandle{window: flowctrl.NewWindow(sqDepth, rqDepth)}
}

// moveToInFlight records a posted SEND/WRITE task as in flight, so a later
// completion can retire it via removeInFlight (spec.md §3 "in_flight_list").
func (h *rdmaHandle) moveToInFlight(t *task.Task) { h.inFlight = append(h.inFlight, t) }

// pushIO/removeIO track tasks currently holding a posted RECV work request
// (spec.md §3 "io" task list).
func (h *rdmaHandle) pushIO(t *task.Task) { h.io = append(h.io, t) }

func (h *rdmaHandle) removeIO(t *task.Task) bool {
	for i, cur := range h.io {
		if cur == t {
			h.io = append(h.io[:i], h.io[i+1:]...)
			return true
		}
	}
	return false
}

// removeInFlight retires a task from inFlight once its SEND/WRITE
// completion arrives (called from Connection.completeSend).
func (h *rdmaHandle) removeInFlight(t *task.Task) bool {
	for i, cur := range h.inFlight {
		if cur == t {
			h.inFlight = append(h.inFlight[:i], h.inFlight[i+1:]...)
			return true
		}
	}
	return false
}

// pushRDMARead enqueues a segment chain awaiting sqe_avail, per spec.md
// §4.3: "The chain is pushed to rdma_rd_list; xmit_rdma_rd submits as many
// as sqe_avail allows; the rest wait behind kick_rdma_rd."
func (h *rdmaHandle) pushRDMARead(tasks []*task.Task) {
	h.rdmaRdList = append(h.rdmaRdList, tasks...)
	h.kickRDMARead = len(h.rdmaRdList) > 0
}

// xmitRDMARead submits as many queued RDMA_READ tasks as sqe_avail allows,
// moving each to rdma_rd_in_flight, and returns the tasks actually
// submitted this call (spec.md §4.3).
func (h *rdmaHandle) xmitRDMARead() []*task.Task {
	var submitted []*task.Task
	for len(h.rdmaRdList) > 0 && h.window.SQEAvail > 0 {
		t := h.rdmaRdList[0]
		h.rdmaRdList = h.rdmaRdList[1:]
		h.window.SQEAvail--
		h.rdmaRdInFlight = append(h.rdmaRdInFlight, t)
		submitted = append(submitted, t)
	}
	h.kickRDMARead = len(h.rdmaRdList) > 0
	return submitted
}

// completeRDMARead retires a posted RDMA_READ task from rdma_rd_in_flight
// (spec.md §4.2/§4.3). It does not touch sqe_avail; the completion
// handler restores that itself.
func (h *rdmaHandle) completeRDMARead(t *task.Task) bool {
	for i, cur := range h.rdmaRdInFlight {
		if cur == t {
			h.rdmaRdInFlight = append(h.rdmaRdInFlight[:i], h.rdmaRdInFlight[i+1:]...)
			return true
		}
	}
	return false
}
