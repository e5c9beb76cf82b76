package looptransport

import (
	"testing"

	"github.com/storage-zuiwanyuan/accelio"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := NewPair(4)

	recvBuf := make([]byte, 64)
	mr, _ := b.RegisterMR(recvBuf)
	if err := b.PostRecv(xio.WorkRequest{ID: 1, Op: xio.WRRecv, Local: []xio.SGE{{Addr: uint64(mr.LKey), Length: 64}}}); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	sendBuf := []byte("hello, rdma")
	smr, _ := a.RegisterMR(sendBuf)
	err := a.PostSend([]xio.WorkRequest{{
		ID:       2,
		Op:       xio.WRSend,
		Local:    []xio.SGE{{Addr: uint64(smr.LKey), Length: uint32(len(sendBuf))}},
		Signaled: true,
	}})
	if err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	sendCQ := a.PollCQ(10)
	if len(sendCQ) != 1 || sendCQ[0].Op != xio.WRSend || sendCQ[0].Status != xio.StatusSuccess {
		t.Fatalf("sender completion: %+v", sendCQ)
	}

	recvCQ := b.PollCQ(10)
	if len(recvCQ) != 1 || recvCQ[0].Op != xio.WRRecv {
		t.Fatalf("receiver completion: %+v", recvCQ)
	}
	if string(recvBuf[:recvCQ[0].Bytes]) != "hello, rdma" {
		t.Fatalf("delivered data: got %q", recvBuf[:recvCQ[0].Bytes])
	}
}

func TestRDMAWriteDeliversToRemoteRegion(t *testing.T) {
	a, b := NewPair(4)

	remote := make([]byte, 16)
	rmr, _ := b.RegisterMR(remote)

	local := []byte("0123456789ABCDEF")
	lmr, _ := a.RegisterMR(local)

	err := a.PostSend([]xio.WorkRequest{{
		Op:         xio.WRRDMAWrite,
		Local:      []xio.SGE{{Addr: uint64(lmr.LKey), Length: 16}},
		RemoteAddr: uint64(rmr.RKey),
	}})
	if err != nil {
		t.Fatalf("PostSend RDMA_WRITE: %v", err)
	}
	if string(remote) != "0123456789ABCDEF" {
		t.Fatalf("remote region after write: got %q", remote)
	}
}

func TestPostRecvRespectsCapacity(t *testing.T) {
	a, _ := NewPair(1)
	if err := a.PostRecv(xio.WorkRequest{ID: 1}); err != nil {
		t.Fatalf("first PostRecv: %v", err)
	}
	if err := a.PostRecv(xio.WorkRequest{ID: 2}); err != ErrRecvQueueFull {
		t.Fatalf("second PostRecv: got %v, want ErrRecvQueueFull", err)
	}
}

func TestDisconnectFlushesPendingRecvs(t *testing.T) {
	a, _ := NewPair(4)
	a.PostRecv(xio.WorkRequest{ID: 42})
	a.Disconnect()

	cq := a.PollCQ(10)
	if len(cq) != 1 || cq[0].Status != xio.StatusFlushErr {
		t.Fatalf("expected one FlushErr completion, got %+v", cq)
	}
}
