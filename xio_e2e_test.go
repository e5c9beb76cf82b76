package xio_test

// End-to-end seed tests (spec.md §8 "End-to-end scenarios"), wiring two
// Connections over internal/looptransport's in-process Verbs pair and
// driving the setup/HELLO handshake by hand, the way an application's own
// event-loop glue would.

import (
	"testing"

	xio "github.com/storage-zuiwanyuan/accelio"
	"github.com/storage-zuiwanyuan/accelio/internal/looptransport"
)

// harness bundles a pair of connected, ONLINE Connections for a test.
type harness struct {
	t *testing.T

	a, b           *Conn
	verbsA, verbsB *looptransport.Endpoint
}

// Conn bundles one side's Connection with its session hooks so a test can
// observe deliveries without its own bookkeeping.
type Conn struct {
	*xio.Connection
	session *xio.SimpleSession
	ctx     *xio.InlineExecutionContext

	messages []*xio.Message
	errors   []msgErr
	closed   []error
	teardown int
}

type msgErr struct {
	msg    *xio.Message
	status xio.MsgStatus
}

func newHarness(t *testing.T, sqDepth, rqDepth uint32) *harness {
	t.Helper()
	va, vb := looptransport.NewPair(int(rqDepth) + 4)

	a := newConn(va, sqDepth, rqDepth)
	b := newConn(vb, sqDepth, rqDepth)

	return &harness{t: t, a: a, b: b, verbsA: va, verbsB: vb}
}

func newConn(verbs xio.Verbs, sqDepth, rqDepth uint32) *Conn {
	c := &Conn{ctx: &xio.InlineExecutionContext{}}
	c.session = &xio.SimpleSession{
		OnMsg:             func(m *xio.Message) { c.messages = append(c.messages, m) },
		OnMsgError:        func(m *xio.Message, s xio.MsgStatus) { c.errors = append(c.errors, msgErr{m, s}) },
		OnConnectionClose: func(err error) { c.closed = append(c.closed, err) },
		OnTeardown:        func() { c.teardown++ },
	}
	c.Connection = xio.NewConnection(c.session, c.ctx, verbs, xio.ConnectionConfig{
		SQDepth: sqDepth,
		RQDepth: rqDepth,
	})
	return c
}

// tick transitions a connection's reactor from armed to polling (as a real
// event loop would on fd readiness) and runs one pass. The loopback
// transport delivers completions synchronously with no fd to wait on, so
// tests call this in place of an event-loop wakeup.
func tick(c *Conn) {
	c.OnReadable()
	c.RunPass()
}

// handshake drives the CONN_SETUP/HELLO exchange (SPEC_FULL.md supplemented
// feature) until both sides report ONLINE, pumping each side's reactor in
// turn since the loopback transport delivers synchronously.
func (h *harness) handshake() {
	h.a.BeginSetup()
	for i := 0; i < 8 && (h.a.State() != xio.StateOnline || h.b.State() != xio.StateOnline); i++ {
		tick(h.b)
		tick(h.a)
	}
	if h.a.State() != xio.StateOnline || h.b.State() != xio.StateOnline {
		h.t.Fatalf("handshake did not reach ONLINE: a=%v b=%v", h.a.State(), h.b.State())
	}
}

// pump alternately drains both sides' completion queues until neither makes
// progress, standing in for repeated reactor ticks on each side's event
// loop.
func (h *harness) pump(rounds int) {
	for i := 0; i < rounds; i++ {
		tick(h.a)
		tick(h.b)
	}
}

// --- Scenario 1: inline round trip (spec.md §8 scenario 1) ---

func TestInlineRoundTrip(t *testing.T) {
	h := newHarness(t, 16, 16)
	h.handshake()

	req := &xio.Message{
		Header: xio.IOVec{Buf: []byte("ping")},
		Data:   xio.IOVec{Buf: []byte("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")}, // 32 bytes
	}
	if err := h.a.SendRequest(req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	h.pump(4)

	if len(h.b.messages) != 1 {
		t.Fatalf("server NEW_MESSAGE count = %d, want 1", len(h.b.messages))
	}
	got := h.b.messages[0]
	if string(got.Data.Buf) != string(req.Data.Buf) {
		t.Fatalf("server payload = %q, want %q", got.Data.Buf, req.Data.Buf)
	}

	rsp := &xio.Message{
		Request: got,
		Header:  xio.IOVec{Buf: []byte("pong")},
		Data:    xio.IOVec{Buf: []byte("yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy")},
	}
	if err := h.b.SendResponse(rsp); err != nil {
		t.Fatalf("SendResponse: %v", err)
	}
	h.pump(4)

	if len(h.a.messages) != 1 {
		t.Fatalf("client NEW_MESSAGE count = %d, want 1", len(h.a.messages))
	}
	if string(h.a.messages[0].Data.Buf) != string(rsp.Data.Buf) {
		t.Fatalf("client payload = %q, want %q", h.a.messages[0].Data.Buf, rsp.Data.Buf)
	}
}

// --- Scenario 3: budget saturation (spec.md §8 scenario 3) ---

func TestBudgetSaturation(t *testing.T) {
	h := newHarness(t, 128, 128)
	h.handshake()

	const total = 65
	accepted := 0
	for i := 0; i < total; i++ {
		req := &xio.Message{Header: xio.IOVec{Buf: []byte("r")}}
		if err := h.a.SendRequest(req); err == nil {
			accepted++
		} else if err != xio.ErrAgain {
			t.Fatalf("unexpected SendRequest error on #%d: %v", i, err)
		}
	}
	if accepted != total {
		// Every enqueue call itself always succeeds (the budget only
		// blocks xioConnectionSend's framing step, not enqueue), so all 65
		// land in the ready/in-flight queues collectively.
		t.Fatalf("accepted = %d, want %d", accepted, total)
	}

	h.pump(8)

	if len(h.b.messages) < 1 {
		t.Fatalf("server observed no requests after pumping")
	}
}

// --- Scenario 2: large payload via RDMA_READ (spec.md §8 scenario 2) ---

func TestRDMAReadPath(t *testing.T) {
	h := newHarness(t, 16, 16)
	h.handshake()

	payload := make([]byte, 128*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	req := &xio.Message{
		Header: xio.IOVec{Buf: []byte("big-read")},
		Data:   xio.IOVec{Buf: payload},
	}
	if err := h.a.SendRequest(req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	h.pump(8)

	if len(h.b.messages) != 1 {
		t.Fatalf("server NEW_MESSAGE count = %d, want 1", len(h.b.messages))
	}
	got := h.b.messages[0]
	if len(got.Data.Buf) != len(payload) {
		t.Fatalf("server payload length = %d, want %d", len(got.Data.Buf), len(payload))
	}
	for i := range payload {
		if got.Data.Buf[i] != payload[i] {
			t.Fatalf("server payload mismatch at byte %d: got %d, want %d", i, got.Data.Buf[i], payload[i])
		}
	}
	if string(got.Header.Buf) != "big-read" {
		t.Fatalf("server header = %q, want %q", got.Header.Buf, "big-read")
	}
}

// --- Scenario 2b: ASSIGN_IN_BUF lets the session supply its own target
// buffer for an inbound RDMA_READ instead of the connection allocating one
// itself (spec.md §6 "ASSIGN_IN_BUF") ---

func TestRDMAReadPathAssignInBuf(t *testing.T) {
	h := newHarness(t, 16, 16)
	h.handshake()

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i * 3)
	}

	var assigned []byte
	assignCalls := 0
	h.b.session.OnAssignInBuf = func(size int) ([]byte, xio.MemoryRegion, bool) {
		assignCalls++
		buf := make([]byte, size)
		mr, err := h.verbsB.RegisterMR(buf)
		if err != nil {
			return nil, xio.MemoryRegion{}, false
		}
		assigned = buf
		return buf, mr, true
	}

	req := &xio.Message{
		Header: xio.IOVec{Buf: []byte("assigned")},
		Data:   xio.IOVec{Buf: payload},
	}
	if err := h.a.SendRequest(req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	h.pump(8)

	if assignCalls == 0 {
		t.Fatalf("session's AssignInBuf was never consulted")
	}
	if len(h.b.messages) != 1 {
		t.Fatalf("server NEW_MESSAGE count = %d, want 1", len(h.b.messages))
	}
	got := h.b.messages[0].Data.Buf
	if &got[0] != &assigned[0] {
		t.Fatalf("delivered payload was not the session-assigned buffer")
	}
	if string(got) != string(payload) {
		t.Fatalf("delivered payload mismatch")
	}
}

// --- Scenario 4: graceful active close (spec.md §8 scenario 4) ---

func TestGracefulActiveClose(t *testing.T) {
	h := newHarness(t, 16, 16)
	h.handshake()

	h.a.Disconnect()
	if h.a.State() != xio.StateFinWait1 {
		t.Fatalf("client state after Disconnect = %v, want FIN_WAIT_1", h.a.State())
	}

	// client->server FIN_REQ; server ONLINE -> CLOSE_WAIT, sends FIN_ACK.
	tick(h.b)
	if h.b.State() != xio.StateCloseWait {
		t.Fatalf("server state = %v, want CLOSE_WAIT", h.b.State())
	}

	// server->client FIN_ACK; client FIN_WAIT_1 -> FIN_WAIT_2.
	tick(h.a)
	if h.a.State() != xio.StateFinWait2 {
		t.Fatalf("client state = %v, want FIN_WAIT_2", h.a.State())
	}

	// Upper layer destroys the server connection: CLOSE_WAIT -> LAST_ACK,
	// sends FIN_REQ.
	h.b.Destroy()
	if h.b.State() != xio.StateLastAck {
		t.Fatalf("server state = %v, want LAST_ACK", h.b.State())
	}

	// server->client FIN_REQ; client FIN_WAIT_2 -> TIME_WAIT, sends FIN_ACK.
	tick(h.a)
	if h.a.State() != xio.StateTimeWait {
		t.Fatalf("client state = %v, want TIME_WAIT", h.a.State())
	}

	// client->server FIN_ACK; server LAST_ACK -> CLOSED, post-destroy runs.
	tick(h.b)
	if h.b.State() != xio.StateClosed {
		t.Fatalf("server state = %v, want CLOSED", h.b.State())
	}
	if h.b.teardown != 1 {
		t.Fatalf("server teardown notifications = %d, want 1", h.b.teardown)
	}
}

// --- Scenario 6: cancel of a ready (not-yet-sent) request ---

func TestCancelReadyRequest(t *testing.T) {
	h := newHarness(t, 16, 16)
	h.handshake()

	// Saturate the admission path (task pool and/or request budget) first
	// so the next enqueue stays purely local (ready, not yet framed),
	// letting CancelRequest exercise the spec.md §4.7 "reqs_msgq (ready)"
	// search-order branch deterministically.
	for i := 0; i < 64; i++ {
		h.a.SendRequest(&xio.Message{Header: xio.IOVec{Buf: []byte("r")}})
	}
	pending := &xio.Message{Header: xio.IOVec{Buf: []byte("cancel-me")}}
	if err := h.a.SendRequest(pending); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	h.a.CancelRequest(pending.SN)

	found := false
	for _, e := range h.a.errors {
		if e.msg == pending && e.status == xio.MsgCanceled {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MSG_CANCELED for sn=%d, got %+v", pending.SN, h.a.errors)
	}
}
