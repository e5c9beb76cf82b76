package xio

import "fmt"

// State is a Connection's position in the TCP-like graceful-close state
// machine of spec.md §3/§4.6.
type State uint8

const (
	StateInit State = iota
	StateEstablished
	StateOnline
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
	StateClosed
	StateDisconnected
	StateError
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateOnline:
		return "ONLINE"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateClosed:
		return "CLOSED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "INVALID"
	}
}

// sendFlag is the wire action a close transition requires.
type sendFlag uint8

const (
	sendNone sendFlag = iota
	sendAck
)

type transitionKey struct {
	state  State
	finAck bool
}

type transitionResult struct {
	next  State
	flags sendFlag
}

// closeTransitions is the static transition table of spec.md §4.6, kept as
// data rather than a chain of conditionals per spec.md §9 design note
// ("Static transition table ... keep it as a constant table indexed by
// (state, fin_ack_flag); do not encode as a chain of conditionals").
var closeTransitions = map[transitionKey]transitionResult{
	{StateOnline, false}:    {StateCloseWait, sendAck},
	{StateFinWait1, false}:  {StateClosing, sendAck},
	{StateFinWait1, true}:   {StateFinWait2, sendNone},
	{StateFinWait2, false}:  {StateTimeWait, sendAck},
	{StateClosing, true}:    {StateTimeWait, sendNone},
	{StateLastAck, true}:    {StateClosed, sendNone},
}

// invalidTransition marks a (state, fin_ack) pair the table does not
// recognize as a programmer error, per spec.md §9 open question 1: "the
// state-machine driver should treat invalid transitions as a bug, not
// ignore them." It never returns.
func invalidTransition(state State, finAck bool) {
	panic(fmt.Sprintf("xio: invalid close transition from %v (fin_ack=%v)", state, finAck))
}

// onFin drives the close state machine on receipt of a FIN frame
// (fin_ack=false) or a FIN-ACK frame (fin_ack=true), applying
// closeTransitions and returning whether an ACK must be sent back.
func (c *Connection) onFin(finAck bool) (sendAckNow bool) {
	key := transitionKey{state: c.state, finAck: finAck}
	res, ok := closeTransitions[key]
	if !ok {
		invalidTransition(c.state, finAck)
	}
	c.state = res.next
	return res.flags == sendAck
}

// Disconnect performs an active close on an ONLINE connection (spec.md
// §4.6 "Active close"): it sets the closing flag, transitions to
// FIN_WAIT_1, frames a FIN_REQ from the one-way pool and sends it directly
// (bypassing the ready queue), then notifies the session of closure. The
// state transition and send are posted through the owning execution
// context, mirroring the source's pre_disconnect work item so the change
// always happens on the connection's own thread.
func (c *Connection) Disconnect() {
	c.ctx.AddWork(func() {
		if c.state != StateOnline {
			return
		}
		c.closing = true
		c.state = StateFinWait1

		fin, err := c.acquireOneWay()
		if err == nil {
			fin.Kind = KindFinRequest
			c.sendDirect(fin)
		}

		c.session.NotifyConnectionClosed(nil)
	})
}

// onFinRequest handles an inbound FIN_REQ frame. While ONLINE this is a
// passive close (spec.md §4.6 "Passive close"): transition to CLOSE_WAIT
// and send FIN_ACK. In any other valid state the transition table decides.
func (c *Connection) onFinRequest() {
	if sendAckNow := c.onFin(false); sendAckNow {
		ack, err := c.acquireOneWay()
		if err == nil {
			ack.Kind = KindFinResponse
			c.sendDirect(ack)
		}
	}
}

// onFinAck handles an inbound FIN_ACK frame.
func (c *Connection) onFinAck() {
	c.onFin(true)
	if c.state == StateClosed {
		c.postDestroy()
	}
}

// Destroy implements spec.md §4.6's upper-layer-triggered half of the
// passive close: "Upper layer later calls connection_destroy: if state is
// CLOSE_WAIT, send FIN_REQ, transition to LAST_ACK."
func (c *Connection) Destroy() {
	c.ctx.AddWork(func() {
		if c.state != StateCloseWait {
			return
		}
		fin, err := c.acquireOneWay()
		if err == nil {
			fin.Kind = KindFinRequest
			c.sendDirect(fin)
		}
		c.state = StateLastAck
	})
}

// postDestroy tears the connection down once CLOSED is reached: flush
// outstanding tasks, release the underlying transport, and notify teardown
// (spec.md §4.6 "post-destroy").
func (c *Connection) postDestroy() {
	c.flushMsgs()
	c.notifyMsgsFlush()
	if c.verbs != nil {
		c.verbs.Disconnect()
	}
	c.session.NotifyTeardown()
}

// onConnectError handles a connection-level failure (spec.md §7
// "Connection-level" errors): transitions to DISCONNECTED, flushes both
// queues, and notifies teardown, regardless of the state the connection
// was previously in.
func (c *Connection) onConnectError(reason error) {
	c.state = StateDisconnected
	c.flushMsgs()
	c.notifyMsgsFlush()
	c.session.NotifyConnectionClosed(reason)
	c.session.NotifyTeardown()
}
