package xio

import (
	"github.com/storage-zuiwanyuan/accelio/internal/task"
	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

// MessageKind enumerates the message types a Connection schedules (spec.md
// §3 "Message").
type MessageKind uint8

const (
	KindRequest MessageKind = iota + 1
	KindOneWayRequest
	KindResponse
	KindOneWayResponse
	KindFinRequest
	KindFinResponse
	KindHelloRequest
	KindHelloResponse
	KindCreditNop
	KindCancelRequest
	KindCancelResponse
	KindSetupRequest
	KindSetupResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindOneWayRequest:
		return "ONE_WAY_REQ"
	case KindResponse:
		return "RESPONSE"
	case KindOneWayResponse:
		return "ONE_WAY_RSP"
	case KindFinRequest:
		return "FIN_REQ"
	case KindFinResponse:
		return "FIN_RSP"
	case KindHelloRequest:
		return "HELLO_REQ"
	case KindHelloResponse:
		return "HELLO_RSP"
	case KindCreditNop:
		return "CREDIT_NOP"
	case KindCancelRequest:
		return "CANCEL_REQ"
	case KindCancelResponse:
		return "CANCEL_RSP"
	case KindSetupRequest:
		return "CONN_SETUP_REQ"
	case KindSetupResponse:
		return "CONN_SETUP_RSP"
	default:
		return "UNKNOWN"
	}
}

// IOVec is a single header or data buffer, optionally backed by a
// pre-registered memory region so the connection can skip a bounce-copy
// before handing it to the verbs layer (spec.md §3: "data iovec with
// optional registered-memory handle").
type IOVec struct {
	Buf []byte
	MR  *MemoryRegion
}

// Message is the application-facing unit a Connection schedules (spec.md §3
// "Message"). It carries its own linked-list pointer the way the teacher's
// freelist-managed in/out messages chain through a single slice rather than
// a container type, so a Connection can keep ready/in-flight lists as plain
// singly-linked chains without allocating a wrapper node per enqueue.
type Message struct {
	Kind MessageKind
	SN   uint32

	Header IOVec
	Data   IOVec

	Flags uint8

	// Request is the back-pointer from a response to the request it
	// matches, set by the application before SendResponse, which rejects a
	// response without it (spec.md §3: "back-pointer to matched request").
	Request *Message

	// next chains this message into whichever list currently owns it
	// (ready, in-flight, or the one-way free pool). A Message belongs to
	// at most one list at a time.
	next *Message

	// task is the wire-level task carrying this message, set once it has
	// been framed and posted (spec.md §3 "Task" back-reference).
	task *task.Task
}

// ULPHeaderLen and ULPDataLen report the sizes the session-layer validators
// consult (spec.md §6 "session.is_valid_out_msg(ulp_hdr_len, ulp_data_len)").
func (m *Message) ULPHeaderLen() int { return len(m.Header.Buf) }
func (m *Message) ULPDataLen() int   { return len(m.Data.Buf) }

// IsOneWay reports whether this message never expects (or produces) a
// matched response/request (spec.md §3 "Non-goals" does not exclude
// one-way messages; they skip the in-flight response-matching list).
func (m *Message) IsOneWay() bool {
	switch m.Kind {
	case KindOneWayRequest, KindOneWayResponse, KindCreditNop:
		return true
	default:
		return false
	}
}

// messageList is a minimal singly-linked FIFO used for the ready/in-flight/
// free-pool lists a Connection maintains (spec.md §3 "two app message
// queues", "two in-flight queues", "one-way message free pool"). It
// deliberately avoids container/list's doubly-linked Element wrapper since
// every node here already carries its own next pointer, mirroring the
// teacher's freelist-of-messages approach in buffer/message_provider.go.
type messageList struct {
	head, tail *Message
	size       int
}

func (l *messageList) PushBack(m *Message) {
	m.next = nil
	if l.tail == nil {
		l.head, l.tail = m, m
	} else {
		l.tail.next = m
		l.tail = m
	}
	l.size++
}

func (l *messageList) PopFront() *Message {
	if l.head == nil {
		return nil
	}
	m := l.head
	l.head = m.next
	if l.head == nil {
		l.tail = nil
	}
	m.next = nil
	l.size--
	return m
}

// Remove splices out m if present, used by the cancel subsystem to pull a
// message out of whichever list currently holds it (spec.md §4.7 "Cancel
// search order").
func (l *messageList) Remove(m *Message) bool {
	var prev *Message
	for cur := l.head; cur != nil; cur = cur.next {
		if cur == m {
			if prev == nil {
				l.head = cur.next
			} else {
				prev.next = cur.next
			}
			if cur == l.tail {
				l.tail = prev
			}
			cur.next = nil
			l.size--
			return true
		}
		prev = cur
	}
	return false
}

func (l *messageList) Len() int { return l.size }

func (l *messageList) Each(fn func(*Message) bool) {
	for cur := l.head; cur != nil; {
		next := cur.next
		if !fn(cur) {
			return
		}
		cur = next
	}
}

// requestOpcodeFor maps a message kind to the wire-level request opcode
// that decides inline-SEND vs RDMA path selection (spec.md §4.2 "Send path
// decision").
func requestOpcodeFor(m *Message) wire.RequestOpcode {
	switch m.Kind {
	case KindRequest, KindOneWayRequest:
		if len(m.Data.Buf) > 0 && m.Data.MR != nil {
			return wire.OpRDMAWrite
		}
		return wire.OpSend
	default:
		return wire.OpSend
	}
}
