// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xio

import "errors"

// Error taxonomy (spec.md §7). Transient errors are ordinary Go sentinel
// values the caller is expected to retry on; message- and connection-level
// errors are delivered as MsgStatus values via Session.NotifyMsgError /
// NotifyConnectionClosed rather than returned, matching the teacher's
// reuse of kernel errno constants rather than inventing a parallel
// exception hierarchy.
var (
	// ErrAgain is transient: no window, budget, or queue slot. Inside the
	// pump it is recovered by retry from the next pump tick; the enqueue
	// entries also return it to the caller in no-queueing mode when the
	// connection is not ONLINE.
	ErrAgain = errors.New("xio: resource temporarily unavailable")

	// ErrShutdown is returned by the enqueue entries when the connection is
	// closing or not in an admitting state.
	ErrShutdown = errors.New("xio: connection is shutting down")

	// ErrInvalidMessage covers malformed input vectors caught at admission.
	ErrInvalidMessage = errors.New("xio: invalid message")

	// ErrPoolExhausted is returned when the connection's one-way message
	// pool is empty. Task-pool exhaustion in the pump is reported as
	// ErrAgain instead.
	ErrPoolExhausted = errors.New("xio: one-way message pool exhausted")

	// ErrInvalidTransition names the class of (state, fin_ack) pairs the
	// close state machine's table does not recognize (spec.md §3: "treated
	// as programmer errors"). The state machine itself does not return it:
	// invalidTransition panics with a message naming the pair.
	ErrInvalidTransition = errors.New("xio: invalid connection state transition")
)

// MsgStatus is the message-level error taxonomy of spec.md §7.
type MsgStatus uint8

const (
	StatusOK MsgStatus = iota
	MsgSize
	MsgInvalid
	MsgCanceled
	MsgCancelFailed
	MsgNotFound
	MsgFlushed
	PartialMsg
)

func (s MsgStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case MsgSize:
		return "MSG_SIZE"
	case MsgInvalid:
		return "MSG_INVALID"
	case MsgCanceled:
		return "MSG_CANCELED"
	case MsgCancelFailed:
		return "MSG_CANCEL_FAILED"
	case MsgNotFound:
		return "MSG_NOT_FOUND"
	case MsgFlushed:
		return "MSG_FLUSHED"
	case PartialMsg:
		return "PARTIAL_MSG"
	default:
		return "UNKNOWN"
	}
}

// ConnectionError is a connection-level failure (spec.md §7): transitions
// the connection to DISCONNECTED/ERROR, triggers a flush of both queues,
// and notifies teardown.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return "xio: connection error: " + e.Reason + ": " + e.Err.Error()
	}
	return "xio: connection error: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FatalError wraps a condition the original source treated as
// unrecoverable (unknown completion opcode, memory-region lookup miss,
// pool exhaustion during a required allocation) and that spec.md §9 open
// question 2 says must be propagated rather than exiting the process.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "xio: fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
