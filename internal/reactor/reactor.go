// Package reactor implements the completion-queue polling loop of spec.md
// §4.2: armed vs polling modes, a per-pass time budget measured against an
// injectable clock, and delayed-arm hysteresis.
//
// Grounded on _examples/joeycumines-go-utilpkg/eventloop/poller.go's
// armed-vs-polling epoll wrapper (the sibling example repo's equivalent
// concern) for the two-mode shape, and on the teacher's debug.go /
// jacobsa/timeutil-style injectable clock (see internal/clock) for making
// the per-pass timeout budget deterministically testable.
package reactor

import (
	"time"

	"github.com/storage-zuiwanyuan/accelio/internal/clock"
)

// MaxPollWC bounds how many completions a single polling pass drains
// (spec.md §4.2: "drains up to MAX_POLL_WC completions per pass").
const MaxPollWC = 64

// MaxNumDelayedArm is the number of consecutive empty polling passes
// before the reactor re-arms interrupts (spec.md §4.2).
const MaxNumDelayedArm = 16

// AckBatch is how many armed-CQ notification acks are batched together
// before being acknowledged to the verbs layer (spec.md §4.2: "acknowledges
// the notification (batched: ack every 128)").
const AckBatch = 128

// Mode is the reactor's current operating mode.
type Mode uint8

const (
	ModeArmed Mode = iota
	ModePolling
)

// Poller is the subset of the Verbs collaborator the reactor drives
// directly (spec.md §6 "RDMA verbs": arm notify, ack cq events). Polling
// itself is delegated to the dispatch callback passed to New, since
// completion routing needs package-level knowledge (task/connection
// lookups) the reactor itself doesn't have.
type Poller interface {
	ArmNotify() error
	AckCQEvents(n int)
}

// Reactor drives a single completion queue through the armed/polling cycle
// of spec.md §4.2. It is not safe for concurrent use: like every other
// core component it is owned by a single execution-context thread (spec.md
// §5).
type Reactor struct {
	poller Poller
	clock  clock.Clock

	mode Mode

	pollingTimeout time.Duration // per-pass time budget (spec.md "polling_timeout microseconds")
	numDelayedArm  int
	unackedEvents  int

	// dispatch is invoked repeatedly within a polling pass. Mirroring
	// spec.md's "If a pass returns non-empty, reschedule self" — the
	// reactor doesn't own a scheduler, so RunPass reports "keep going" via
	// its own return value instead of self-rescheduling.
	dispatch func(budget int) (drained int)

	idle func()
}

// New constructs a Reactor. dispatch is called repeatedly within a polling
// pass with the remaining poll budget and must return how many completions
// it actually drained; the pass stops when it returns zero, the budget is
// used up, or the polling timeout elapses. idle is the idle handler of
// spec.md §4.2, invoked after every polling pass; RunPass returns without
// calling it when the reactor is not in polling mode.
func New(poller Poller, clk clock.Clock, pollingTimeout time.Duration, dispatch func(budget int) int, idle func()) *Reactor {
	return &Reactor{
		poller:         poller,
		clock:          clk,
		pollingTimeout: pollingTimeout,
		dispatch:       dispatch,
		idle:           idle,
		mode:           ModeArmed,
	}
}

// Mode reports the reactor's current mode, for tests and diagnostics.
func (r *Reactor) Mode() Mode { return r.mode }

// OnReadable is called when the armed CQ's notification fd becomes
// readable. It acknowledges the event (batching per AckBatch) and
// transitions to polling (spec.md §4.2 "Armed" bullet).
func (r *Reactor) OnReadable() {
	r.unackedEvents++
	if r.unackedEvents >= AckBatch {
		r.poller.AckCQEvents(r.unackedEvents)
		r.unackedEvents = 0
	}
	r.mode = ModePolling
	r.numDelayedArm = 0
}

// RunPass executes one polling pass: drains up to MaxPollWC completions
// (capped further by elapsed time against pollingTimeout), then applies
// the hysteresis rule that re-arms after MaxNumDelayedArm consecutive
// empty passes (spec.md §4.2 "Polling" bullet). It always runs the idle
// handler afterward. Returns true if the caller should invoke RunPass
// again immediately (a non-empty pass "reschedules self").
func (r *Reactor) RunPass() bool {
	if r.mode != ModePolling {
		return false
	}

	start := r.clock.Now()
	budget := MaxPollWC
	drained := 0
	for budget > 0 {
		n := r.dispatch(budget)
		drained += n
		if n == 0 {
			break
		}
		budget -= n
		if r.clock.Now().Sub(start) >= r.pollingTimeout {
			break
		}
	}

	if drained == 0 {
		r.numDelayedArm++
		if r.numDelayedArm >= MaxNumDelayedArm {
			r.arm()
		}
	} else {
		r.numDelayedArm = 0
	}

	if r.idle != nil {
		r.idle()
	}

	return drained > 0
}

func (r *Reactor) arm() {
	r.poller.ArmNotify()
	r.mode = ModeArmed
	r.numDelayedArm = 0
}
