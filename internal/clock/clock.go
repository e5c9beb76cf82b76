// Package clock provides an injectable notion of time, so that components
// with poll-timeout and hysteresis budgets (the completion-queue reactor)
// can be driven deterministically from tests instead of sleeping on a wall
// clock.
//
// Built directly on jacobsa/timeutil's Clock interface, a teacher
// dependency (named in the teacher's go.mod) this package reuses for its
// real implementation rather than re-inventing the same shape by hand.
package clock

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Clock is the minimal time source the core depends on.
type Clock = timeutil.Clock

// Real returns the wall-clock implementation.
func Real() Clock { return timeutil.RealClock() }

// Fake is a manually-advanced clock for tests. timeutil.SimulatedClock would
// serve the same role, but its exact construction/advance API isn't pinned
// down by anything this package imports elsewhere, so tests get a small
// local type that only needs to satisfy timeutil.Clock's single Now method.
type Fake struct {
	now time.Time
}

// NewFake returns a Fake starting at the given time.
func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time { return f.now }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.now = f.now.Add(d) }
