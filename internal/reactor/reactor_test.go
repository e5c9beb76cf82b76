package reactor

import (
	"testing"
	"time"

	"github.com/storage-zuiwanyuan/accelio/internal/clock"
)

type fakePoller struct {
	armed   int
	acked   int
}

func (f *fakePoller) ArmNotify() error  { f.armed++; return nil }
func (f *fakePoller) AckCQEvents(n int) { f.acked += n }

func TestRunPassRearmsAfterDelayedArmThreshold(t *testing.T) {
	fp := &fakePoller{}
	fk := clock.NewFake(time.Unix(0, 0))
	r := New(fp, fk, time.Millisecond, func(budget int) int { return 0 }, nil)
	r.OnReadable()

	for i := 0; i < MaxNumDelayedArm-1; i++ {
		if r.Mode() != ModePolling {
			t.Fatalf("pass %d: expected still polling", i)
		}
		r.RunPass()
	}
	if fp.armed != 0 {
		t.Fatalf("armed too early: %d", fp.armed)
	}
	r.RunPass()
	if fp.armed != 1 {
		t.Fatalf("expected re-arm after %d empty passes, got armed=%d", MaxNumDelayedArm, fp.armed)
	}
	if r.Mode() != ModeArmed {
		t.Fatalf("expected mode ModeArmed after re-arm")
	}
}

func TestRunPassNonEmptyRequestsReschedule(t *testing.T) {
	fp := &fakePoller{}
	fk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	r := New(fp, fk, time.Second, func(budget int) int {
		calls++
		if calls == 1 {
			return 3
		}
		return 0
	}, nil)
	r.OnReadable()

	if again := r.RunPass(); !again {
		t.Fatalf("expected RunPass to report more work after a non-empty pass")
	}
}

func TestRunPassInvokesIdleHandler(t *testing.T) {
	fp := &fakePoller{}
	fk := clock.NewFake(time.Unix(0, 0))
	idleCalls := 0
	r := New(fp, fk, time.Second, func(budget int) int { return 0 }, func() { idleCalls++ })
	r.OnReadable()
	r.RunPass()
	if idleCalls != 1 {
		t.Fatalf("idle handler calls: got %d, want 1", idleCalls)
	}
}

func TestOnReadableBatchesAcks(t *testing.T) {
	fp := &fakePoller{}
	fk := clock.NewFake(time.Unix(0, 0))
	r := New(fp, fk, time.Second, func(budget int) int { return 0 }, nil)

	for i := 0; i < AckBatch-1; i++ {
		r.OnReadable()
	}
	if fp.acked != 0 {
		t.Fatalf("acked too early: %d", fp.acked)
	}
	r.OnReadable()
	if fp.acked != AckBatch {
		t.Fatalf("acked: got %d, want %d", fp.acked, AckBatch)
	}
}
