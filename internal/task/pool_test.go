package task

import "testing"

func TestPoolAcquireExhaustion(t *testing.T) {
	p := NewPool(2, 256, 32)

	a, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	b, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}

	if _, err := p.Acquire(); err != ErrPoolExhausted {
		t.Fatalf("Acquire 3: got %v, want ErrPoolExhausted", err)
	}

	p.Put(a)
	if p.Available() != 1 {
		t.Fatalf("Available after Put: got %d, want 1", p.Available())
	}

	c, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire after Put: %v", err)
	}
	_ = b
	_ = c
}

func TestTaskResetClearsState(t *testing.T) {
	tk := NewTask(256, 32)
	tk.State = StateCancelPending
	tk.SN = 99
	tk.Ref()
	tk.SetData([]byte("payload"))

	tk.Reset()

	if tk.State != StateInit || tk.SN != 0 || tk.Refs() != 0 || len(tk.DataBytes()) != 0 {
		t.Fatalf("Reset did not clear task state: %+v", tk)
	}
}

func TestAllocatePhantomsStampsDescendingIndex(t *testing.T) {
	p := NewPool(4, 256, 32)

	phantoms, err := p.AllocatePhantoms(3, OpRDMARead)
	if err != nil {
		t.Fatalf("AllocatePhantoms: %v", err)
	}
	want := []int{2, 1, 0}
	for i, ph := range phantoms {
		if ph.PhantomRemaining != want[i] {
			t.Fatalf("phantom %d: got PhantomRemaining=%d, want %d", i, ph.PhantomRemaining, want[i])
		}
		if ph.Kind != KindPhantom {
			t.Fatalf("phantom %d: got Kind=%v, want KindPhantom", i, ph.Kind)
		}
	}
}

func TestAllocatePhantomsRollsBackOnExhaustion(t *testing.T) {
	p := NewPool(2, 256, 32)

	if _, err := p.AllocatePhantoms(3, OpRDMARead); err != ErrPoolExhausted {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
	if p.Available() != 2 {
		t.Fatalf("Available after rollback: got %d, want 2", p.Available())
	}
}
