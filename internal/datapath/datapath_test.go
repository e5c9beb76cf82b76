package datapath

import (
	"testing"

	"github.com/storage-zuiwanyuan/accelio/internal/wire"
)

func TestChooseRequestMode(t *testing.T) {
	if got := ChooseRequestMode(18, 4, 32, 8192); got != ModeInlineSend {
		t.Fatalf("small request: got %v, want ModeInlineSend", got)
	}
	if got := ChooseRequestMode(18, 4, 1<<20, 8192); got != ModeRDMARead {
		t.Fatalf("large request: got %v, want ModeRDMARead", got)
	}
}

func TestChooseResponseMode(t *testing.T) {
	if got := ChooseResponseMode(0, 64, 8192); got != ModeInlineSend {
		t.Fatalf("small response: got %v, want ModeInlineSend", got)
	}
	if got := ChooseResponseMode(ResponseSmallZeroCopy, 64, 8192); got != ModeRDMARead {
		t.Fatalf("zero-copy flagged response: got %v, want ModeRDMARead", got)
	}
	if got := ChooseResponseMode(0, 1<<20, 8192); got != ModeRDMARead {
		t.Fatalf("oversized response: got %v, want ModeRDMARead", got)
	}
}

func TestSplitScatterListsEqualSegmentation(t *testing.T) {
	local := []wire.ScatterDescriptor{{Addr: 0x1000, Length: 64, Stag: 1}}
	remote := []wire.ScatterDescriptor{{Addr: 0x2000, Length: 64, Stag: 2}}

	segs, err := SplitScatterLists(local, remote)
	if err != nil {
		t.Fatalf("SplitScatterLists: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("segs: got %d, want 1", len(segs))
	}
	if PhantomsNeeded(segs) != 0 {
		t.Fatalf("expected no phantoms for equal single-element lists")
	}
}

func TestSplitScatterListsMismatchedSegmentation(t *testing.T) {
	local := []wire.ScatterDescriptor{{Addr: 0x1000, Length: 100, Stag: 1}}
	remote := []wire.ScatterDescriptor{
		{Addr: 0x2000, Length: 40, Stag: 2},
		{Addr: 0x3000, Length: 60, Stag: 2},
	}

	segs, err := SplitScatterLists(local, remote)
	if err != nil {
		t.Fatalf("SplitScatterLists: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segs: got %d, want 2", len(segs))
	}
	if segs[0].Local.Length != 40 || segs[1].Local.Length != 60 {
		t.Fatalf("unexpected split lengths: %+v", segs)
	}
	if PhantomsNeeded(segs) != 1 {
		t.Fatalf("expected 1 phantom for a 2-segment op")
	}
}

func TestSplitScatterListsLengthMismatchIsAnError(t *testing.T) {
	local := []wire.ScatterDescriptor{{Addr: 0x1000, Length: 100, Stag: 1}}
	remote := []wire.ScatterDescriptor{{Addr: 0x2000, Length: 50, Stag: 2}}

	if _, err := SplitScatterLists(local, remote); err == nil {
		t.Fatalf("expected error for mismatched total lengths")
	}
}
