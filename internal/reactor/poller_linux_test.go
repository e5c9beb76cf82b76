//go:build linux

package reactor

import (
	"os"
	"testing"
	"time"
)

func TestFDWaiterTimesOutWhenIdle(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	fw, err := NewFDWaiter(int(r.Fd()))
	if err != nil {
		t.Fatalf("NewFDWaiter: %v", err)
	}
	defer fw.Close()

	readable, err := fw.Wait(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if readable {
		t.Fatalf("Wait reported readable on an idle pipe")
	}
}

func TestFDWaiterReportsReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	fw, err := NewFDWaiter(int(r.Fd()))
	if err != nil {
		t.Fatalf("NewFDWaiter: %v", err)
	}
	defer fw.Close()

	if _, err := w.Write([]byte{1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	readable, err := fw.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !readable {
		t.Fatalf("Wait did not report the pipe as readable")
	}
}
