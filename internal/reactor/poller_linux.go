//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// FDWaiter blocks the caller's own goroutine until a single registered
// completion-channel file descriptor becomes readable, using epoll
// (spec.md §4.2 "Armed" bullet: "blocks until the completion channel's fd
// becomes readable"). It is the one concrete platform poller behind the
// armed/polling hysteresis that Reactor itself models abstractly, grounded
// on `_examples/joeycumines-go-utilpkg/eventloop/poller_linux.go`'s
// armed-vs-polling epoll wrapper (enriching a concern the teacher never
// needed: the teacher polls a kernel char device, not a CQ notification
// fd).
//
// FDWaiter watches exactly one fd, unlike the sibling example's multi-fd
// registry: a Connection owns exactly one completion queue, so there is
// never more than one fd to arm (spec.md §5's single-execution-context
// model). It is not safe for concurrent use, matching every other core
// component.
type FDWaiter struct {
	epfd int
	fd   int
}

// NewFDWaiter creates an epoll instance watching fd for readability. fd is
// typically the notification channel a real Verbs binding exposes once a
// CQ is armed (spec.md §6 "arm_notify").
func NewFDWaiter(fd int) (*FDWaiter, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return &FDWaiter{epfd: epfd, fd: fd}, nil
}

// Wait blocks until the watched fd is readable or timeout elapses,
// reporting whether it became readable. A negative timeout blocks
// indefinitely, mirroring the "Armed" mode's "blocks until readable"
// description (spec.md §4.2); callers in "Polling" mode instead pass a
// short timeout so the reactor's pollingTimeout budget stays responsive.
func (w *FDWaiter) Wait(timeout time.Duration) (readable bool, err error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(w.epfd, events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// Close releases the epoll instance. It does not close the watched fd,
// which the caller owns.
func (w *FDWaiter) Close() error {
	return unix.Close(w.epfd)
}
