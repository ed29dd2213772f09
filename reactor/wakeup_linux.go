//go:build linux

package reactor

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// eventfdWaker wakes a blocked consumer through an eventfd. The consumer
// parks in unix.Poll on the read side; producers bump the counter.
type eventfdWaker struct {
	fd  int
	buf [8]byte
}

func newWaker() (waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventfdWaker{fd: fd}, nil
}

func (w *eventfdWaker) signal() {
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, _ = unix.Write(w.fd, buf)
}

// wait blocks until the eventfd is signaled or d elapses. d < 0 blocks
// without a deadline. Spurious returns (EINTR) are fine; callers re-check
// their queues in a loop.
func (w *eventfdWaker) wait(d time.Duration) {
	ms := -1
	if d >= 0 {
		ms = int(d.Milliseconds())
		if ms == 0 && d > 0 {
			ms = 1
		}
	}
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil || n <= 0 {
		return
	}
	for {
		if _, err := unix.Read(w.fd, w.buf[:]); err != nil {
			break
		}
	}
}

func (w *eventfdWaker) close() error {
	return unix.Close(w.fd)
}
