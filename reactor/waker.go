package reactor

import "time"

// waker pulls the consumer goroutine out of a blocking wait. signal may be
// called from any goroutine; wait and close only from the consumer.
type waker interface {
	signal()
	// wait blocks until signaled or until d elapses; d < 0 means no
	// deadline. Spurious wakeups are permitted.
	wait(d time.Duration)
	close() error
}
