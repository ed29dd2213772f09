package reactor

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrAborted is delivered to a timer handler whose wait was canceled,
	// either explicitly or by rescheduling the timer's expiry.
	ErrAborted = errors.New("reactor: timer wait aborted")
)

// Handler is a unit of work executed by the owning goroutine of a Reactor.
type Handler func()

// Reactor is a single-consumer event loop. Post, Stop, Stopped, and the Timer
// methods are safe to call from any goroutine; Poll, RunOne, and Restart are
// meant to be driven by the goroutine that owns the loop.
type Reactor struct {
	// Logger receives debug-level diagnostics. Nil disables logging.
	Logger *logiface.Logger[logiface.Event]

	mu     sync.Mutex
	posted *queue.Queue // FIFO of Handler
	waits  waitHeap     // pending timer waits ordered by deadline

	stopped atomic.Bool

	wk          waker
	wakePending atomic.Uint32

	closeOnce sync.Once
}

// New creates a Reactor. The returned Reactor must be released with Close
// once no goroutine uses it anymore.
func New() (*Reactor, error) {
	wk, err := newWaker()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		posted: queue.New(),
		wk:     wk,
	}, nil
}

// Post enqueues h to run on the owning goroutine, waking it if it is blocked
// inside RunOne. Safe to call from any goroutine, including from handlers.
func (r *Reactor) Post(h Handler) {
	r.mu.Lock()
	r.posted.Add(h)
	r.mu.Unlock()
	r.wake()
}

// wake signals the waker unless a signal is already pending. The consumer
// resets wakePending before deciding to block, so a post that loses the CAS
// is still observed.
func (r *Reactor) wake() {
	if r.wakePending.CompareAndSwap(0, 1) {
		r.wk.signal()
	}
}

// Poll runs every handler that is immediately runnable (posted work plus
// expired timer waits) and returns the number of handlers run. It never
// blocks, and returns 0 while the reactor is stopped.
func (r *Reactor) Poll() int {
	n := 0
	for {
		if r.stopped.Load() {
			return n
		}
		r.mu.Lock()
		h := r.popRunnable(time.Now())
		r.mu.Unlock()
		if h == nil {
			return n
		}
		h()
		n++
	}
}

// RunOne blocks until a single handler has run, then returns true. It
// returns false once the reactor has been stopped. Nested calls from within
// a handler are permitted.
func (r *Reactor) RunOne() bool {
	armed := false
	for {
		if r.stopped.Load() {
			return false
		}
		r.mu.Lock()
		h := r.popRunnable(time.Now())
		wait := time.Duration(-1)
		if h == nil && r.waits.Len() > 0 {
			if wait = time.Until(r.waits[0].deadline); wait < 0 {
				wait = 0
			}
		}
		r.mu.Unlock()
		if h != nil {
			h()
			return true
		}
		if !armed {
			// Reset the wake flag, then look again: a Post that raced the
			// first pop is either visible now or will signal the waker.
			r.wakePending.Store(0)
			armed = true
			continue
		}
		r.wk.wait(wait)
		armed = false
	}
}

// popRunnable returns the next immediately runnable handler, or nil.
// Callers must hold r.mu. Dead (canceled or fired) waits are pruned from the
// top of the heap as a side effect, so r.waits[0] is live afterwards.
func (r *Reactor) popRunnable(now time.Time) Handler {
	for r.waits.Len() > 0 && r.waits[0].state != waitPending {
		heap.Pop(&r.waits)
	}
	if r.posted.Length() > 0 {
		return r.posted.Remove().(Handler)
	}
	if r.waits.Len() > 0 && !r.waits[0].deadline.After(now) {
		w := heap.Pop(&r.waits).(*timerWait)
		w.state = waitFired
		return func() { w.fn(nil) }
	}
	return nil
}

// Stop makes Poll and RunOne return without running handlers. Queued work is
// retained and runs after Restart. Safe to call from any goroutine and
// idempotent.
func (r *Reactor) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		r.Logger.Debug().Log(`reactor stopped`)
	}
	// Unconditional: a blocked RunOne must observe the stop even when a
	// stale wakePending flag would suppress the dedup path.
	r.wk.signal()
}

// Restart clears the stopped state so the loop can be driven again.
func (r *Reactor) Restart() {
	r.stopped.Store(false)
}

// Stopped reports whether Stop has been called without a matching Restart.
func (r *Reactor) Stopped() bool {
	return r.stopped.Load()
}

// Close releases the waker resources. The reactor must not be used after
// Close. Idempotent.
func (r *Reactor) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.wk.close()
	})
	return err
}
