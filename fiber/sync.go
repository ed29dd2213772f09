package fiber

import "sync"

// Mutex is a fiber-level mutual exclusion lock. It must only be used by
// fibers of a single Runtime; waiting suspends the fiber cooperatively
// instead of blocking the thread.
//
// The zero value is an unlocked mutex.
type Mutex struct {
	owner   *Context
	waiters []*Context
}

// Lock acquires the mutex, suspending the calling fiber while it is held
// elsewhere.
func (m *Mutex) Lock() {
	cur := mustCurrent("Mutex.Lock")
	for m.owner != nil {
		m.waiters = append(m.waiters, cur)
		cur.rt.suspendActive()
	}
	m.owner = cur
}

// Unlock releases the mutex and wakes one waiter, if any.
func (m *Mutex) Unlock() {
	cur := mustCurrent("Mutex.Unlock")
	if m.owner != cur {
		panic("fiber: Mutex.Unlock by a fiber that does not hold the lock")
	}
	m.owner = nil
	if len(m.waiters) > 0 {
		w := m.waiters[0]
		m.waiters = m.waiters[1:]
		cur.rt.makeReady(w)
	}
}

// Cond is a fiber-level condition variable paired with a Mutex. Signal and
// Broadcast must run on the owning runtime's thread; waiters may observe
// spurious wakeups and should re-check their predicate.
//
// The zero value is ready for use.
type Cond struct {
	waiters []*Context
}

// Wait atomically releases m, suspends the calling fiber until signaled,
// then re-acquires m.
func (c *Cond) Wait(m *Mutex) {
	cur := mustCurrent("Cond.Wait")
	c.waiters = append(c.waiters, cur)
	m.Unlock()
	cur.rt.suspendActive()
	m.Lock()
}

// Signal wakes one waiting fiber, if any.
func (c *Cond) Signal() {
	if len(c.waiters) == 0 {
		return
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	w.rt.makeReady(w)
}

// Broadcast wakes every waiting fiber.
func (c *Cond) Broadcast() {
	ws := c.waiters
	c.waiters = nil
	for _, w := range ws {
		w.rt.makeReady(w)
	}
}

// BlockingCounter is a latch: Wait blocks until Dec has been called the
// configured number of times. Dec never blocks. Wait suspends cooperatively
// when called from a fiber and blocks the goroutine otherwise, so the latch
// can bridge fibers and plain goroutines in either direction.
type BlockingCounter struct {
	mu      sync.Mutex
	n       int64
	closed  bool
	done    chan struct{}
	waiters []*Context
}

// NewBlockingCounter creates a latch that opens after n calls to Dec.
// n <= 0 creates an already-open latch.
func NewBlockingCounter(n int64) *BlockingCounter {
	b := &BlockingCounter{n: n, done: make(chan struct{})}
	if n <= 0 {
		b.closed = true
		close(b.done)
	}
	return b
}

// Dec decrements the counter, releasing all waiters when it reaches zero.
// Safe to call from any goroutine or fiber; never blocks.
func (b *BlockingCounter) Dec() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.n--
	if b.n > 0 {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ws := b.waiters
	b.waiters = nil
	close(b.done)
	b.mu.Unlock()
	for _, w := range ws {
		w.rt.Schedule(w)
	}
}

// Wait blocks until the counter reaches zero.
func (b *BlockingCounter) Wait() {
	cur := Current()
	if cur == nil {
		<-b.done
		return
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.waiters = append(b.waiters, cur)
		b.mu.Unlock()
		cur.rt.suspendActive()
	}
}

// Done is a one-shot event.
type Done struct {
	bc *BlockingCounter
}

// NewDone creates an unsignaled event.
func NewDone() *Done {
	return &Done{bc: NewBlockingCounter(1)}
}

// Notify signals the event. Subsequent calls are no-ops.
func (d *Done) Notify() { d.bc.Dec() }

// Wait blocks until the event has been signaled.
func (d *Done) Wait() { d.bc.Wait() }

// EventCount lets a fiber wait for a condition maintained elsewhere, with
// notifications allowed from any goroutine. The usual shape:
//
//	ec.Await(func() bool { return val.Load() > 0 })
//
// with the producer updating state before calling Notify.
type EventCount struct {
	mu      sync.Mutex
	waiters []*Context
}

// Notify wakes every fiber currently blocked in Await so it can re-check
// its condition. Safe to call from any goroutine.
func (e *EventCount) Notify() {
	e.mu.Lock()
	ws := e.waiters
	e.waiters = nil
	e.mu.Unlock()
	for _, w := range ws {
		w.rt.Schedule(w)
	}
}

// Await suspends the calling fiber until cond returns true. cond is
// evaluated on the fiber and must not itself suspend.
func (e *EventCount) Await(cond func() bool) {
	cur := mustCurrent("EventCount.Await")
	for {
		e.mu.Lock()
		e.waiters = append(e.waiters, cur)
		e.mu.Unlock()
		if cond() {
			e.remove(cur)
			return
		}
		cur.rt.suspendActive()
		e.remove(cur)
	}
}

func (e *EventCount) remove(c *Context) {
	e.mu.Lock()
	for i, w := range e.waiters {
		if w == c {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}
