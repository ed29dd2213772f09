package fiber

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// RuntimeOption configures a Runtime.
type RuntimeOption interface {
	applyRuntime(*Runtime)
}

type runtimeOptionImpl struct {
	fn func(*Runtime)
}

func (o *runtimeOptionImpl) applyRuntime(r *Runtime) { o.fn(r) }

// WithLogger attaches a structured logger to the runtime. Nil is valid and
// disables logging.
func WithLogger(l *logiface.Logger[logiface.Event]) RuntimeOption {
	return &runtimeOptionImpl{func(r *Runtime) { r.logger = l }}
}

// WithAlgorithm installs a scheduling algorithm at construction time,
// replacing the default round-robin.
func WithAlgorithm(a Algorithm) RuntimeOption {
	return &runtimeOptionImpl{func(r *Runtime) { r.algo = a }}
}

// Runtime hosts the fibers of one logical thread. The goroutine that calls
// NewRuntime becomes the main context; a dispatcher context is created
// alongside it. Exactly one context runs at a time — switching hands a baton
// from the suspending goroutine to the resumed one, so a blocking call made
// while running (e.g. a reactor wait) suspends the whole logical thread,
// never just one fiber.
type Runtime struct {
	logger *logiface.Logger[logiface.Event]

	algo       Algorithm
	main       *Context
	dispatcher *Context
	active     *Context

	remoteMu sync.Mutex
	remote   []*Context

	sleepers sleeperHeap

	idSeq    atomic.Uint64
	shutdown bool
}

// NewRuntime attaches a runtime to the calling goroutine, which becomes the
// main context. The dispatcher goroutine is started parked.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{}
	for _, o := range opts {
		if o != nil {
			o.applyRuntime(r)
		}
	}
	if r.algo == nil {
		r.algo = newRoundRobin()
	}

	main := r.newContext(Main, nil)
	main.props.name = "main"
	r.main = main
	r.active = main
	activeFibers.Store(getGoroutineID(), main)

	disp := r.newContext(Dispatcher, nil)
	disp.props.name = "dispatcher"
	r.dispatcher = disp
	go r.dispatchLoop(disp)

	return r
}

func (r *Runtime) newContext(kind Kind, entry func()) *Context {
	c := &Context{
		id:     r.idSeq.Add(1),
		kind:   kind,
		rt:     r,
		entry:  entry,
		resume: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.props.ctx = c
	return c
}

// SetAlgorithm replaces the scheduling algorithm. Must be called from the
// main context before any fiber is spawned.
func (r *Runtime) SetAlgorithm(a Algorithm) {
	r.algo = a
}

// MainContext returns the context attached to the creating goroutine.
func (r *Runtime) MainContext() *Context { return r.main }

// InThread reports whether the calling goroutine belongs to this runtime
// (main, dispatcher, or a spawned fiber).
func (r *Runtime) InThread() bool {
	c := Current()
	return c != nil && c.rt == r
}

// Spawn creates a worker fiber and makes it ready. Must be called from the
// runtime's thread.
func (r *Runtime) Spawn(name string, nice uint32, fn func()) *Context {
	if !r.InThread() {
		panic("fiber: Spawn called off the runtime's thread")
	}
	ctx := r.newContext(Worker, fn)
	ctx.props.name = name
	if nice > MaxNiceLevel {
		nice = MaxNiceLevel
	}
	ctx.props.nice = nice
	go fiberMain(ctx)
	r.makeReady(ctx)
	return ctx
}

func fiberMain(ctx *Context) {
	activeFibers.Store(getGoroutineID(), ctx)
	<-ctx.resume
	func() {
		defer func() {
			if v := recover(); v != nil {
				ctx.rt.logger.Err().
					Str(`fiber`, ctx.props.name).
					Uint64(`id`, ctx.id).
					Logf(`fiber panicked: %v`, v)
			}
		}()
		ctx.entry()
	}()
	ctx.rt.terminate(ctx)
}

// makeReady transitions ctx to runnable on the owning thread. Waking the
// running context is recorded as a pending wake so the next suspension
// returns immediately instead of losing the signal.
func (r *Runtime) makeReady(ctx *Context) {
	if ctx.terminated {
		return
	}
	if ctx == r.active {
		ctx.wakePending = true
		return
	}
	if ctx.queue != nil {
		return // already runnable
	}
	r.algo.Awakened(ctx, &ctx.props)
}

// Schedule makes ctx runnable from any goroutine. On the owning thread it
// links the context directly; from a foreign goroutine it lands on the
// remote-ready queue and the algorithm's Notify pulls the thread out of its
// wait.
func (r *Runtime) Schedule(ctx *Context) {
	if r.InThread() {
		r.Pump()
		r.makeReady(ctx)
		return
	}
	r.remoteMu.Lock()
	r.remote = append(r.remote, ctx)
	r.remoteMu.Unlock()
	r.algo.Notify()
}

// Pump moves externally scheduled fibers and expired sleepers into the
// algorithm's ready state. Runs at every scheduling point; the loop driver
// should also call it before consulting HasReadyFibers.
func (r *Runtime) Pump() {
	now := time.Now()
	for r.sleepers.Len() > 0 && !r.sleepers[0].deadline.After(now) {
		s := heap.Pop(&r.sleepers).(sleeper)
		r.makeReady(s.ctx)
	}
	r.remoteMu.Lock()
	rem := r.remote
	r.remote = nil
	r.remoteMu.Unlock()
	for _, c := range rem {
		r.makeReady(c)
	}
}

// propertyChange routes a nice-level change to the algorithm.
func (r *Runtime) propertyChange(ctx *Context) {
	r.algo.PropertyChange(ctx, &ctx.props)
}

func (r *Runtime) addSleeper(ctx *Context, deadline time.Time) {
	heap.Push(&r.sleepers, sleeper{ctx: ctx, deadline: deadline})
}

// nextWakeTime returns the earliest sleeper deadline, or the zero time when
// no wakeup is needed.
func (r *Runtime) nextWakeTime() time.Time {
	if r.sleepers.Len() > 0 {
		return r.sleepers[0].deadline
	}
	return time.Time{}
}

// yield re-enqueues the active fiber and switches to the algorithm's pick.
func (r *Runtime) yield() {
	me := r.active
	r.Pump()
	me.wakePending = false
	r.algo.Awakened(me, &me.props)
	next := r.algo.PickNext()
	if next == nil {
		// The algorithm dropped us; stay running.
		me.Unlink()
		return
	}
	if next == me {
		return
	}
	r.switchTo(me, next)
}

// suspendActive parks the active fiber until a makeReady/Schedule brings it
// back. A wake that raced the suspension is consumed instead of parking.
func (r *Runtime) suspendActive() {
	me := r.active
	r.Pump()
	if me.wakePending {
		me.wakePending = false
		return
	}
	r.switchTo(me, r.pickNextOrDispatcher())
}

func (r *Runtime) pickNextOrDispatcher() *Context {
	if next := r.algo.PickNext(); next != nil {
		return next
	}
	return r.dispatcher
}

// switchTo hands the baton from me to next and parks until me is resumed.
func (r *Runtime) switchTo(me, next *Context) {
	r.active = next
	next.resume <- struct{}{}
	<-me.resume
}

// terminate finishes the active fiber: joiners are woken, the done channel
// is closed, and the baton moves on. Runs as the last act of the fiber's
// goroutine and never returns control to the fiber.
func (r *Runtime) terminate(me *Context) {
	me.terminated = true
	r.Pump()
	for _, j := range me.joiners {
		r.makeReady(j)
	}
	me.joiners = nil
	close(me.done)
	activeFibers.Delete(getGoroutineID())
	next := r.pickNextOrDispatcher()
	r.active = next
	next.resume <- struct{}{}
}

// dispatchLoop is the dispatcher context's body. Whenever it resumes a
// picked fiber it first re-links itself, so the algorithm's dispatcher queue
// is how control finds its way back here.
func (r *Runtime) dispatchLoop(disp *Context) {
	activeFibers.Store(getGoroutineID(), disp)
	<-disp.resume
	for {
		if r.shutdown {
			break
		}
		r.Pump()
		if next := r.algo.PickNext(); next != nil {
			if next != disp {
				r.algo.Awakened(disp, &disp.props)
				r.switchTo(disp, next)
			}
			continue
		}
		r.algo.SuspendUntil(r.nextWakeTime())
	}
	activeFibers.Delete(getGoroutineID())
	r.active = r.main
	r.main.resume <- struct{}{}
}

// Shutdown stops the dispatcher and detaches the runtime from its thread.
// Must be called from the main context after all worker fibers have
// terminated; the runtime is unusable afterwards.
func (r *Runtime) Shutdown() {
	if Current() != r.main {
		panic("fiber: Shutdown called off the main context")
	}
	r.shutdown = true
	r.dispatcher.Unlink()
	r.switchTo(r.main, r.dispatcher)
	activeFibers.Delete(getGoroutineID())
}

type sleeper struct {
	ctx      *Context
	deadline time.Time
}

type sleeperHeap []sleeper

func (h sleeperHeap) Len() int           { return len(h) }
func (h sleeperHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h sleeperHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *sleeperHeap) Push(x any)        { *h = append(*h, x.(sleeper)) }
func (h *sleeperHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
