package fiber

import "time"

// Algorithm is the pluggable scheduling contract a Runtime delegates to.
// All methods except Notify are invoked only on the runtime's thread.
type Algorithm interface {
	// Awakened links a runnable context into the algorithm's ready state.
	// The context is guaranteed not to be linked anywhere.
	Awakened(ctx *Context, props *Properties)

	// PickNext unlinks and returns the context to resume, or nil when
	// nothing is runnable.
	PickNext() *Context

	// PropertyChange is invoked after a fiber's properties changed, so a
	// queued context can be re-bucketed. The context may be unlinked (e.g.
	// it is the running fiber), in which case nothing needs to move.
	PropertyChange(ctx *Context, props *Properties)

	// HasReadyFibers reports whether any worker context is queued.
	HasReadyFibers() bool

	// SuspendUntil idles the thread when nothing is runnable. Called only
	// from the dispatcher context. deadline is the earliest wakeup the
	// runtime needs; the zero time means no wakeup is scheduled.
	SuspendUntil(deadline time.Time)

	// Notify pulls the thread out of a (potential) SuspendUntil wait. The
	// only method that must be safe to call from any goroutine.
	Notify()
}

// roundRobin is the default algorithm: a single FIFO, with SuspendUntil
// parking the OS thread on a channel. It keeps a Runtime usable without an
// externally installed scheduler.
type roundRobin struct {
	rq        ReadyQueue
	workerCnt int
	wake      chan struct{}
}

func newRoundRobin() *roundRobin {
	return &roundRobin{wake: make(chan struct{}, 1)}
}

func (a *roundRobin) Awakened(ctx *Context, props *Properties) {
	a.rq.PushBack(ctx)
	if !ctx.IsDispatcher() {
		a.workerCnt++
	}
}

func (a *roundRobin) PickNext() *Context {
	ctx := a.rq.PopFront()
	if ctx != nil && !ctx.IsDispatcher() {
		a.workerCnt--
	}
	return ctx
}

func (a *roundRobin) PropertyChange(ctx *Context, props *Properties) {}

func (a *roundRobin) HasReadyFibers() bool { return a.workerCnt > 0 }

func (a *roundRobin) SuspendUntil(deadline time.Time) {
	if deadline.IsZero() {
		<-a.wake
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-a.wake:
	case <-t.C:
	}
}

func (a *roundRobin) Notify() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}
