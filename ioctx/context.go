package ioctx

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"

	"github.com/blockspacer/gaia/fiber"
	"github.com/blockspacer/gaia/reactor"
)

// Cancellable is a long-lived object attached to an IoContext for graceful
// shutdown: Run executes on its own fiber for the lifetime of the context,
// and Cancel (called during Stop, also on a fiber) must make Run return.
type Cancellable interface {
	Run()
	Cancel()
}

type attachedCancellable struct {
	c  Cancellable
	fb *fiber.Context
}

// IoContext pins one reactor and one fiber scheduler to a single goroutine
// and drives them as a unit: reactor handlers, timers, and fibers all share
// that goroutine without blocking each other.
//
// Construction only allocates; the owning goroutine calls StartLoop (usually
// via IoContextPool) and everything else talks to the context through the
// thread-safe Async/Await/LaunchFiber surface.
type IoContext struct {
	logger *logiface.Logger[logiface.Event]

	r     *reactor.Reactor
	sched *scheduler
	rtp   atomic.Pointer[fiber.Runtime]

	strictFairness bool

	mu           sync.Mutex
	cancellables []attachedCancellable

	closeOnce sync.Once
}

// New creates an IoContext and its reactor.
func New(opts ...Option) (*IoContext, error) {
	cfg := resolveOptions(opts)
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	r.Logger = cfg.logger
	return &IoContext{
		logger:         cfg.logger,
		r:              r,
		strictFairness: cfg.strictFairness,
	}, nil
}

// Reactor exposes the context's reactor, primarily so collaborators can
// post raw handlers or arm timers of their own.
func (c *IoContext) Reactor() *reactor.Reactor { return c.r }

func (c *IoContext) runtime() *fiber.Runtime { return c.rtp.Load() }

// StartLoop turns the calling goroutine into the context's loop thread and
// blocks until the loop has fully shut down. started (may be nil) is
// decremented once the loop fiber is running, signaling readiness to the
// creator.
//
// The loop body runs inside a posted reactor handler rather than directly.
// The reactor keeps no record of which goroutine drives it; InContextThread
// compares goroutine identities through the fiber runtime instead.
func (c *IoContext) StartLoop(started *fiber.BlockingCounter) {
	rt := fiber.NewRuntime(fiber.WithLogger(c.logger))
	s := newScheduler(c.r, c.logger, c.strictFairness)
	rt.SetAlgorithm(s)
	c.sched = s
	c.rtp.Store(rt)

	props := rt.MainContext().Properties()
	props.SetName("io_loop")
	props.SetNiceLevel(MainNiceLevel)

	c.r.Post(func() {
		if started != nil {
			started.Dec()
		}
		s.mainLoop(rt)
	})

	// Bootstrap: blocks here until mainLoop exits.
	c.r.RunOne()

	// Two drain passes: a completing fiber may enqueue one last round of
	// handlers.
	for i := 0; i < 2; i++ {
		for c.r.Poll() > 0 || s.HasReadyFibers() {
			fiber.Yield()
		}
		c.r.Restart()
	}

	rt.Shutdown()
}

// Async posts fn to run as a plain reactor handler on the context's
// goroutine. fn must not suspend; use AsyncFiber for work that might.
func (c *IoContext) Async(fn func()) {
	c.r.Post(fn)
}

// AsyncFiber posts fn to run as a new worker fiber on the context's
// goroutine.
func (c *IoContext) AsyncFiber(fn func()) {
	c.r.Post(func() {
		c.runtime().Spawn("async", fiber.DefaultNiceLevel, fn)
	})
}

// Await runs fn on the context's goroutine and blocks the caller until it
// completes. Called from the context's own thread it runs fn inline.
// fn runs in handler context and must not suspend; see AwaitSafe.
func (c *IoContext) Await(fn func()) {
	if c.InContextThread() {
		fn()
		return
	}
	d := fiber.NewDone()
	c.r.Post(func() {
		fn()
		d.Notify()
	})
	d.Wait()
}

// AwaitSafe runs fn on a worker fiber of the context and blocks the caller
// until it completes. Unlike Await, fn may suspend (sleep, join, wait).
func (c *IoContext) AwaitSafe(fn func()) {
	if c.InContextThread() {
		fn()
		return
	}
	d := fiber.NewDone()
	c.AsyncFiber(func() {
		fn()
		d.Notify()
	})
	d.Wait()
}

// AwaitValue runs fn via Await and returns its result.
func AwaitValue[T any](c *IoContext, fn func() T) T {
	var v T
	c.Await(func() { v = fn() })
	return v
}

// AwaitSafeValue runs fn via AwaitSafe and returns its result.
func AwaitSafeValue[T any](c *IoContext, fn func() T) T {
	var v T
	c.AwaitSafe(func() { v = fn() })
	return v
}

// LaunchFiber spawns a worker fiber at the default nice level and returns a
// joinable handle. Safe to call from any goroutine.
func (c *IoContext) LaunchFiber(name string, fn func()) *fiber.Context {
	return c.LaunchFiberNice(name, fiber.DefaultNiceLevel, fn)
}

// LaunchFiberNice spawns a worker fiber at the given nice level.
func (c *IoContext) LaunchFiberNice(name string, nice uint32, fn func()) *fiber.Context {
	if c.InContextThread() {
		return c.runtime().Spawn(name, nice, fn)
	}
	var fb *fiber.Context
	c.Await(func() {
		fb = c.runtime().Spawn(name, nice, fn)
	})
	return fb
}

// AttachCancellable launches a fiber running cl.Run and registers cl for
// graceful shutdown: Stop calls Cancel on a fiber and joins Run.
func (c *IoContext) AttachCancellable(cl Cancellable) {
	fb := c.LaunchFiber("cancellable", func() { cl.Run() })
	c.mu.Lock()
	c.cancellables = append(c.cancellables, attachedCancellable{c: cl, fb: fb})
	c.mu.Unlock()
}

// Stop cancels every attached cancellable (in parallel, each on its own
// fiber), joins their Run fibers, then stops the reactor so the loop exits.
// Idempotent: a second call finds no cancellables and the reactor already
// stopped.
func (c *IoContext) Stop() {
	c.mu.Lock()
	atts := c.cancellables
	c.cancellables = nil
	c.mu.Unlock()

	if len(atts) > 0 {
		c.logger.Debug().
			Int(`cancellables`, len(atts)).
			Log(`cancelling attached cancellables`)
		bc := fiber.NewBlockingCounter(int64(len(atts)))
		for _, a := range atts {
			c.AsyncFiber(func() {
				a.c.Cancel()
				bc.Dec()
			})
		}
		bc.Wait()
		for _, a := range atts {
			a.fb.Join()
		}
	}

	c.r.Stop()
}

// InContextThread reports whether the calling goroutine belongs to this
// context: the loop goroutine or any of its fibers. Identity is compared
// through the fiber runtime's goroutine registry, never through reactor
// state.
func (c *IoContext) InContextThread() bool {
	rt := c.runtime()
	return rt != nil && rt.InThread()
}

// Close releases the reactor's resources. Call only after StartLoop has
// returned. Idempotent.
func (c *IoContext) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.r.Close()
	})
	return err
}
