package ioctx

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/blockspacer/gaia/fiber"
	"github.com/blockspacer/gaia/reactor"
)

const (
	// MainNiceLevel is the priority of the I/O loop fiber: the highest, so
	// reactor handlers never wait behind lower-priority user work once the
	// loop is ready. Workers at this same level share its FIFO queue.
	MainNiceLevel = 0

	// mainSwitchLimit bounds back-to-back worker resumptions while the loop
	// fiber is parked; past it the loop is re-admitted to poll the reactor.
	mainSwitchLimit = 4
)

const (
	// loopRunOne: the loop fiber is blocked inside Reactor.RunOne.
	loopRunOne uint8 = 1 << iota
	// loopSuspend: the loop fiber has parked waiting for the ready set to
	// drain.
	loopSuspend
)

// scheduler implements fiber.Algorithm with per-nice-level FIFO queues plus
// a dedicated dispatcher queue at the lowest effective priority. It
// cooperates with the reactor through the suspend timer so that neither the
// fiber population nor the I/O loop can starve the other.
type scheduler struct {
	logger *logiface.Logger[logiface.Event]
	r      *reactor.Reactor

	// One queue per nice level; the last slot is reserved for the
	// dispatcher context so worker-only accounting never sees it.
	rqueues [fiber.NumNiceLevels + 1]fiber.ReadyQueue

	// Cached hint: the highest-priority level that may have work. Advanced
	// past empty buckets by pickNext, pulled back by awakened.
	lastNiceLevel uint32

	readyCnt  int
	switchCnt int
	mask      uint8

	// strictFairness gates the loop kick on the resumed fiber sitting
	// strictly below MainNiceLevel with more work still queued.
	strictFairness bool

	// suspendTimer coaxes the reactor out of a blocking wait when fiber
	// work becomes available. Swapped to nil when the main loop exits;
	// Notify after that is a no-op.
	suspendTimer atomic.Pointer[reactor.Timer]

	wakeMu   fiber.Mutex
	wakeCond fiber.Cond

	mainResumes uint64
}

func newScheduler(r *reactor.Reactor, logger *logiface.Logger[logiface.Event], strictFairness bool) *scheduler {
	s := &scheduler{
		logger:         logger,
		r:              r,
		strictFairness: strictFairness,
	}
	s.suspendTimer.Store(r.NewTimer())
	return s
}

// Awakened links a runnable context into the queue matching its nice level;
// the dispatcher goes to its own queue and is excluded from readyCnt.
func (s *scheduler) Awakened(ctx *fiber.Context, props *fiber.Properties) {
	if ctx.ReadyIsLinked() {
		panic("ioctx: Awakened on a context already linked into a ready queue")
	}
	if ctx.IsDispatcher() {
		s.rqueues[fiber.MaxNiceLevel+1].PushBack(ctx)
		return
	}
	nice := props.NiceLevel()
	if nice > fiber.MaxNiceLevel {
		nice = fiber.MaxNiceLevel
	}
	s.rqueues[nice].PushBack(ctx)
	s.readyCnt++
	if s.lastNiceLevel > nice {
		s.lastNiceLevel = nice
	}
}

// PickNext pops the highest-priority ready worker, FIFO within a level. If
// the loop fiber is parked, resumptions are counted and the loop is kicked
// awake once the budget is exhausted. With no worker ready the dispatcher
// queue is consulted; nil means the thread should idle via SuspendUntil.
func (s *scheduler) PickNext() *fiber.Context {
	for ; s.lastNiceLevel < fiber.NumNiceLevels; s.lastNiceLevel++ {
		q := &s.rqueues[s.lastNiceLevel]
		if q.Empty() {
			continue
		}
		ctx := q.PopFront()
		s.readyCnt--
		if s.mask&loopSuspend != 0 {
			count := true
			if s.strictFairness {
				count = s.lastNiceLevel > MainNiceLevel && s.readyCnt > 1
			}
			if count {
				s.switchCnt++
				if s.switchCnt > mainSwitchLimit {
					s.mainResumes++
					s.wakeCond.Signal()
				}
			}
		}
		return ctx
	}

	dq := &s.rqueues[fiber.MaxNiceLevel+1]
	if !dq.Empty() {
		return dq.PopFront()
	}
	return nil
}

// PropertyChange re-buckets a queued context after its nice level changed.
// An unlinked context (e.g. the running fiber) needs nothing: the next
// Awakened files it correctly.
func (s *scheduler) PropertyChange(ctx *fiber.Context, props *fiber.Properties) {
	if !ctx.ReadyIsLinked() {
		return
	}
	ctx.Unlink()
	if !ctx.IsDispatcher() {
		s.readyCnt--
	}
	s.Awakened(ctx, props)
}

// HasReadyFibers reports whether any worker (non-dispatcher) fiber is ready.
func (s *scheduler) HasReadyFibers() bool { return s.readyCnt > 0 }

// SuspendUntil idles the thread when no fiber is runnable. Only the
// dispatcher may call it. Arming the suspend timer guarantees RunOne
// eventually returns; the dedup against the current expiry avoids the
// rearm/abort spin when the dispatcher repeatedly asks for the same wake
// time. Finally the loop fiber is signaled so it can drive the reactor
// again.
func (s *scheduler) SuspendUntil(deadline time.Time) {
	if cur := fiber.Current(); cur == nil || !cur.IsDispatcher() {
		panic("ioctx: SuspendUntil called off the dispatcher fiber")
	}
	if !deadline.IsZero() {
		if t := s.suspendTimer.Load(); t != nil && !deadline.Equal(t.Expiry()) {
			t.ExpiresAt(deadline)
			t.AsyncWait(func(error) { fiber.Yield() })
		}
	}
	if s.mask&loopRunOne != 0 {
		panic("ioctx: deadlock detected: loop fiber blocked in RunOne with no runnable fiber")
	}
	s.wakeCond.Signal()
}

// Notify pulls the reactor out of a potentially long wait because fiber
// work arrived from another thread. The timer is reset rather than
// canceled: cancel alone keeps the old expiry, which would collide with the
// dedup check in SuspendUntil. The cost is one spurious pass through the
// loop (aborted wait plus immediate expiry).
func (s *scheduler) Notify() {
	t := s.suspendTimer.Load()
	if t == nil {
		s.logger.Debug().Log(`notify ignored, loop already shut down`)
		return
	}
	t.AsyncWait(func(error) { fiber.Yield() })
	t.ExpiresAt(time.Now())
}

// mainLoop is the body of the loop fiber. While workers are ready it drains
// the reactor without blocking and parks until the ready set is exhausted
// (or the fairness budget forces it awake); otherwise it blocks in RunOne,
// which is where the thread sleeps on the kernel.
func (s *scheduler) mainLoop(rt *fiber.Runtime) {
	for !s.r.Stopped() {
		rt.Pump()
		if s.HasReadyFibers() {
			for s.r.Poll() > 0 {
			}
			s.waitTillFibersSuspend()
		} else {
			s.mask |= loopRunOne
			if !s.r.RunOne() {
				s.mask &^= loopRunOne
				break
			}
			s.mask &^= loopRunOne
		}
	}

	s.logger.Debug().
		Uint64(`main_resumes`, s.mainResumes).
		Log(`io loop exited`)

	// Break the timer registration before returning so late Notify calls
	// during teardown become no-ops.
	if t := s.suspendTimer.Swap(nil); t != nil {
		t.Cancel()
	}
}

// waitTillFibersSuspend parks the loop fiber until the dispatcher reports
// the ready set drained, or pickNext forces fairness after mainSwitchLimit
// resumptions.
func (s *scheduler) waitTillFibersSuspend() {
	s.mask |= loopSuspend
	s.switchCnt = 0
	s.wakeMu.Lock()
	s.wakeCond.Wait(&s.wakeMu)
	s.mask &^= loopSuspend
	s.wakeMu.Unlock()
}
