// Package ioctx glues the fiber runtime to the reactor: each [IoContext]
// pins one reactor and one priority scheduler to a single goroutine, so I/O
// completions, timers, and fiber work interleave on that goroutine without
// ever blocking it unnecessarily.
//
// # Scheduling
//
// Worker fibers carry a nice level in [0, fiber.MaxNiceLevel]; lower runs
// first, FIFO within a level. The loop fiber itself runs at [MainNiceLevel]
// (the highest) and alternates between draining the reactor and parking
// while workers run. Two liveness rules keep the system balanced:
//
//   - While the loop fiber is parked, at most mainSwitchLimit worker
//     resumptions happen before it is forcibly re-admitted to poll the
//     reactor, so a busy fiber population cannot starve I/O.
//   - When nothing is runnable, the dispatcher arms the suspend timer and
//     wakes the loop fiber, which then blocks the thread inside the
//     reactor until a handler or the timer fires, so an idle thread truly
//     sleeps.
//
// Cross-thread wakeups (fiber.Runtime.Schedule from a foreign goroutine)
// reset the suspend timer to fire immediately, bounding the latency until
// the loop notices.
//
// # Lifecycle
//
// [IoContextPool.Run] starts the loops and waits for them to come up;
// [IoContextPool.Stop] cancels attached [Cancellable] instances in
// parallel, joins them, and shuts the loops down. Both IoContext.Stop and
// the pool's Stop are idempotent.
package ioctx
