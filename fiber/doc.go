// Package fiber implements cooperatively scheduled user-space execution
// contexts multiplexed on one logical thread, with a pluggable scheduling
// algorithm.
//
// # Model
//
// A [Runtime] attaches to the goroutine that creates it (the main context)
// and owns a dispatcher context plus any number of spawned worker fibers.
// Fibers are goroutines gated by a baton: exactly one context of a runtime
// executes at a time, and control moves only at explicit suspension points —
// [Yield], [Sleep], the fiber-level [Mutex]/[Cond]/[BlockingCounter]
// primitives, [Context.Join], and fiber termination. A blocking call made
// while running therefore suspends the whole logical thread, which is what
// lets an event-loop driver block in its reactor on the main context while
// every fiber is parked.
//
// # Scheduling
//
// Which fiber runs next is delegated to an [Algorithm]. The runtime provides
// the mechanics: intrusive ready-queue linkage on [Context], a remote-ready
// queue so foreign goroutines can wake fibers through [Runtime.Schedule]
// (paired with the algorithm's Notify), a sleeper queue backing [Sleep], and
// the dispatcher context that invokes the algorithm's SuspendUntil when
// nothing is runnable. The built-in default is a plain FIFO round-robin that
// parks the OS thread on a channel.
package fiber
