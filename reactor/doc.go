// Package reactor provides a single-consumer event loop: a thread-safe post
// queue, one-shot timers with abort semantics, and blocking/non-blocking
// dispatch of queued handlers.
//
// One goroutine owns the loop and drives it through [Reactor.Poll] and
// [Reactor.RunOne]; any goroutine may enqueue work with [Reactor.Post] or arm
// a [Timer]. A cross-thread waker (eventfd on Linux, a channel elsewhere)
// pulls the owning goroutine out of a blocking wait when work arrives.
//
// The loop follows stop/restart semantics: after [Reactor.Stop], Poll and
// RunOne return without running handlers until [Reactor.Restart] is called.
// Queued handlers survive a stop and run after the restart.
package reactor
