package fiber

import (
	"runtime"
	"sync"
	"time"
)

// Kind discriminates the three context roles of a Runtime.
type Kind uint8

const (
	// Worker is a user fiber created by Spawn.
	Worker Kind = iota
	// Main is the context of the goroutine that created the Runtime.
	Main
	// Dispatcher is the runtime-owned context that idles the thread when no
	// worker is runnable.
	Dispatcher
)

func (k Kind) String() string {
	switch k {
	case Worker:
		return "worker"
	case Main:
		return "main"
	case Dispatcher:
		return "dispatcher"
	default:
		return "unknown"
	}
}

// Context is a first-class suspendable execution unit: a goroutine gated by
// the runtime's baton. Exactly one context of a Runtime runs at a time;
// everything else is parked on its resume channel or linked into a ready
// queue waiting to be picked.
type Context struct {
	id    uint64
	kind  Kind
	rt    *Runtime
	entry func()

	resume chan struct{}
	done   chan struct{}

	props Properties

	// Intrusive ready-queue linkage, owned by the installed Algorithm.
	next, prev *Context
	queue      *ReadyQueue

	joiners     []*Context
	wakePending bool
	terminated  bool
}

// ID returns the context's runtime-unique identity.
func (c *Context) ID() uint64 { return c.id }

// Kind returns the context's role.
func (c *Context) Kind() Kind { return c.kind }

// IsDispatcher reports whether this is the runtime's dispatcher context.
func (c *Context) IsDispatcher() bool { return c.kind == Dispatcher }

// Properties returns the scheduling properties attached to the context.
func (c *Context) Properties() *Properties { return &c.props }

// Runtime returns the owning runtime.
func (c *Context) Runtime() *Runtime { return c.rt }

// Terminated reports whether the context's entry function has returned.
// Meaningful only from the owning runtime's thread; foreign goroutines
// should use Join.
func (c *Context) Terminated() bool { return c.terminated }

// Join blocks until the context terminates. From a fiber of the same
// runtime it suspends cooperatively; from any other goroutine it blocks on
// the context's done channel.
func (c *Context) Join() {
	cur := Current()
	if cur == nil || cur.rt != c.rt {
		<-c.done
		return
	}
	if cur == c {
		panic("fiber: context joining itself")
	}
	for !c.terminated {
		c.joiners = append(c.joiners, cur)
		c.rt.suspendActive()
	}
}

// activeFibers maps goroutine id to the context registered for it, covering
// every goroutine a Runtime owns: main, dispatcher, and spawned workers.
var activeFibers sync.Map // uint64 -> *Context

// Current returns the fiber context registered for the calling goroutine, or
// nil when the caller is not part of any runtime.
func Current() *Context {
	if v, ok := activeFibers.Load(getGoroutineID()); ok {
		return v.(*Context)
	}
	return nil
}

func mustCurrent(what string) *Context {
	c := Current()
	if c == nil {
		panic("fiber: " + what + " called outside a fiber runtime")
	}
	return c
}

// Yield re-enqueues the calling fiber and lets the scheduler pick the next
// one. Outside a runtime it degrades to runtime.Gosched.
func Yield() {
	if c := Current(); c != nil {
		c.rt.yield()
		return
	}
	runtime.Gosched()
}

// Sleep suspends the calling fiber for at least d. Outside a runtime it
// degrades to time.Sleep.
func Sleep(d time.Duration) {
	c := Current()
	if c == nil {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		c.rt.addSleeper(c, deadline)
		c.rt.suspendActive()
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
