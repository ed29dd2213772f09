package fiber

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsFIFO(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var order []string
	a := rt.Spawn("a", DefaultNiceLevel, func() { order = append(order, "a") })
	b := rt.Spawn("b", DefaultNiceLevel, func() { order = append(order, "b") })

	a.Join()
	b.Join()
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestYieldInterleaves(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var order []string
	mk := func(name string) func() {
		return func() {
			for i := 0; i < 3; i++ {
				order = append(order, name)
				Yield()
			}
		}
	}
	a := rt.Spawn("a", DefaultNiceLevel, mk("a"))
	b := rt.Spawn("b", DefaultNiceLevel, mk("b"))
	a.Join()
	b.Join()

	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, order)
}

func TestCurrentIdentity(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	main := Current()
	require.NotNil(t, main)
	assert.Equal(t, Main, main.Kind())
	assert.Same(t, rt.MainContext(), main)

	var inFiber *Context
	fb := rt.Spawn("probe", DefaultNiceLevel, func() { inFiber = Current() })
	fb.Join()
	require.NotNil(t, inFiber)
	assert.Same(t, fb, inFiber)
	assert.Equal(t, Worker, inFiber.Kind())
	assert.Equal(t, "probe", inFiber.Properties().Name())
}

func TestJoinFromForeignGoroutine(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var ran atomic.Bool
	fb := rt.Spawn("worker", DefaultNiceLevel, func() { ran.Store(true) })

	done := make(chan struct{})
	go func() {
		fb.Join()
		close(done)
	}()

	// The worker only runs when this (main) context suspends.
	fb.Join()
	<-done
	assert.True(t, ran.Load())
}

func TestSleepWakesInDeadlineOrder(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var order []string
	slow := rt.Spawn("slow", DefaultNiceLevel, func() {
		Sleep(60 * time.Millisecond)
		order = append(order, "slow")
	})
	fast := rt.Spawn("fast", DefaultNiceLevel, func() {
		Sleep(10 * time.Millisecond)
		order = append(order, "fast")
	})

	slow.Join()
	fast.Join()
	assert.Equal(t, []string{"fast", "slow"}, order)
}

func TestMutexHandoff(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var mu Mutex
	counter := 0

	fibers := make([]*Context, 0, 4)
	for i := 0; i < 4; i++ {
		fibers = append(fibers, rt.Spawn("locker", DefaultNiceLevel, func() {
			for j := 0; j < 10; j++ {
				mu.Lock()
				v := counter
				Yield() // hold across a suspension point
				counter = v + 1
				mu.Unlock()
			}
		}))
	}
	for _, fb := range fibers {
		fb.Join()
	}
	assert.Equal(t, 40, counter)
}

func TestCondSignal(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var (
		mu    Mutex
		cond  Cond
		ready bool
		got   bool
	)
	waiter := rt.Spawn("waiter", DefaultNiceLevel, func() {
		mu.Lock()
		for !ready {
			cond.Wait(&mu)
		}
		got = true
		mu.Unlock()
	})
	signaler := rt.Spawn("signaler", DefaultNiceLevel, func() {
		mu.Lock()
		ready = true
		mu.Unlock()
		cond.Signal()
	})

	waiter.Join()
	signaler.Join()
	assert.True(t, got)
}

func TestBlockingCounterAcrossFibers(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	bc := NewBlockingCounter(3)
	for i := 0; i < 3; i++ {
		rt.Spawn("dec", DefaultNiceLevel, func() { bc.Dec() })
	}
	// Main is a fiber of this runtime, so Wait suspends cooperatively.
	bc.Wait()
}

func TestBlockingCounterFromForeignGoroutine(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	bc := NewBlockingCounter(1)
	done := make(chan struct{})
	go func() {
		bc.Wait() // not a fiber: plain channel wait
		close(done)
	}()

	fb := rt.Spawn("dec", DefaultNiceLevel, func() { bc.Dec() })
	fb.Join()
	<-done
}

func TestDoneNotifiedFromForeignGoroutine(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	d := NewDone()
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Notify()
	}()
	// Suspends main; the dispatcher parks the thread until the remote
	// wake arrives through Schedule.
	d.Wait()

	// Second notify is a no-op.
	d.Notify()
	d.Wait()
}

func TestEventCountCrossThread(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var (
		ec  EventCount
		val atomic.Int64
	)
	fb := rt.Spawn("awaiter", DefaultNiceLevel, func() {
		ec.Await(func() bool { return val.Load() > 0 })
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		val.Store(1)
		ec.Notify()
	}()

	fb.Join()
	assert.Equal(t, int64(1), val.Load())
}

func TestScheduleFromForeignGoroutineWakesSuspendedFiber(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	bc := NewBlockingCounter(1)
	fb := rt.Spawn("parked", DefaultNiceLevel, func() { bc.Wait() })

	go func() {
		time.Sleep(10 * time.Millisecond)
		bc.Dec()
	}()
	fb.Join()
}

func TestReadyQueueLinkage(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	var q ReadyQueue
	a := rt.newContext(Worker, nil)
	b := rt.newContext(Worker, nil)

	assert.True(t, q.Empty())
	q.PushBack(a)
	q.PushBack(b)
	assert.Equal(t, 2, q.Len())
	assert.True(t, a.ReadyIsLinked())

	assert.Panics(t, func() { q.PushBack(a) }, "double link must panic")

	assert.Same(t, a, q.PopFront())
	assert.False(t, a.ReadyIsLinked())

	b.Unlink()
	assert.True(t, q.Empty())
	b.Unlink() // no-op when unlinked
}

func TestSpawnOffThreadPanics(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Panics(t, func() { rt.Spawn("bad", DefaultNiceLevel, func() {}) })
	}()
	<-done
}

func TestNiceLevelClamped(t *testing.T) {
	rt := NewRuntime()
	defer rt.Shutdown()

	fb := rt.Spawn("clamped", 99, func() {})
	assert.Equal(t, uint32(MaxNiceLevel), fb.Properties().NiceLevel())
	fb.Join()
}

func TestYieldOutsideRuntime(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Yield() // degrades to Gosched
	}()
	<-done
}
