package ioctx

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/blockspacer/gaia/fiber"
)

// IoContextPool owns a set of independent IoContexts, one loop goroutine
// each. Contexts never migrate work between each other; the pool only hands
// them out round-robin.
type IoContextPool struct {
	contexts []*IoContext
	next     atomic.Uint64
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewPool creates a pool of n contexts; n <= 0 means GOMAXPROCS.
func NewPool(n int, opts ...Option) (*IoContextPool, error) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &IoContextPool{contexts: make([]*IoContext, 0, n)}
	for i := 0; i < n; i++ {
		c, err := New(opts...)
		if err != nil {
			for _, prev := range p.contexts {
				_ = prev.Close()
			}
			return nil, err
		}
		p.contexts = append(p.contexts, c)
	}
	return p, nil
}

// Run starts one loop goroutine per context and blocks until every loop
// fiber is running.
func (p *IoContextPool) Run() {
	started := fiber.NewBlockingCounter(int64(len(p.contexts)))
	for _, c := range p.contexts {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			c.StartLoop(started)
		}()
	}
	started.Wait()
}

// Stop stops every context and, unless called from inside one of the pool's
// own loops, joins the loop goroutines and releases their reactors. A stop
// issued from a pool fiber skips the join (the loop it runs on drains after
// the calling fiber completes); a later Stop from outside finishes the join.
// Idempotent.
func (p *IoContextPool) Stop() {
	for _, c := range p.contexts {
		c.Stop()
	}
	for _, c := range p.contexts {
		if c.InContextThread() {
			return
		}
	}
	p.wg.Wait()
	if p.closed.CompareAndSwap(false, true) {
		for _, c := range p.contexts {
			_ = c.Close()
		}
	}
}

// Size returns the number of contexts in the pool.
func (p *IoContextPool) Size() int { return len(p.contexts) }

// Get returns the context at index i.
func (p *IoContextPool) Get(i int) *IoContext { return p.contexts[i] }

// GetNextContext returns a context, rotating round-robin across the pool.
func (p *IoContextPool) GetNextContext() *IoContext {
	idx := p.next.Add(1) - 1
	return p.contexts[idx%uint64(len(p.contexts))]
}

// AwaitOnAll runs fn as a plain handler on every context and waits for all
// of them. fn must not suspend.
func (p *IoContextPool) AwaitOnAll(fn func(*IoContext)) {
	bc := fiber.NewBlockingCounter(int64(len(p.contexts)))
	for _, c := range p.contexts {
		c.Async(func() {
			fn(c)
			bc.Dec()
		})
	}
	bc.Wait()
}

// AwaitFiberOnAll runs fn on a worker fiber of every context and waits for
// all of them. fn may suspend.
func (p *IoContextPool) AwaitFiberOnAll(fn func(*IoContext)) {
	bc := fiber.NewBlockingCounter(int64(len(p.contexts)))
	for _, c := range p.contexts {
		c.AsyncFiber(func() {
			fn(c)
			bc.Dec()
		})
	}
	bc.Wait()
}
