package threadpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrInvalidCapacity is returned when a pool is created with capacity < 1.
	ErrInvalidCapacity = errors.New("threadpool: capacity must be at least 1")

	// ErrInterrupted is returned when Acquire gives up because its context
	// was cancelled.
	ErrInterrupted = errors.New("threadpool: acquire interrupted")

	// ErrClosed is returned by Acquire once every holder is deactivated and
	// no new holder can be allocated.
	ErrClosed = errors.New("threadpool: pool closed")
)

// Pool is a bounded set of ThreadState holders recycled in LIFO order.
//
// Holders are allocated lazily up to the capacity. A released holder goes on
// top of the free list so the most recently used context, which is the most
// likely to be warm, is handed out next.
type Pool[C any] struct {
	slots     []atomic.Pointer[ThreadState[C]]
	numActive atomic.Int32

	mu       sync.Mutex
	free     []*ThreadState[C]
	closed   bool
	released chan struct{}
}

// New returns a pool holding at most capacity holders.
func New[C any](capacity int) (*Pool[C], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Pool[C]{
		slots:    make([]atomic.Pointer[ThreadState[C]], capacity),
		free:     make([]*ThreadState[C], 0, capacity),
		released: make(chan struct{}),
	}, nil
}

// Capacity returns the maximum number of holders.
func (p *Pool[C]) Capacity() int {
	return len(p.slots)
}

// NumActive returns the number of holders allocated so far. It never
// decreases.
func (p *Pool[C]) NumActive() int {
	return int(p.numActive.Load())
}

// ThreadState returns the holder at position i, or nil.
func (p *Pool[C]) ThreadState(i int) *ThreadState[C] {
	if i < 0 || i >= p.NumActive() {
		return nil
	}
	return p.slots[i].Load()
}

// ForEachActive calls fn for every allocated, active holder. Holders are not
// locked.
func (p *Pool[C]) ForEachActive(fn func(ts *ThreadState[C])) {
	n := p.NumActive()
	for i := 0; i < n; i++ {
		if ts := p.slots[i].Load(); ts != nil && ts.IsActive() {
			fn(ts)
		}
	}
}

// NewThreadState allocates the next never-used holder and returns it locked.
// It returns nil if the capacity is exhausted or the pool is closed.
func (p *Pool[C]) NewThreadState() *ThreadState[C] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocateLocked()
}

func (p *Pool[C]) allocateLocked() *ThreadState[C] {
	if p.closed {
		return nil
	}
	n := int(p.numActive.Load())
	if n >= len(p.slots) {
		return nil
	}
	ts := newThreadState[C](n)
	ts.Lock()
	// Publish the slot before the count so lock-free scans never see nil.
	p.slots[n].Store(ts)
	p.numActive.Store(int32(n + 1))
	return ts
}

// Acquire returns a locked holder. It blocks while every holder is in use
// and the capacity is exhausted, until a holder is released or ctx is done.
// It never blocks on a holder's lock outside that wait.
func (p *Pool[C]) Acquire(ctx context.Context) (*ThreadState[C], error) {
	for {
		p.mu.Lock()
		ts := p.popFreeLocked()
		if ts != nil {
			if ts.TryLock() {
				p.mu.Unlock()
				return ts, nil
			}
			// Locked by a full flush while idle. Its Unlock wakes us.
			p.free = append(p.free, ts)
		} else if ts = p.allocateLocked(); ts != nil {
			p.mu.Unlock()
			return ts, nil
		} else if !p.anyActiveLocked() {
			// Nothing can be allocated and nothing will be released.
			p.mu.Unlock()
			return nil, ErrClosed
		}
		wake := p.released
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-wake:
		}
	}
}

// popFreeLocked pops the top of the free list, dropping deactivated holders.
// An uninitialized top is swapped with the topmost initialized holder.
func (p *Pool[C]) popFreeLocked() *ThreadState[C] {
	for len(p.free) > 0 {
		top := len(p.free) - 1
		ts := p.free[top]
		if !ts.IsActive() {
			p.free = p.free[:top]
			continue
		}
		if !ts.IsInitialized() {
			for i := top - 1; i >= 0; i-- {
				cand := p.free[i]
				if cand.IsActive() && cand.IsInitialized() {
					p.free[i], p.free[top] = ts, cand
					ts = cand
					break
				}
			}
		}
		p.free = p.free[:top]
		return ts
	}
	return nil
}

func (p *Pool[C]) anyActiveLocked() bool {
	n := p.NumActive()
	for i := 0; i < n; i++ {
		if p.slots[i].Load().IsActive() {
			return true
		}
	}
	return false
}

// Release unlocks ts and returns it to the free list. Inactive holders are
// dropped. Every blocked Acquire is woken.
func (p *Pool[C]) Release(ts *ThreadState[C]) {
	p.mu.Lock()
	if p.closed {
		ts.active.Store(false)
	}
	if ts.IsActive() {
		p.free = append(p.free, ts)
	}
	ts.Unlock()
	p.wakeLocked()
	p.mu.Unlock()
}

func (p *Pool[C]) wakeLocked() {
	close(p.released)
	p.released = make(chan struct{})
}

// Deactivate permanently retires ts and wakes blocked Acquire calls. The
// caller must hold its lock or own it exclusively.
func (p *Pool[C]) Deactivate(ts *ThreadState[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts.active.Store(false)
	p.wakeLocked()
}

// Unlock releases a holder locked with ThreadState.Lock outside Acquire,
// without returning it to the free list, and wakes blocked Acquire calls.
func (p *Pool[C]) Unlock(ts *ThreadState[C]) {
	ts.Unlock()
	p.mu.Lock()
	p.wakeLocked()
	p.mu.Unlock()
}

// DeactivateUnreleased retires every idle holder and closes the pool for
// new allocation. Holders still in use are retired when released.
func (p *Pool[C]) DeactivateUnreleased() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, ts := range p.free {
		ts.active.Store(false)
	}
	p.free = p.free[:0]
	p.wakeLocked()
}

// Reset detaches and returns the context bound to ts. The caller must hold
// the lock.
func (p *Pool[C]) Reset(ts *ThreadState[C]) C {
	return ts.detach()
}

// MinContended returns the active holder with the fewest queued waiters, or
// nil if none is allocated. The scan takes no locks and is best effort.
func (p *Pool[C]) MinContended() *ThreadState[C] {
	var best *ThreadState[C]
	p.ForEachActive(func(ts *ThreadState[C]) {
		if best == nil || ts.QueueLength() < best.QueueLength() {
			best = ts
		}
	})
	return best
}

// String returns a string representation of the Pool.
func (p *Pool[C]) String() string {
	return fmt.Sprintf("ThreadStatePool(capacity=%d active=%d)", p.Capacity(), p.NumActive())
}
