package threadpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ThreadState is a lockable holder binding one per-thread indexing context.
//
// The embedded lock is not reentrant. A goroutine owns the holder (and the
// bound context) while it holds the lock. Byte accounting and the
// flush-pending flag are atomics so flush control can read them without
// taking the lock.
type ThreadState[C any] struct {
	_ cpu.CacheLinePad

	mu      sync.Mutex
	waiters atomic.Int32

	active       atomic.Bool
	flushPending atomic.Bool
	bytesUsed    atomic.Int64

	ord         int
	initialized atomic.Bool
	ctx         C

	_ cpu.CacheLinePad
}

func newThreadState[C any](ord int) *ThreadState[C] {
	ts := &ThreadState[C]{ord: ord}
	ts.active.Store(true)
	return ts
}

// Lock acquires the holder, counting the caller as a waiter while blocked.
func (ts *ThreadState[C]) Lock() {
	if ts.mu.TryLock() {
		return
	}
	ts.waiters.Add(1)
	ts.mu.Lock()
	ts.waiters.Add(-1)
}

// TryLock acquires the holder if it is free.
func (ts *ThreadState[C]) TryLock() bool {
	return ts.mu.TryLock()
}

// Unlock releases the holder.
func (ts *ThreadState[C]) Unlock() {
	ts.mu.Unlock()
}

// QueueLength returns the number of goroutines blocked in Lock.
func (ts *ThreadState[C]) QueueLength() int {
	return int(ts.waiters.Load())
}

// Ord returns the holder's position in the pool.
func (ts *ThreadState[C]) Ord() int {
	return ts.ord
}

// IsActive reports whether the holder may still be handed out.
func (ts *ThreadState[C]) IsActive() bool {
	return ts.active.Load()
}

// IsInitialized reports whether a context is bound.
func (ts *ThreadState[C]) IsInitialized() bool {
	return ts.initialized.Load()
}

// Context returns the bound context. The caller must hold the lock.
func (ts *ThreadState[C]) Context() C {
	return ts.ctx
}

// Bind attaches ctx. The caller must hold the lock.
func (ts *ThreadState[C]) Bind(ctx C) {
	if !ts.active.Load() {
		panic(fmt.Sprintf("threadpool: bind on inactive thread state %d", ts.ord))
	}
	ts.ctx = ctx
	ts.initialized.Store(true)
}

// BytesUsed returns the RAM attributed to the bound context.
func (ts *ThreadState[C]) BytesUsed() int64 {
	return ts.bytesUsed.Load()
}

// AddBytes adjusts the RAM attributed to the bound context and returns the
// new total.
func (ts *ThreadState[C]) AddBytes(delta int64) int64 {
	return ts.bytesUsed.Add(delta)
}

// FlushPending reports whether the bound context is scheduled for flush.
func (ts *ThreadState[C]) FlushPending() bool {
	return ts.flushPending.Load()
}

// SetFlushPending marks the bound context as scheduled for flush.
func (ts *ThreadState[C]) SetFlushPending() {
	ts.flushPending.Store(true)
}

// detach clears the binding and returns the previous context.
func (ts *ThreadState[C]) detach() C {
	var zero C
	ctx := ts.ctx
	ts.ctx = zero
	ts.initialized.Store(false)
	ts.bytesUsed.Store(0)
	ts.flushPending.Store(false)
	return ctx
}

// String returns a string representation of the ThreadState.
func (ts *ThreadState[C]) String() string {
	return fmt.Sprintf("ThreadState(ord=%d active=%t waiters=%d bytes=%d)",
		ts.ord, ts.IsActive(), ts.QueueLength(), ts.BytesUsed())
}
