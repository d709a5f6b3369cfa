package ftindex

import (
	"context"
	"fmt"
	"sync"
)

// flushControl tracks the RAM held by active and flushing contexts and the
// number of flushes in flight.
//
// Indexing stalls while active plus flushing bytes exceed the stall limit
// and the active bytes alone do not: only then can a running flush bring
// the total back under the limit. A stall limit of zero never stalls.
type flushControl struct {
	stallLimit int64

	mu          sync.Mutex
	activeBytes int64
	flushBytes  int64
	numFlushing int
	stalled     bool
	closed      bool
	changed     chan struct{}
}

func newFlushControl(stallLimit int64) *flushControl {
	return &flushControl{
		stallLimit: stallLimit,
		changed:    make(chan struct{}),
	}
}

// addActive accounts bytes buffered by an active context.
func (fc *flushControl) addActive(delta int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.activeBytes += delta
	fc.updateLocked()
}

// dropActive forgets an aborted active context.
func (fc *flushControl) dropActive(bytes int64) {
	fc.addActive(-bytes)
}

// flushStarted moves a detached context's bytes from active to flushing.
// It must be called before the context's ticket is reserved.
func (fc *flushControl) flushStarted(bytes int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.activeBytes -= bytes
	fc.flushBytes += bytes
	fc.numFlushing++
	fc.updateLocked()
}

// flushDone releases a flushed context. Its ticket is filled by then.
func (fc *flushControl) flushDone(bytes int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.flushBytes -= bytes
	fc.numFlushing--
	if fc.numFlushing < 0 {
		panic(fmt.Sprintf("ftindex: negative number of flushing contexts: %d", fc.numFlushing))
	}
	fc.updateLocked()
}

// close lifts the stall for good.
func (fc *flushControl) close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.closed = true
	fc.updateLocked()
}

func (fc *flushControl) updateLocked() {
	limit := fc.stallLimit
	fc.stalled = limit > 0 && !fc.closed &&
		fc.activeBytes+fc.flushBytes > limit && fc.activeBytes < limit
	close(fc.changed)
	fc.changed = make(chan struct{})
}

// waitForFlush blocks until no flush is in flight.
func (fc *flushControl) waitForFlush(ctx context.Context) error {
	return fc.waitUntil(ctx, func() bool { return fc.numFlushing == 0 })
}

// waitIfStalled blocks while indexing is stalled. It reports whether the
// caller had to wait.
func (fc *flushControl) waitIfStalled(ctx context.Context) (bool, error) {
	waited := false
	err := fc.waitUntil(ctx, func() bool {
		if fc.stalled {
			waited = true
		}
		return !fc.stalled
	})
	return waited, err
}

func (fc *flushControl) waitUntil(ctx context.Context, done func() bool) error {
	for {
		fc.mu.Lock()
		if done() {
			fc.mu.Unlock()
			return nil
		}
		wake := fc.changed
		fc.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-wake:
		}
	}
}

// isStalled reports whether indexing is currently stalled.
func (fc *flushControl) isStalled() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.stalled
}

// flushing returns the number of flushes in flight and the bytes they hold.
func (fc *flushControl) flushing() (int, int64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.numFlushing, fc.flushBytes
}

// String returns a string representation of the flushControl.
func (fc *flushControl) String() string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fmt.Sprintf("FlushControl(active=%d flushing=%d/%d stalled=%t)",
		fc.activeBytes, fc.numFlushing, fc.flushBytes, fc.stalled)
}
