package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrRAMLimitExceeded is returned when a reservation would exceed the hard
// RAM limit.
var ErrRAMLimitExceeded = errors.New("indexing RAM limit exceeded")

// Config holds resource limits.
type Config struct {
	// RAMLimitBytes is the hard limit for RAM held by buffered documents and
	// deletes. If 0, usage is only tracked.
	RAMLimitBytes int64

	// MaxConcurrentFlushes bounds the number of per-thread contexts flushed
	// at the same time. If 0, defaults to 1.
	MaxConcurrentFlushes int64

	// IOLimitBytesPerSec is the maximum write throughput for segment,
	// update packet and commit blobs. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller governs the resources shared by all indexing goroutines.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	ramSem  *semaphore.Weighted // nil if unlimited
	ramUsed atomic.Int64

	flushSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentFlushes <= 0 {
		cfg.MaxConcurrentFlushes = 1
	}

	c := &Controller{
		cfg:      cfg,
		flushSem: semaphore.NewWeighted(cfg.MaxConcurrentFlushes),
	}

	if cfg.RAMLimitBytes > 0 {
		c.ramSem = semaphore.NewWeighted(cfg.RAMLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// ReserveRAM accounts bytes of newly buffered data. It never blocks; with a
// hard limit configured it fails with ErrRAMLimitExceeded and the caller
// should flush before retrying.
func (c *Controller) ReserveRAM(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.ramSem != nil && !c.ramSem.TryAcquire(bytes) {
		return ErrRAMLimitExceeded
	}
	c.ramUsed.Add(bytes)
	return nil
}

// ReleaseRAM returns bytes freed by a flush or an abort.
func (c *Controller) ReleaseRAM(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.ramSem != nil {
		c.ramSem.Release(bytes)
	}
	c.ramUsed.Add(-bytes)
}

// RAMUsage returns the RAM currently accounted.
func (c *Controller) RAMUsage() int64 {
	if c == nil {
		return 0
	}
	return c.ramUsed.Load()
}

// RAMLimit returns the configured hard limit (0 if unlimited).
func (c *Controller) RAMLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.RAMLimitBytes
}

// MaxConcurrentFlushes returns the number of flush slots.
func (c *Controller) MaxConcurrentFlushes() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxConcurrentFlushes)
}

// AcquireFlushSlot blocks until a flush slot is free or ctx is done.
func (c *Controller) AcquireFlushSlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.flushSem.Acquire(ctx, 1)
}

// TryAcquireFlushSlot reserves a flush slot without blocking.
func (c *Controller) TryAcquireFlushSlot() bool {
	if c == nil {
		return true
	}
	return c.flushSem.TryAcquire(1)
}

// ReleaseFlushSlot frees a flush slot.
func (c *Controller) ReleaseFlushSlot() {
	if c == nil {
		return
	}
	c.flushSem.Release(1)
}

// AcquireIO waits until the IO limit allows writing bytes. Writes larger
// than the limiter burst are paced in burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// IOLimit returns the configured IO limit in bytes per second (0 if
// unlimited).
func (c *Controller) IOLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.IOLimitBytesPerSec
}
