// Package resource governs the resources shared by indexing goroutines.
//
//   - RAM: buffered documents and deletes are accounted; an optional hard
//     limit makes ReserveRAM fail fast so the caller flushes.
//   - Flush slots: a weighted semaphore bounds concurrent flushes.
//   - IO: a token bucket paces blob writes (segments, packets, commits).
//
// All methods are safe for concurrent use, and a nil *Controller is valid
// and imposes no limits:
//
//	rc := resource.NewController(resource.Config{
//	    RAMLimitBytes:        256 << 20,
//	    MaxConcurrentFlushes: 4,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//
//	if err := rc.AcquireFlushSlot(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFlushSlot()
package resource
