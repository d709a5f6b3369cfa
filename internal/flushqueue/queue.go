package flushqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/hupe1980/ftindex/internal/deletequeue"
	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/updates"
)

// ErrPublish wraps an error returned by the Publisher during a purge.
var ErrPublish = errors.New("flushqueue: publish failed")

// Publisher receives tickets in reservation order.
type Publisher interface {
	// PublishFlushedSegment publishes a new segment together with its
	// private updates and the global packet frozen when it was reserved.
	PublishFlushedSegment(ctx context.Context, seg *segment.FlushedSegment, segmentUpdates, globalUpdates *updates.Frozen) error
	// PublishFrozenUpdates publishes a global packet on its own.
	PublishFrozenUpdates(ctx context.Context, packet *updates.Frozen) error
}

// Preparer is the part of a per-thread context a segment ticket needs.
type Preparer interface {
	// PrepareFlush freezes the global buffer through the context's delete
	// slice and returns the packet.
	PrepareFlush() (*updates.Frozen, error)
}

// Freezer freezes the global delete buffer.
type Freezer interface {
	FreezeGlobalBuffer(callerSlice *deletequeue.Slice) *updates.Frozen
}

// Queue publishes concurrently produced flush results in reservation order.
//
// A ticket is reserved before its flush runs, so the order of reservations
// is the order in which the global packets were frozen. Purging publishes
// the longest run of publishable tickets at the head and stops at the first
// ticket whose flush is still running.
type Queue struct {
	mu      sync.Mutex
	tickets []*Ticket

	_           cpu.CacheLinePad
	ticketCount atomic.Int64
	_           cpu.CacheLinePad

	purgeMu sync.Mutex
	logger  *slog.Logger
}

// New returns an empty queue. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{logger: logger}
}

// AddDeletes freezes the global buffer and enqueues it as a deletes ticket.
// The ticket count is restored if freezing panics.
func (q *Queue) AddDeletes(f Freezer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.incTickets()
	ok := false
	defer func() {
		if !ok {
			q.decTickets()
		}
	}()

	t := &Ticket{kind: kindDeletes, state: Filled, global: f.FreezeGlobalBuffer(nil)}
	q.tickets = append(q.tickets, t)
	ok = true
}

// AddFlushTicket reserves a segment ticket for p. The ticket count is
// restored if PrepareFlush fails.
func (q *Queue) AddFlushTicket(p Preparer) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.incTickets()
	ok := false
	defer func() {
		if !ok {
			q.decTickets()
		}
	}()

	global, err := p.PrepareFlush()
	if err != nil {
		return nil, err
	}
	t := &Ticket{kind: kindSegment, global: global}
	q.tickets = append(q.tickets, t)
	ok = true
	return t, nil
}

// AddSegment fills t with the flushed segment. A nil seg (nothing was
// flushed) publishes only the global packet.
func (q *Queue) AddSegment(t *Ticket, seg *segment.FlushedSegment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.kind != kindSegment {
		panic("flushqueue: segment added to a deletes ticket")
	}
	t.segment = seg
	t.state = Filled
}

// MarkFailed fills t as failed. Its global packet is still published.
func (q *Queue) MarkFailed(t *Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.kind != kindSegment {
		panic("flushqueue: failed mark on a deletes ticket")
	}
	t.segment = nil
	t.failed = true
	t.state = Filled
}

// ForcePurge publishes every publishable ticket at the head, waiting for a
// concurrent purge to finish first. It returns the number of tickets
// removed.
func (q *Queue) ForcePurge(ctx context.Context, pub Publisher) (int, error) {
	q.purgeMu.Lock()
	defer q.purgeMu.Unlock()
	return q.innerPurge(ctx, pub)
}

// TryPurge is ForcePurge but returns immediately if another goroutine is
// purging.
func (q *Queue) TryPurge(ctx context.Context, pub Publisher) (int, error) {
	if !q.purgeMu.TryLock() {
		return 0, nil
	}
	defer q.purgeMu.Unlock()
	return q.innerPurge(ctx, pub)
}

func (q *Queue) innerPurge(ctx context.Context, pub Publisher) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		q.mu.Lock()
		if len(q.tickets) == 0 {
			q.mu.Unlock()
			return n, nil
		}
		head := q.tickets[0]
		canPublish := head.canPublish()
		q.mu.Unlock()

		if !canPublish {
			return n, nil
		}

		// Publishing runs without the queue lock so flushing goroutines can
		// keep reserving and filling tickets.
		err := q.publish(ctx, head, pub)

		// The head is removed even when publishing failed: it was attempted.
		q.mu.Lock()
		if len(q.tickets) == 0 || q.tickets[0] != head {
			// Dropped by Clear while publishing.
			q.mu.Unlock()
			return n, err
		}
		q.tickets[0] = nil
		q.tickets = q.tickets[1:]
		head.state = Published
		q.mu.Unlock()
		q.decTickets()
		n++

		if err != nil {
			q.logger.Warn("publish failed", "ticket", head.String(), "error", err)
			return n, fmt.Errorf("%w: %w", ErrPublish, err)
		}
	}
}

func (q *Queue) publish(ctx context.Context, t *Ticket, pub Publisher) error {
	if t.kind == kindDeletes || t.segment == nil {
		if !t.global.Any() {
			return nil
		}
		q.logger.Debug("publish frozen updates", "packet", t.global.String())
		return pub.PublishFrozenUpdates(ctx, t.global)
	}
	q.logger.Debug("publish flushed segment", "segment", t.segment.Info.Name)
	return pub.PublishFlushedSegment(ctx, t.segment, t.segment.SegmentUpdates, t.global)
}

// HasTickets reports whether any ticket is reserved and not yet removed.
func (q *Queue) HasTickets() bool {
	n := q.ticketCount.Load()
	if n < 0 {
		panic(fmt.Sprintf("flushqueue: ticket count is negative: %d", n))
	}
	return n != 0
}

// TicketCount returns the number of reserved tickets not yet removed.
func (q *Queue) TicketCount() int {
	return int(q.ticketCount.Load())
}

// Clear drops every queued ticket without publishing it. It waits for a
// running purge to finish.
func (q *Queue) Clear() {
	q.purgeMu.Lock()
	defer q.purgeMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.tickets)
	q.tickets = q.tickets[:0]
	q.ticketCount.Store(0)
}

func (q *Queue) incTickets() {
	n := q.ticketCount.Add(1)
	if n <= 0 {
		panic(fmt.Sprintf("flushqueue: ticket count overflow: %d", n))
	}
}

func (q *Queue) decTickets() {
	n := q.ticketCount.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("flushqueue: ticket count is negative: %d", n))
	}
}
