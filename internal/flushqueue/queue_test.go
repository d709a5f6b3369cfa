package flushqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ftindex/internal/deletequeue"
	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

type published struct {
	segment string
	global  *updates.Frozen
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []published
	failOn  string
	block   chan struct{}
	entered chan struct{}
}

func (p *recordingPublisher) PublishFlushedSegment(_ context.Context, seg *segment.FlushedSegment, _, global *updates.Frozen) error {
	if p.entered != nil {
		close(p.entered)
		p.entered = nil
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if seg.Info.Name == p.failOn {
		return fmt.Errorf("disk full while publishing %s", seg.Info.Name)
	}
	p.events = append(p.events, published{segment: seg.Info.Name, global: global})
	return nil
}

func (p *recordingPublisher) PublishFrozenUpdates(_ context.Context, packet *updates.Frozen) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{global: packet})
	return nil
}

func (p *recordingPublisher) segments() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.segment != "" {
			out = append(out, e.segment)
		}
	}
	return out
}

type stubPreparer struct {
	packet *updates.Frozen
	err    error
}

func (s stubPreparer) PrepareFlush() (*updates.Frozen, error) { return s.packet, s.err }

func emptyPacket() *updates.Frozen {
	return updates.Freeze(updates.NewBuffered(), false)
}

func newSegment(name string) *segment.FlushedSegment {
	return &segment.FlushedSegment{Info: model.SegmentInfo{Name: name, DocCount: 1}}
}

func TestQueue_PublishesInReservationOrder(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{}

	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	t2, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	t3, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	assert.Equal(t, 3, q.TicketCount())

	q.AddSegment(t3, newSegment("_2"))
	n, err := q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.segments())

	q.AddSegment(t2, newSegment("_1"))
	n, err = q.TryPurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Zero(t, n)

	q.AddSegment(t1, newSegment("_0"))
	n, err = q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"_0", "_1", "_2"}, pub.segments())
	assert.Zero(t, q.TicketCount())
	assert.False(t, q.HasTickets())
	assert.Equal(t, Published, t3.State())
}

func TestQueue_FailedTicketPublishesGlobalOnly(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{}

	dq := deletequeue.New()
	dq.AddDelete(model.NewTerm("id", "1"))
	global := dq.FreezeGlobalBuffer(nil)
	require.True(t, global.Any())

	ticket, err := q.AddFlushTicket(stubPreparer{packet: global})
	require.NoError(t, err)
	assert.Equal(t, Reserved, ticket.State())

	n, err := q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Zero(t, n, "unfilled segment ticket blocks the head")

	q.MarkFailed(ticket)
	assert.True(t, ticket.Failed())
	assert.Nil(t, ticket.Segment())

	n, err = q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Empty(t, pub.events[0].segment)
	assert.Same(t, global, pub.events[0].global)
	assert.Zero(t, q.TicketCount())
}

func TestQueue_EmptyGlobalPacketIsSkipped(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{}

	ticket, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(ticket, nil)

	n, err := q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, pub.events)
}

func TestQueue_DeletesTicketAlwaysPublishable(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{}
	dq := deletequeue.New()

	dq.AddDelete(model.NewTerm("id", "1"))
	q.AddDeletes(dq)
	assert.Equal(t, 1, q.TicketCount())
	assert.False(t, dq.AnyChanges())

	n, err := q.TryPurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.events, 1)
	assert.Len(t, pub.events[0].global.Terms(), 1)
}

func TestQueue_RollbackOnPrepareFailure(t *testing.T) {
	q := New(nil)
	boom := errors.New("prepare failed")

	_, err := q.AddFlushTicket(stubPreparer{err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, q.TicketCount())
	assert.False(t, q.HasTickets())
}

type panickingFreezer struct{}

func (panickingFreezer) FreezeGlobalBuffer(*deletequeue.Slice) *updates.Frozen {
	panic("freeze failed")
}

func TestQueue_RollbackOnFreezePanic(t *testing.T) {
	q := New(nil)
	assert.Panics(t, func() { q.AddDeletes(panickingFreezer{}) })
	assert.Zero(t, q.TicketCount())

	// The queue lock was released.
	_, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
}

func TestQueue_PublishErrorDequeuesHead(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{failOn: "_0"}

	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	t2, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(t1, newSegment("_0"))
	q.AddSegment(t2, newSegment("_1"))

	n, err := q.ForcePurge(t.Context(), pub)
	assert.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.TicketCount())

	n, err = q.ForcePurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"_1"}, pub.segments())
}

func TestQueue_TryPurgeUnderContention(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{block: make(chan struct{}), entered: make(chan struct{})}
	entered := pub.entered

	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(t1, newSegment("_0"))

	done := make(chan error, 1)
	go func() {
		_, err := q.ForcePurge(context.Background(), pub)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("purge did not start publishing")
	}

	// A second drainer gives up instead of waiting.
	n, err := q.TryPurge(t.Context(), pub)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Reserving while a purge publishes does not block.
	_, err = q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)

	close(pub.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"_0"}, pub.segments())
	assert.Equal(t, 1, q.TicketCount())
}

func TestQueue_PurgeCancelled(t *testing.T) {
	q := New(nil)
	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(t1, newSegment("_0"))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = q.ForcePurge(ctx, &recordingPublisher{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.TicketCount())
}

func TestQueue_Clear(t *testing.T) {
	q := New(nil)
	_, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddDeletes(deletequeue.New())
	assert.Equal(t, 2, q.TicketCount())

	q.Clear()
	assert.False(t, q.HasTickets())
	n, err := q.ForcePurge(t.Context(), &recordingPublisher{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_MisuseOnDeletesTicket(t *testing.T) {
	q := New(nil)
	q.AddDeletes(deletequeue.New())
	ticket := q.tickets[0]
	assert.Panics(t, func() { q.AddSegment(ticket, nil) })
	assert.Panics(t, func() { q.MarkFailed(ticket) })
}

func TestQueue_ClearWaitsForRunningPurge(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{block: make(chan struct{}), entered: make(chan struct{})}
	entered := pub.entered

	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	_, err = q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(t1, newSegment("_0"))

	purged := make(chan error, 1)
	go func() {
		_, err := q.ForcePurge(context.Background(), pub)
		purged <- err
	}()
	<-entered

	cleared := make(chan struct{})
	go func() {
		q.Clear()
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("clear must wait for the purge that is publishing")
	case <-time.After(20 * time.Millisecond):
	}

	close(pub.block)
	require.NoError(t, <-purged)
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("clear did not finish after the purge")
	}
	assert.Equal(t, []string{"_0"}, pub.segments())
	assert.Zero(t, q.TicketCount())
	assert.False(t, q.HasTickets())
}

func TestQueue_PurgeToleratesHeadRemovedWhilePublishing(t *testing.T) {
	q := New(nil)
	pub := &recordingPublisher{block: make(chan struct{}), entered: make(chan struct{})}
	entered := pub.entered

	t1, err := q.AddFlushTicket(stubPreparer{packet: emptyPacket()})
	require.NoError(t, err)
	q.AddSegment(t1, newSegment("_0"))

	purged := make(chan error, 1)
	go func() {
		_, err := q.ForcePurge(context.Background(), pub)
		purged <- err
	}()
	<-entered

	// Drop the tickets behind the purge's back.
	q.mu.Lock()
	clear(q.tickets)
	q.tickets = q.tickets[:0]
	q.ticketCount.Store(0)
	q.mu.Unlock()

	close(pub.block)
	require.NoError(t, <-purged)
	assert.Zero(t, q.TicketCount())
}
