package ftindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/updates"
)

// publisher is the publish side of a Writer. The flush queue calls it in
// ticket order from a single goroutine at a time.
type publisher struct {
	w *Writer
}

// PublishFlushedSegment implements flushqueue.Publisher.
//
// The global packet frozen with the segment gets the older generation: its
// deletes were applied to the segment through the delete slice already and
// must only reach segments published before it.
func (p *publisher) PublishFlushedSegment(ctx context.Context, seg *segment.FlushedSegment, segmentUpdates, globalUpdates *updates.Frozen) error {
	w := p.w
	w.mu.Lock()
	defer w.mu.Unlock()

	if globalUpdates.Any() {
		if err := p.publishPacketLocked(ctx, globalUpdates); err != nil {
			return err
		}
	}

	gen := w.nextDelGen
	w.nextDelGen++
	info := seg.Info
	info.DelGen = gen
	info.Files = append([]string(nil), info.Files...)

	if segmentUpdates.Any() {
		segmentUpdates.SetGen(gen)
		ref, size, err := w.commits.WritePacket(ctx, segmentUpdates)
		if err == nil {
			err = w.rc.AcquireIO(ctx, size)
		}
		if err != nil {
			w.metrics.RecordPublish(true, err)
			w.logger.WithSegment(info.Name).LogPublish(ctx, "segment", gen, err)
			return fmt.Errorf("segment %s: %w", info.Name, err)
		}
		info.Files = append(info.Files, ref.Name)
	}

	w.segments = append(w.segments, info)
	w.metrics.RecordPublish(true, nil)
	w.logger.WithSegment(info.Name).LogPublish(ctx, "segment", gen, nil)
	return nil
}

// PublishFrozenUpdates implements flushqueue.Publisher.
func (p *publisher) PublishFrozenUpdates(ctx context.Context, packet *updates.Frozen) error {
	p.w.mu.Lock()
	defer p.w.mu.Unlock()
	return p.publishPacketLocked(ctx, packet)
}

func (p *publisher) publishPacketLocked(ctx context.Context, packet *updates.Frozen) error {
	w := p.w
	gen := w.nextDelGen
	w.nextDelGen++
	packet.SetGen(gen)

	ref, size, err := w.commits.WritePacket(ctx, packet)
	if err == nil {
		err = w.rc.AcquireIO(ctx, size)
	}
	w.metrics.RecordPublish(false, err)
	w.logger.LogPublish(ctx, "updates", gen, err)
	if err != nil {
		return fmt.Errorf("update packet %d: %w", gen, err)
	}
	w.packets = append(w.packets, ref)
	return nil
}
