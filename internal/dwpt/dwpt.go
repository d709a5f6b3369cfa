package dwpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/ftindex/internal/deletequeue"
	"github.com/hupe1980/ftindex/internal/resource"
	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

var (
	// ErrInvalidDocument is returned for a document that cannot be indexed.
	// The document still consumes a doc id and is marked deleted.
	ErrInvalidDocument = errors.New("dwpt: invalid document")

	// ErrAborted is returned by operations on an aborted context.
	ErrAborted = errors.New("dwpt: aborted")
)

// Rough RAM cost of buffering one document's bookkeeping.
const bytesPerDoc = 16

// PerThread buffers documents for one future segment.
//
// A PerThread is not safe for concurrent use. It is owned by the goroutine
// holding the thread state it is bound to.
type PerThread struct {
	name   string
	queue  *deletequeue.Queue
	slice  *deletequeue.Slice
	writer *segment.Writer
	rc     *resource.Controller
	logger *slog.Logger

	pending  *updates.Buffered
	docTerms [][]model.Term
	numDocs  int
	docBytes int64
	aborted  bool
}

// New returns an empty context buffering into segment name. Deletes are
// observed from the point of creation on.
func New(name string, queue *deletequeue.Queue, w *segment.Writer, rc *resource.Controller, logger *slog.Logger) *PerThread {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerThread{
		name:    name,
		queue:   queue,
		slice:   queue.NewSlice(),
		writer:  w,
		rc:      rc,
		logger:  logger.With("segment", name),
		pending: updates.NewBuffered(),
	}
}

// UpdateDocument buffers doc. If delTerm is non-nil every previously
// buffered document carrying it is deleted, in this context and globally.
//
// An invalid document still consumes a doc id and is marked deleted. Its
// delete term is not recorded.
func (p *PerThread) UpdateDocument(doc model.Document, delTerm *model.Term) error {
	if p.aborted {
		return ErrAborted
	}

	docID := p.numDocs
	if err := validate(doc); err != nil {
		p.DeleteDocID(docID)
		p.docTerms = append(p.docTerms, nil)
		p.numDocs++
		return fmt.Errorf("%w: doc %d: %w", ErrInvalidDocument, docID, err)
	}

	p.docTerms = append(p.docTerms, slices.Clone(doc.Terms))
	p.docBytes += doc.Size + bytesPerDoc
	for _, t := range doc.Terms {
		p.docBytes += int64(t.Size())
	}
	p.finishDocument(delTerm)
	return nil
}

func validate(doc model.Document) error {
	for _, t := range doc.Terms {
		if t.Field == "" {
			return fmt.Errorf("term %q has an empty field", t.Text)
		}
	}
	if doc.Size < 0 {
		return fmt.Errorf("negative size %d", doc.Size)
	}
	return nil
}

// finishDocument pushes delTerm into the queue and applies every delete
// that arrived since the last document, bounded by the doc id that is about
// to be assigned.
func (p *PerThread) finishDocument(delTerm *model.Term) {
	applySlice := p.numDocs != 0
	if delTerm != nil {
		p.queue.AddDocumentDelete(*delTerm, p.slice)
		if !p.slice.IsTailItem(*delTerm) {
			panic("dwpt: expected the delete term as the tail item")
		}
	} else {
		applySlice = p.queue.UpdateSlice(p.slice) && applySlice
	}

	if applySlice {
		p.slice.Apply(p.pending, p.numDocs)
	} else {
		// Nothing buffered yet can be affected.
		p.slice.Reset()
	}
	p.numDocs++
}

// DeleteDocID marks a buffered document as deleted.
func (p *PerThread) DeleteDocID(docID int) {
	p.pending.AddDocID(uint32(docID))
}

// NumDocs returns the number of buffered documents, including deleted ones.
func (p *PerThread) NumDocs() int {
	return p.numDocs
}

// NumDeleteTerms returns the number of term deletes applied to this context.
func (p *PerThread) NumDeleteTerms() int64 {
	return p.pending.NumTermDeletes()
}

// BytesUsed returns the estimated RAM held by buffered documents and deletes.
func (p *PerThread) BytesUsed() int64 {
	return p.docBytes + p.pending.BytesUsed()
}

// SegmentName returns the name of the segment being buffered.
func (p *PerThread) SegmentName() string {
	return p.name
}

// DeleteQueue returns the queue this context observes.
func (p *PerThread) DeleteQueue() *deletequeue.Queue {
	return p.queue
}

// PrepareFlush freezes the global buffer through this context's slice and
// applies every delete that preceded the packet to the buffered documents.
func (p *PerThread) PrepareFlush() (*updates.Frozen, error) {
	if p.aborted {
		return nil, ErrAborted
	}
	global := p.queue.FreezeGlobalBuffer(p.slice)
	p.slice.Apply(p.pending, p.numDocs)
	if !p.slice.IsEmpty() {
		panic("dwpt: delete slice not empty after prepare")
	}
	return global, nil
}

// Flush writes the buffered documents as a new segment. It returns nil and
// no error if nothing is buffered. PrepareFlush must have been called.
func (p *PerThread) Flush(ctx context.Context) (*segment.FlushedSegment, error) {
	if p.aborted {
		return nil, ErrAborted
	}
	if p.numDocs == 0 {
		return nil, nil
	}
	if !p.slice.IsEmpty() {
		panic("dwpt: all deletes must be applied before flush")
	}

	start := time.Now()
	ramUsed := p.BytesUsed()

	deleted := p.resolveTermDeletes()
	deleted.Or(p.pending.DeletedDocIDs())
	p.pending.ClearTerms()
	p.pending.ClearDocIDs()

	var segUpdates *updates.Frozen
	if p.pending.Any() {
		segUpdates = updates.Freeze(p.pending, true)
	}
	p.pending.Clear()

	desc := &segment.Descriptor{
		Name:     p.name,
		DocCount: p.numDocs,
		DocTerms: p.docTerms,
	}
	file, size, err := p.write(ctx, desc, deleted)
	if err != nil {
		p.Abort()
		return nil, err
	}

	fs := &segment.FlushedSegment{
		Info: model.SegmentInfo{
			Name:     p.name,
			DocCount: p.numDocs,
			DelCount: int(deleted.GetCardinality()),
			Files:    []string{file},
		},
		SegmentUpdates: segUpdates,
		DeletedDocs:    deleted,
	}

	p.logger.Debug("flushed segment",
		"docs", fs.Info.DocCount,
		"deleted", fs.Info.DelCount,
		"ram_bytes", ramUsed,
		"blob_bytes", size,
		"private_updates", segUpdates != nil,
		"duration", time.Since(start),
	)
	return fs, nil
}

// resolveTermDeletes returns the buffered documents deleted by a term
// delete: a document is deleted if it carries the term and its id is below
// the term's bound.
func (p *PerThread) resolveTermDeletes() *roaring.Bitmap {
	deleted := roaring.New()
	if p.pending.NumTerms() == 0 {
		return deleted
	}
	for docID, terms := range p.docTerms {
		for _, t := range terms {
			if limit, ok := p.pending.TermLimit(t); ok && docID < limit {
				deleted.Add(uint32(docID))
				break
			}
		}
	}
	return deleted
}

func (p *PerThread) write(ctx context.Context, desc *segment.Descriptor, deleted *roaring.Bitmap) (string, int, error) {
	// Reserve IO for the estimated payload before writing.
	if err := p.rc.AcquireIO(ctx, int(p.docBytes)); err != nil {
		return "", 0, fmt.Errorf("dwpt: flush %s: %w", p.name, err)
	}
	return p.writer.Write(ctx, desc, deleted)
}

// Abort discards everything buffered. Later calls fail with ErrAborted.
func (p *PerThread) Abort() {
	p.aborted = true
	p.pending.Clear()
	p.docTerms = nil
	p.docBytes = 0
	p.logger.Debug("aborted segment", "docs", p.numDocs)
}

// Aborted reports whether Abort was called.
func (p *PerThread) Aborted() bool {
	return p.aborted
}

// String returns a string representation of the PerThread.
func (p *PerThread) String() string {
	return fmt.Sprintf("DWPT(%s docs=%d bytes=%d)", p.name, p.numDocs, p.BytesUsed())
}
