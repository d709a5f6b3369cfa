package ftindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ftindex/internal/commit"
	"github.com/hupe1980/ftindex/internal/deletequeue"
	"github.com/hupe1980/ftindex/internal/dwpt"
	"github.com/hupe1980/ftindex/internal/flushqueue"
	"github.com/hupe1980/ftindex/internal/resource"
	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/threadpool"
	"github.com/hupe1980/ftindex/model"
)

// Writer buffers documents and deletes from many goroutines and flushes
// them as segments.
//
// Every indexing goroutine works on its own context acquired from a bounded
// pool; deletes go through a shared lock-free queue so each context sees
// exactly the deletes issued after it buffered a document. Flushed segments
// and update packets are published in the order their deletes were frozen.
//
// All methods are safe for concurrent use.
type Writer struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector
	rc      *resource.Controller

	segWriter *segment.Writer
	commits   *commit.Store

	deleteQueue *deletequeue.Queue
	pool        *threadpool.Pool[*dwpt.PerThread]
	flushQueue  *flushqueue.Queue
	pub         *publisher
	fc          *flushControl

	segmentCounter atomic.Int64
	numDocsInRAM   atomic.Int64
	closed         atomic.Bool

	// flushMu serializes full flushes, commits and close.
	flushMu sync.Mutex

	// mu guards the published state.
	mu         sync.Mutex
	segments   []model.SegmentInfo
	packets    []commit.PacketRef
	nextDelGen int64
	commitGen  uint64
}

// New creates an empty Writer.
//
// Example:
//
//	w, err := ftindex.New(
//	    ftindex.WithMaxThreadStates(4),
//	    ftindex.WithRAMBufferSize(32<<20),
//	    ftindex.WithBlobStore(blobstore.NewLocalStore("./index")),
//	)
func New(optFns ...Option) (*Writer, error) {
	o, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}
	return newWriter(o, nil)
}

// Open creates a Writer that continues from the latest commit point in the
// configured blob store. Without a commit point it behaves like New.
func Open(ctx context.Context, optFns ...Option) (*Writer, error) {
	o, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}
	p, err := commit.NewStore(o.store, o.codec, o.compression).Load(ctx)
	if err != nil {
		if !errors.Is(err, commit.ErrNotFound) {
			return nil, fmt.Errorf("open: %w", err)
		}
		p = nil
	}
	return newWriter(o, p)
}

func newWriter(o options, p *commit.Point) (*Writer, error) {
	pool, err := threadpool.New[*dwpt.PerThread](o.maxThreadStates)
	if err != nil {
		return nil, translateError(err)
	}

	w := &Writer{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
		rc:      o.resourceController,
		segWriter: &segment.Writer{
			Store:       o.store,
			Codec:       o.codec,
			Compression: o.compression,
		},
		commits:    commit.NewStore(o.store, o.codec, o.compression),
		pool:       pool,
		flushQueue: flushqueue.New(o.logger.Logger),
		fc:         newFlushControl(o.stallLimit),
		nextDelGen: 1,
	}
	w.pub = &publisher{w: w}

	var gen int64
	if p != nil {
		w.segments = slices.Clone(p.Segments)
		w.packets = slices.Clone(p.UpdatePackets)
		w.nextDelGen = p.NextDelGen
		w.commitGen = p.Gen
		w.segmentCounter.Store(p.NextSegment)
		gen = int64(p.Gen)
		w.logger.Info("opened commit point", "gen", p.Gen, "segments", len(p.Segments))
	}
	w.deleteQueue = deletequeue.NewWithGeneration(gen)

	return w, nil
}

func (w *Writer) nextSegmentName() string {
	return "_" + strconv.FormatInt(w.segmentCounter.Add(1)-1, 36)
}

// AddDocument buffers doc.
func (w *Writer) AddDocument(ctx context.Context, doc model.Document) error {
	return w.UpdateDocument(ctx, doc, nil)
}

// UpdateDocument buffers doc and, if delTerm is non-nil, atomically deletes
// every earlier document carrying delTerm.
//
// The call waits while running flushes hold more RAM than the stall limit,
// and for a free indexing context if all are in use. When the context
// exceeds the RAM buffer or the buffered document limit it is flushed by
// this goroutine before the call returns.
func (w *Writer) UpdateDocument(ctx context.Context, doc model.Document, delTerm *model.Term) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	defer func() {
		w.metrics.RecordDocument(time.Since(start), err)
	}()

	if delTerm != nil && delTerm.Field == "" {
		return fmt.Errorf("%w: delete term %q has an empty field", ErrInvalidArgument, delTerm.Text)
	}

	waited, err := w.fc.waitIfStalled(ctx)
	if waited {
		w.metrics.RecordStall(time.Since(start))
	}
	if err != nil {
		return err
	}

	acquireStart := time.Now()
	ts, err := w.pool.Acquire(ctx)
	if err != nil {
		return translateError(err)
	}
	w.metrics.RecordAcquireWait(time.Since(acquireStart))

	if !ts.IsInitialized() {
		name := w.nextSegmentName()
		ts.Bind(dwpt.New(name, w.deleteQueue, w.segWriter, w.rc, w.logger.Logger))
	}
	p := ts.Context()

	before := p.BytesUsed()
	docErr := p.UpdateDocument(doc, delTerm)
	w.numDocsInRAM.Add(1)

	if delta := p.BytesUsed() - before; delta > 0 {
		w.fc.addActive(delta)
		if rerr := w.rc.ReserveRAM(delta); rerr != nil {
			// Hard limit reached: flush this context now.
			ts.SetFlushPending()
		} else {
			ts.AddBytes(delta)
		}
	}
	if ts.BytesUsed() >= w.opts.ramBufferSize {
		ts.SetFlushPending()
	}
	if n := w.opts.maxBufferedDocs; n > 0 && p.NumDocs() >= n {
		ts.SetFlushPending()
	}

	var toFlush *detached
	if ts.FlushPending() {
		d := w.detach(ts)
		toFlush = &d
	}
	w.pool.Release(ts)

	if docErr != nil {
		err = translateError(docErr)
	}
	if toFlush != nil {
		ferr := w.flushOne(ctx, *toFlush)
		if ferr == nil {
			ferr = w.purge(ctx, w.flushQueue.TicketCount() >= w.pool.NumActive())
		}
		err = errors.Join(err, ferr)
	}
	return err
}

// DeleteTerms deletes every buffered or published document carrying any
// of terms.
func (w *Writer) DeleteTerms(ctx context.Context, terms ...model.Term) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	defer func() { w.metrics.RecordDelete(len(terms), err) }()

	for _, t := range terms {
		if t.Field == "" {
			return fmt.Errorf("%w: delete term %q has an empty field", ErrInvalidArgument, t.Text)
		}
	}
	w.deleteQueue.AddDelete(terms...)
	return w.applyDeletesIfNeeded(ctx)
}

// DeleteQueries deletes every buffered or published document matching any
// of queries.
func (w *Writer) DeleteQueries(ctx context.Context, queries ...model.Query) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	defer func() { w.metrics.RecordDelete(len(queries), err) }()

	for _, q := range queries {
		if q == nil {
			return fmt.Errorf("%w: nil query", ErrInvalidArgument)
		}
	}
	w.deleteQueue.AddQueryDelete(queries...)
	return w.applyDeletesIfNeeded(ctx)
}

// UpdateNumericDocValue sets field to value on every document carrying term.
func (w *Writer) UpdateNumericDocValue(ctx context.Context, term model.Term, field string, value int64) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	defer func() { w.metrics.RecordDelete(1, err) }()

	if term.Field == "" || field == "" {
		return fmt.Errorf("%w: numeric update needs a term field and a target field", ErrInvalidArgument)
	}
	w.deleteQueue.AddNumericUpdate(model.NumericUpdate{Term: term, Field: field, Value: value})
	return w.applyDeletesIfNeeded(ctx)
}

// UpdateBinaryDocValue sets field to value on every document carrying term.
func (w *Writer) UpdateBinaryDocValue(ctx context.Context, term model.Term, field string, value []byte) (err error) {
	if w.closed.Load() {
		return ErrClosed
	}
	defer func() { w.metrics.RecordDelete(1, err) }()

	if term.Field == "" || field == "" {
		return fmt.Errorf("%w: binary update needs a term field and a target field", ErrInvalidArgument)
	}
	w.deleteQueue.AddBinaryUpdate(model.BinaryUpdate{Term: term, Field: field, Value: value})
	return w.applyDeletesIfNeeded(ctx)
}

// applyDeletesIfNeeded publishes the global delete buffer on its own once
// it holds more than the configured RAM.
func (w *Writer) applyDeletesIfNeeded(ctx context.Context) error {
	if w.deleteQueue.BytesUsed() < w.opts.maxBufferedDeleteBytes {
		return nil
	}
	w.logger.DebugContext(ctx, "applying buffered deletes", "bytes", w.deleteQueue.BytesUsed())
	w.flushQueue.AddDeletes(w.deleteQueue)
	return w.purge(ctx, true)
}

// detached is a context taken off its thread state for flushing. held is
// the RAM reserved for it, bytes the RAM it accounts in flush control.
type detached struct {
	p     *dwpt.PerThread
	held  int64
	bytes int64
}

// detach takes the context off ts and registers it as flushing. The
// caller holds the lock of ts.
func (w *Writer) detach(ts *threadpool.ThreadState[*dwpt.PerThread]) detached {
	held := ts.BytesUsed()
	p := w.pool.Reset(ts)
	d := detached{p: p, held: held, bytes: p.BytesUsed()}
	w.fc.flushStarted(d.bytes)
	return d
}

// flushOne reserves a ticket for d, flushes it and fills the ticket.
func (w *Writer) flushOne(ctx context.Context, d detached) error {
	t, err := w.flushQueue.AddFlushTicket(d.p)
	if err != nil {
		w.retire(d)
		return fmt.Errorf("flush %s: %w", d.p.SegmentName(), err)
	}
	return w.flushTicket(ctx, t, d)
}

// flushTicket flushes d into t. The context is retired only after t is
// filled, so waiters on flush control see the ticket publishable.
func (w *Writer) flushTicket(ctx context.Context, t *flushqueue.Ticket, d detached) error {
	defer w.retire(d)

	p := d.p

	start := time.Now()
	seg, err := w.flushContext(ctx, p)
	w.metrics.RecordFlush(p.NumDocs(), time.Since(start), err)
	w.logger.LogFlush(ctx, p.SegmentName(), p.NumDocs(), time.Since(start), err)
	if err != nil {
		w.flushQueue.MarkFailed(t)
		return fmt.Errorf("flush %s: %w", p.SegmentName(), err)
	}
	w.flushQueue.AddSegment(t, seg)
	return nil
}

func (w *Writer) flushContext(ctx context.Context, p *dwpt.PerThread) (*segment.FlushedSegment, error) {
	if err := w.rc.AcquireFlushSlot(ctx); err != nil {
		p.Abort()
		return nil, err
	}
	defer w.rc.ReleaseFlushSlot()
	return p.Flush(ctx)
}

// retire releases the RAM of a flushed or dropped context.
func (w *Writer) retire(d detached) {
	w.rc.ReleaseRAM(d.held)
	w.numDocsInRAM.Add(-int64(d.p.NumDocs()))
	w.fc.flushDone(d.bytes)
}

// purge publishes the ready head of the flush queue. A forced purge waits
// for a concurrent one.
func (w *Writer) purge(ctx context.Context, force bool) error {
	var (
		n   int
		err error
	)
	if force {
		n, err = w.flushQueue.ForcePurge(ctx, w.pub)
	} else {
		n, err = w.flushQueue.TryPurge(ctx, w.pub)
	}
	if n > 0 || err != nil {
		w.metrics.RecordPurge(n, err)
	}
	w.logger.LogPurge(ctx, n, w.flushQueue.TicketCount(), err)
	return translateError(err)
}

// Flush flushes every buffered document and publishes all buffered deletes.
func (w *Writer) Flush(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return w.flushAll(ctx)
}

func (w *Writer) flushAll(ctx context.Context) error {
	var contexts []detached
	// Idle holders retired by Close still carry their contexts, so every
	// allocated holder is visited.
	for i := 0; i < w.pool.NumActive(); i++ {
		ts := w.pool.ThreadState(i)
		ts.Lock()
		if ts.IsInitialized() {
			contexts = append(contexts, w.detach(ts))
		}
		w.pool.Unlock(ts)
	}

	// Reserve in order; the flushes themselves run concurrently.
	var (
		g       errgroup.Group
		prepErr error
	)
	for _, d := range contexts {
		t, err := w.flushQueue.AddFlushTicket(d.p)
		if err != nil {
			w.retire(d)
			prepErr = errors.Join(prepErr, fmt.Errorf("flush %s: %w", d.p.SegmentName(), err))
			continue
		}
		g.Go(func() error {
			return w.flushTicket(ctx, t, d)
		})
	}
	flushErr := g.Wait()

	// Per-document flushes still running hold tickets reserved before ours.
	if err := w.fc.waitForFlush(ctx); err != nil {
		return errors.Join(prepErr, flushErr, err)
	}

	if w.deleteQueue.AnyChanges() {
		w.flushQueue.AddDeletes(w.deleteQueue)
	}
	purgeErr := w.purge(ctx, true)

	w.logger.DebugContext(ctx, "full flush completed",
		"contexts", len(contexts),
		"pending", w.flushQueue.TicketCount(),
		"flush_control", w.fc.String(),
	)
	return errors.Join(prepErr, flushErr, purgeErr)
}

// Commit flushes everything and persists a commit point referencing every
// published segment and update packet.
func (w *Writer) Commit(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return w.commitLocked(ctx)
}

func (w *Writer) commitLocked(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		w.metrics.RecordCommit(time.Since(start), err)
	}()

	if err := w.flushAll(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	p := &commit.Point{
		Gen:           w.commitGen,
		Segments:      slices.Clone(w.segments),
		UpdatePackets: slices.Clone(w.packets),
		NextDelGen:    w.nextDelGen,
		NextSegment:   w.segmentCounter.Load(),
	}
	w.mu.Unlock()

	size, err := w.commits.Save(ctx, p)
	w.logger.LogCommit(ctx, p.Gen, len(p.Segments), err)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := w.rc.AcquireIO(ctx, size); err != nil {
		return err
	}

	w.mu.Lock()
	w.commitGen = p.Gen
	w.mu.Unlock()

	w.pruneCommits(ctx, p.Gen)
	return nil
}

// pruneCommits deletes commit points beyond the configured retention. The
// latest commit is durable already, so failures are only logged.
func (w *Writer) pruneCommits(ctx context.Context, latest uint64) {
	keep := w.opts.keepCommits
	if keep == 0 {
		return
	}
	gens, err := w.commits.ListGens(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "list commit points failed", "error", err)
		return
	}
	for len(gens) > keep {
		gen := gens[0]
		gens = gens[1:]
		if gen >= latest {
			break
		}
		if err := w.commits.DeleteGen(ctx, gen); err != nil {
			w.logger.WithGen(int64(gen)).WarnContext(ctx, "delete commit point failed", "error", err)
			continue
		}
		w.logger.WithGen(int64(gen)).DebugContext(ctx, "deleted commit point")
	}
}

// Close commits and closes the writer. Goroutines waiting for an indexing
// context fail with ErrClosed; documents buffered by calls still in flight
// are part of the final commit once those calls return.
func (w *Writer) Close(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.pool.DeactivateUnreleased()
	w.fc.close()
	err := w.commitLocked(ctx)
	w.logger.InfoContext(ctx, "writer closed", "error", err)
	return err
}

// Rollback discards every buffered document, delete and pending ticket and
// closes the writer without committing.
func (w *Writer) Rollback(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.pool.DeactivateUnreleased()
	w.fc.close()
	aborted := 0
	for i := 0; i < w.pool.NumActive(); i++ {
		ts := w.pool.ThreadState(i)
		ts.Lock()
		if ts.IsInitialized() {
			held := ts.BytesUsed()
			p := w.pool.Reset(ts)
			bytes := p.BytesUsed()
			p.Abort()
			w.rc.ReleaseRAM(held)
			w.numDocsInRAM.Add(-int64(p.NumDocs()))
			w.fc.dropActive(bytes)
			aborted++
		}
		w.pool.Unlock(ts)
	}

	// Flushes already running fill tickets that are dropped below.
	err := w.fc.waitForFlush(ctx)
	w.flushQueue.Clear()
	w.deleteQueue.Clear()

	w.logger.InfoContext(ctx, "writer rolled back", "aborted_contexts", aborted, "error", err)
	return err
}

// NumDocsInRAM returns the number of buffered documents not yet flushed.
func (w *Writer) NumDocsInRAM() int {
	return int(w.numDocsInRAM.Load())
}

// AnyChanges reports whether anything is buffered or waiting to be
// published.
func (w *Writer) AnyChanges() bool {
	return w.numDocsInRAM.Load() > 0 || w.deleteQueue.AnyChanges() || w.flushQueue.HasTickets()
}

// Segments returns the published segments in publication order.
func (w *Writer) Segments() []model.SegmentInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.segments)
}

// PendingTickets returns the number of flush tickets not yet published.
func (w *Writer) PendingTickets() int {
	return w.flushQueue.TicketCount()
}

// Stats is a point-in-time snapshot of a Writer.
type Stats struct {
	NumDocsInRAM       int
	RAMBytes           int64
	ActiveThreadStates int
	Segments           int
	UpdatePackets      int
	PendingTickets     int
	GlobalDeleteTerms  int64
	NextDelGen         int64
	CommitGen          uint64
	FlushingContexts   int
	FlushingBytes      int64
	Stalled            bool
}

// Stats returns a snapshot of the writer's state.
func (w *Writer) Stats() Stats {
	flushing, flushingBytes := w.fc.flushing()
	stalled := w.fc.isStalled()

	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		NumDocsInRAM:       w.NumDocsInRAM(),
		RAMBytes:           w.rc.RAMUsage(),
		ActiveThreadStates: w.pool.NumActive(),
		Segments:           len(w.segments),
		UpdatePackets:      len(w.packets),
		PendingTickets:     w.flushQueue.TicketCount(),
		GlobalDeleteTerms:  w.deleteQueue.NumGlobalTermDeletes(),
		NextDelGen:         w.nextDelGen,
		CommitGen:          w.commitGen,
		FlushingContexts:   flushing,
		FlushingBytes:      flushingBytes,
		Stalled:            stalled,
	}
}
