package ftindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ftindex/blobstore"
	"github.com/hupe1980/ftindex/internal/commit"
	"github.com/hupe1980/ftindex/model"
)

func doc(id string, size int64) model.Document {
	return model.Document{Terms: []model.Term{model.NewTerm("id", id)}, Size: size}
}

func idTerm(id string) *model.Term {
	t := model.NewTerm("id", id)
	return &t
}

func totalDocs(segs []model.SegmentInfo) int {
	n := 0
	for _, s := range segs {
		n += s.DocCount
	}
	return n
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"thread states", WithMaxThreadStates(0)},
		{"ram buffer", WithRAMBufferSize(0)},
		{"delete bytes", WithMaxBufferedDeleteBytes(-1)},
		{"compression", WithCompression("brotli")},
		{"io limit", WithIOLimit(-1)},
		{"keep commits", WithKeepCommits(-1)},
		{"max buffered docs", WithMaxBufferedDocs(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestWriter_FlushPublishesSegment(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.AddDocument(ctx, doc("2", 10)))
	assert.Equal(t, 2, w.NumDocsInRAM())
	assert.True(t, w.AnyChanges())

	require.NoError(t, w.Flush(ctx))
	assert.Zero(t, w.NumDocsInRAM())
	assert.Zero(t, w.PendingTickets())
	assert.False(t, w.AnyChanges())

	segs := w.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, "_0", segs[0].Name)
	assert.Equal(t, 2, segs[0].DocCount)
	assert.Zero(t, segs[0].DelCount)
	assert.Equal(t, int64(1), segs[0].DelGen)

	stats := w.Stats()
	assert.Zero(t, stats.UpdatePackets, "no global deletes were buffered")
	assert.Equal(t, int64(2), stats.NextDelGen)
	assert.Zero(t, stats.RAMBytes)
}

func TestWriter_UpdateReplacesDocument(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.UpdateDocument(ctx, doc("1", 10), idTerm("1")))
	require.NoError(t, w.Flush(ctx))

	segs := w.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, 2, segs[0].DocCount)
	assert.Equal(t, 1, segs[0].DelCount)

	// The delete term also went into the global packet, which is published
	// ahead of the segment.
	stats := w.Stats()
	assert.Equal(t, 1, stats.UpdatePackets)
	assert.Equal(t, int64(2), segs[0].DelGen)
}

func TestWriter_DeletesPublishedOnTheirOwn(t *testing.T) {
	w, err := New()
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.Flush(ctx))

	require.NoError(t, w.DeleteTerms(ctx, model.NewTerm("id", "1")))
	require.NoError(t, w.DeleteQueries(ctx, model.TermQuery{Term: model.NewTerm("tag", "x")}))
	require.NoError(t, w.UpdateNumericDocValue(ctx, model.NewTerm("id", "1"), "price", 3))
	require.NoError(t, w.UpdateBinaryDocValue(ctx, model.NewTerm("id", "1"), "blob", []byte("v")))
	assert.True(t, w.AnyChanges())

	require.NoError(t, w.Flush(ctx))
	assert.False(t, w.AnyChanges())

	stats := w.Stats()
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, 1, stats.UpdatePackets)
	assert.Equal(t, int64(3), stats.NextDelGen)
}

func TestWriter_InvalidArguments(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	ctx := t.Context()

	err = w.AddDocument(ctx, model.Document{Terms: []model.Term{{Text: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 1, w.NumDocsInRAM(), "a rejected document still takes a doc id")

	assert.ErrorIs(t, w.UpdateDocument(ctx, doc("1", 1), &model.Term{Text: "1"}), ErrInvalidArgument)
	assert.ErrorIs(t, w.DeleteTerms(ctx, model.Term{Text: "1"}), ErrInvalidArgument)
	assert.ErrorIs(t, w.DeleteQueries(ctx, nil), ErrInvalidArgument)
	assert.ErrorIs(t, w.UpdateNumericDocValue(ctx, model.NewTerm("id", "1"), "", 1), ErrInvalidArgument)
	assert.ErrorIs(t, w.UpdateBinaryDocValue(ctx, model.Term{}, "f", nil), ErrInvalidArgument)

	require.NoError(t, w.Flush(ctx))
	segs := w.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, 1, segs[0].DelCount)
}

func TestWriter_FlushByRAM(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	w, err := New(WithRAMBufferSize(100), WithMetricsCollector(metrics))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.AddDocument(ctx, doc("1", 60)))
	assert.Empty(t, w.Segments())

	// Crossing the buffer flushes the context; with one context the backlog
	// rule publishes it right away.
	require.NoError(t, w.AddDocument(ctx, doc("2", 60)))
	segs := w.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, 2, segs[0].DocCount)
	assert.Zero(t, w.NumDocsInRAM())
	assert.Zero(t, w.PendingTickets())

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.DocumentCount)
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Equal(t, int64(2), stats.FlushDocs)
	assert.Equal(t, int64(1), stats.SegmentsPublished)
}

func TestWriter_ConcurrentIndexing(t *testing.T) {
	const (
		goroutines = 8
		perWorker  = 200
	)

	metrics := &BasicMetricsCollector{}
	w, err := New(
		WithMaxThreadStates(4),
		WithRAMBufferSize(2<<10),
		WithMaxConcurrentFlushes(2),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)

	ctx := t.Context()
	var g errgroup.Group
	for n := 0; n < goroutines; n++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("%d-%d", n, i%50)
				if err := w.UpdateDocument(ctx, doc(id, 32), idTerm(id)); err != nil {
					return err
				}
				if i%40 == 0 {
					if err := w.DeleteTerms(ctx, model.NewTerm("id", id)); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, w.Commit(ctx))

	segs := w.Segments()
	assert.Equal(t, goroutines*perWorker, totalDocs(segs))
	assert.LessOrEqual(t, w.Stats().ActiveThreadStates, 4)
	assert.Zero(t, w.NumDocsInRAM())
	assert.Zero(t, w.PendingTickets())
	assert.False(t, w.AnyChanges())

	// Delete generations strictly increase in publication order.
	for i := 1; i < len(segs); i++ {
		assert.Greater(t, segs[i].DelGen, segs[i-1].DelGen)
	}
	assert.Equal(t, int64(goroutines*perWorker), metrics.GetStats().DocumentCount)
	assert.Zero(t, metrics.GetStats().FlushErrors)
}

func TestWriter_CommitAndOpen(t *testing.T) {
	store := blobstore.NewLocalStore(t.TempDir())
	ctx := t.Context()

	w, err := New(WithBlobStore(store), WithCompression("zstd"))
	require.NoError(t, err)
	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.DeleteTerms(ctx, model.NewTerm("id", "0")))
	require.NoError(t, w.Close(ctx))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "_0.seg")
	assert.Contains(t, names, commit.CurrentFileName)
	assert.Contains(t, names, "COMMIT-000001.bin")

	reopened, err := Open(ctx, WithBlobStore(store))
	require.NoError(t, err)
	assert.Equal(t, w.Segments(), reopened.Segments())
	assert.Equal(t, uint64(1), reopened.Stats().CommitGen)

	before := reopened.Stats().NextDelGen
	require.NoError(t, reopened.AddDocument(ctx, doc("2", 10)))
	require.NoError(t, reopened.Commit(ctx))

	segs := reopened.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, "_1", segs[1].Name)
	assert.Equal(t, before, segs[1].DelGen)
	assert.Equal(t, uint64(2), reopened.Stats().CommitGen)
}

func TestWriter_KeepCommits(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := t.Context()

	w, err := New(WithBlobStore(store), WithKeepCommits(2))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.AddDocument(ctx, doc(fmt.Sprint(i), 10)))
		require.NoError(t, w.Commit(ctx))
	}

	gens, err := commit.NewStore(store, nil, 0).ListGens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, gens)

	reopened, err := Open(ctx, WithBlobStore(store))
	require.NoError(t, err)
	assert.Len(t, reopened.Segments(), 4)
}

func TestOpen_Empty(t *testing.T) {
	w, err := Open(t.Context())
	require.NoError(t, err)
	assert.Empty(t, w.Segments())
	assert.Zero(t, w.Stats().CommitGen)
}

func TestWriter_Close(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.Close(ctx))
	assert.Len(t, w.Segments(), 1)

	assert.ErrorIs(t, w.Close(ctx), ErrClosed)
	assert.ErrorIs(t, w.AddDocument(ctx, doc("2", 10)), ErrClosed)
	assert.ErrorIs(t, w.DeleteTerms(ctx, model.NewTerm("id", "1")), ErrClosed)
	assert.ErrorIs(t, w.Flush(ctx), ErrClosed)
	assert.ErrorIs(t, w.Commit(ctx), ErrClosed)
	assert.ErrorIs(t, w.Rollback(ctx), ErrClosed)
}

func TestWriter_Rollback(t *testing.T) {
	store := blobstore.NewMemoryStore()
	w, err := New(WithBlobStore(store))
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.DeleteTerms(ctx, model.NewTerm("id", "9")))
	require.NoError(t, w.Rollback(ctx))

	assert.Zero(t, w.NumDocsInRAM())
	assert.False(t, w.AnyChanges())
	assert.Zero(t, w.Stats().RAMBytes)
	assert.Zero(t, store.Len())
	assert.ErrorIs(t, w.AddDocument(ctx, doc("2", 10)), ErrClosed)
}

// failingStore fails every Put whose name has the given prefix.
type failingStore struct {
	blobstore.BlobStore
	prefix string
}

var errInjected = errors.New("injected")

func (s *failingStore) Put(ctx context.Context, name string, data []byte) error {
	if strings.HasPrefix(name, s.prefix) {
		return errInjected
	}
	return s.BlobStore.Put(ctx, name, data)
}

func TestWriter_PublishFailure(t *testing.T) {
	store := &failingStore{BlobStore: blobstore.NewMemoryStore(), prefix: commit.PacketFilePrefix}
	w, err := New(WithBlobStore(store))
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, w.DeleteTerms(ctx, model.NewTerm("id", "1")))
	err = w.Flush(ctx)
	assert.ErrorIs(t, err, ErrPublish)
	assert.ErrorIs(t, err, errInjected)
	assert.Zero(t, w.PendingTickets(), "the failed ticket was dequeued")
	assert.Zero(t, w.Stats().UpdatePackets)
}

func TestWriter_FlushFailureMarksTicketFailed(t *testing.T) {
	store := &failingStore{BlobStore: blobstore.NewMemoryStore(), prefix: "_"}
	metrics := &BasicMetricsCollector{}
	w, err := New(WithBlobStore(store), WithMetricsCollector(metrics))
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, w.UpdateDocument(ctx, doc("1", 10), idTerm("1")))
	err = w.Flush(ctx)
	assert.ErrorIs(t, err, errInjected)

	// The segment is lost but the global packet frozen with it is published.
	assert.Empty(t, w.Segments())
	assert.Equal(t, 1, w.Stats().UpdatePackets)
	assert.Zero(t, w.PendingTickets())
	assert.Zero(t, w.NumDocsInRAM())
	assert.Equal(t, int64(1), metrics.GetStats().FlushErrors)
}

func TestWriter_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w, err := New(WithLogger(logger))
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.AddDocument(ctx, doc("1", 10)))
	require.NoError(t, w.Commit(ctx))

	out := buf.String()
	assert.Contains(t, out, "flush completed")
	assert.Contains(t, out, "commit completed")
	assert.Contains(t, out, `"segment":"_0"`)
}

func TestWriter_FlushByDocCount(t *testing.T) {
	w, err := New(WithMaxThreadStates(1), WithMaxBufferedDocs(2))
	require.NoError(t, err)

	ctx := t.Context()
	for i := 0; i < 5; i++ {
		require.NoError(t, w.AddDocument(ctx, doc(fmt.Sprint(i), 10)))
	}

	segs := w.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, 2, segs[0].DocCount)
	assert.Equal(t, 2, segs[1].DocCount)
	assert.Equal(t, 1, w.NumDocsInRAM())
}

// blockingStore holds every Put whose name has the given prefix until
// release is closed.
type blockingStore struct {
	blobstore.BlobStore
	prefix  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(prefix string) *blockingStore {
	return &blockingStore{
		BlobStore: blobstore.NewMemoryStore(),
		prefix:    prefix,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *blockingStore) Put(ctx context.Context, name string, data []byte) error {
	if strings.HasPrefix(name, s.prefix) {
		s.once.Do(func() { close(s.entered) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.BlobStore.Put(ctx, name, data)
}

func (s *blockingStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(time.Second):
		t.Fatal("no blocked write started")
	}
}

func assertBlocked[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("%s returned while a flush was running: %v", what, v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriter_FullFlushWaitsForRunningFlush(t *testing.T) {
	tests := []struct {
		name   string
		finish func(w *Writer, ctx context.Context) error
	}{
		{"commit", (*Writer).Commit},
		{"close", (*Writer).Close},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newBlockingStore("_0")
			w, err := New(
				WithBlobStore(store),
				WithMaxConcurrentFlushes(2),
				WithRAMBufferSize(1000),
			)
			require.NoError(t, err)
			ctx := t.Context()

			// The first context crosses the RAM buffer and its segment write
			// hangs.
			added := make(chan error, 1)
			go func() { added <- w.AddDocument(ctx, doc("big", 5000)) }()
			store.waitEntered(t)
			assert.Equal(t, 1, w.Stats().FlushingContexts)

			require.NoError(t, w.AddDocument(ctx, doc("small", 10)))

			finished := make(chan error, 1)
			go func() { finished <- tt.finish(w, ctx) }()
			assertBlocked(t, finished, tt.name)

			close(store.release)
			require.NoError(t, <-finished)
			require.NoError(t, <-added)

			p, err := commit.NewStore(store, nil, 0).Load(ctx)
			require.NoError(t, err)
			assert.Len(t, p.Segments, 2)
			assert.Equal(t, 2, totalDocs(p.Segments))
			assert.Zero(t, w.PendingTickets())
			assert.Zero(t, w.Stats().FlushingContexts)
		})
	}
}

func TestWriter_RollbackWaitsForRunningFlush(t *testing.T) {
	store := newBlockingStore("_0")
	w, err := New(WithBlobStore(store), WithRAMBufferSize(1000))
	require.NoError(t, err)
	ctx := t.Context()

	added := make(chan error, 1)
	go func() { added <- w.AddDocument(ctx, doc("big", 5000)) }()
	store.waitEntered(t)

	rolledBack := make(chan error, 1)
	go func() { rolledBack <- w.Rollback(ctx) }()
	assertBlocked(t, rolledBack, "rollback")

	close(store.release)
	require.NoError(t, <-rolledBack)
	<-added

	assert.Zero(t, w.PendingTickets())
	assert.Zero(t, w.NumDocsInRAM())
	assert.Zero(t, w.Stats().FlushingContexts)
	names, err := store.List(ctx, commit.CommitFilePrefix)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWriter_StallsWhileFlushesHoldRAM(t *testing.T) {
	store := newBlockingStore("_0")
	metrics := &BasicMetricsCollector{}
	w, err := New(
		WithBlobStore(store),
		WithRAMBufferSize(1000),
		WithStallLimit(3000),
		WithMetricsCollector(metrics),
	)
	require.NoError(t, err)
	ctx := t.Context()

	added := make(chan error, 1)
	go func() { added <- w.AddDocument(ctx, doc("big", 5000)) }()
	store.waitEntered(t)
	require.True(t, w.Stats().Stalled)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	err = w.AddDocument(short, doc("late", 10))
	cancel()
	assert.ErrorIs(t, err, ErrInterrupted)

	stalled := make(chan error, 1)
	go func() { stalled <- w.AddDocument(ctx, doc("small", 10)) }()
	assertBlocked(t, stalled, "stalled add")

	close(store.release)
	require.NoError(t, <-stalled)
	require.NoError(t, <-added)
	assert.False(t, w.Stats().Stalled)

	require.NoError(t, w.Commit(ctx))
	assert.Equal(t, 2, totalDocs(w.Segments()))
	assert.GreaterOrEqual(t, metrics.GetStats().StallCount, int64(2))
}
