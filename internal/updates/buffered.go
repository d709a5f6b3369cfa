package updates

import (
	"math"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/ftindex/model"
)

// MaxDocID is the doc id bound used for updates that apply to every document
// buffered so far (the global buffer).
const MaxDocID = math.MaxInt32

// Rough per-entry RAM costs used for flush-by-RAM accounting.
const (
	bytesPerDelTerm      = 64
	bytesPerDelQuery     = 32
	bytesPerDelDocID     = 4
	bytesPerFieldEntry   = 48
	bytesPerUpdatesEntry = 40
)

type queryEntry struct {
	query model.Query
	limit int
}

type numericEntry struct {
	update model.NumericUpdate
	limit  int
}

type binaryEntry struct {
	update model.BinaryUpdate
	limit  int
}

// fieldUpdates keeps updates for a single field in insertion order. A
// replaced entry moves to the end.
type fieldUpdates[E any] struct {
	order []model.Term
	byKey map[model.Term]E
}

func newFieldUpdates[E any]() *fieldUpdates[E] {
	return &fieldUpdates[E]{byKey: make(map[model.Term]E)}
}

func (f *fieldUpdates[E]) put(term model.Term, e E, replaced bool) {
	if replaced {
		for i, t := range f.order {
			if t == term {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	f.order = append(f.order, term)
	f.byKey[term] = e
}

// Buffered accumulates deletes and doc-values updates together with the
// exclusive doc id bound each one applies to.
//
// A Buffered is not safe for concurrent mutation. The global instance owned by
// the delete queue is guarded by the queue's global lock; per-thread instances
// are confined to the goroutine holding the thread state. BytesUsed may be read
// concurrently.
type Buffered struct {
	terms   map[model.Term]int
	queries map[string]queryEntry
	numeric map[string]*fieldUpdates[numericEntry]
	binary  map[string]*fieldUpdates[binaryEntry]
	docIDs  *roaring.Bitmap

	numTermDeletes    atomic.Int64
	numNumericUpdates atomic.Int64
	numBinaryUpdates  atomic.Int64
	bytesUsed         atomic.Int64
}

// NewBuffered returns an empty accumulator.
func NewBuffered() *Buffered {
	return &Buffered{
		terms:   make(map[model.Term]int),
		queries: make(map[string]queryEntry),
		numeric: make(map[string]*fieldUpdates[numericEntry]),
		binary:  make(map[string]*fieldUpdates[binaryEntry]),
		docIDs:  roaring.New(),
	}
}

// AddTerm records a delete of term for docs below docIDUpto.
//
// If the term is already buffered with a larger bound the call is ignored:
// when several goroutines replace the same document at nearly the same time
// the one holding the higher doc id may be applied first, and lowering the
// bound would leave both documents live.
func (b *Buffered) AddTerm(term model.Term, docIDUpto int) {
	current, ok := b.terms[term]
	if ok && docIDUpto < current {
		return
	}
	b.terms[term] = docIDUpto
	// Replacements are counted too.
	b.numTermDeletes.Add(1)
	if !ok {
		b.bytesUsed.Add(int64(bytesPerDelTerm + term.Size()))
	}
}

// AddQuery records a delete of every document matching query below docIDUpto.
func (b *Buffered) AddQuery(query model.Query, docIDUpto int) {
	key := query.Key()
	_, ok := b.queries[key]
	b.queries[key] = queryEntry{query: query, limit: docIDUpto}
	if !ok {
		b.bytesUsed.Add(int64(bytesPerDelQuery + len(key)))
	}
}

// AddNumericUpdate records a numeric doc-values update below docIDUpto.
func (b *Buffered) AddNumericUpdate(update model.NumericUpdate, docIDUpto int) {
	fu, ok := b.numeric[update.Field]
	if !ok {
		fu = newFieldUpdates[numericEntry]()
		b.numeric[update.Field] = fu
		b.bytesUsed.Add(bytesPerFieldEntry)
	}
	current, exists := fu.byKey[update.Term]
	if exists && docIDUpto < current.limit {
		return
	}
	fu.put(update.Term, numericEntry{update: update, limit: docIDUpto}, exists)
	b.numNumericUpdates.Add(1)
	if !exists {
		b.bytesUsed.Add(int64(bytesPerUpdatesEntry + update.Size()))
	}
}

// AddBinaryUpdate records a binary doc-values update below docIDUpto.
func (b *Buffered) AddBinaryUpdate(update model.BinaryUpdate, docIDUpto int) {
	fu, ok := b.binary[update.Field]
	if !ok {
		fu = newFieldUpdates[binaryEntry]()
		b.binary[update.Field] = fu
		b.bytesUsed.Add(bytesPerFieldEntry)
	}
	current, exists := fu.byKey[update.Term]
	if exists && docIDUpto < current.limit {
		return
	}
	fu.put(update.Term, binaryEntry{update: update, limit: docIDUpto}, exists)
	b.numBinaryUpdates.Add(1)
	if !exists {
		b.bytesUsed.Add(int64(bytesPerUpdatesEntry + update.Size()))
	}
}

// AddDocID marks a single segment-local document as deleted.
func (b *Buffered) AddDocID(docID uint32) {
	if b.docIDs.CheckedAdd(docID) {
		b.bytesUsed.Add(bytesPerDelDocID)
	}
}

// TermLimit returns the bound buffered for term.
func (b *Buffered) TermLimit(term model.Term) (int, bool) {
	limit, ok := b.terms[term]
	return limit, ok
}

// QueryLimit returns the bound buffered for the query with the given key.
func (b *Buffered) QueryLimit(key string) (int, bool) {
	e, ok := b.queries[key]
	return e.limit, ok
}

// NumTerms returns the number of distinct buffered delete terms.
func (b *Buffered) NumTerms() int { return len(b.terms) }

// NumQueries returns the number of distinct buffered delete queries.
func (b *Buffered) NumQueries() int { return len(b.queries) }

// NumTermDeletes returns the number of term deletes recorded, including
// replacements.
func (b *Buffered) NumTermDeletes() int64 { return b.numTermDeletes.Load() }

// NumNumericUpdates returns the number of numeric updates recorded.
func (b *Buffered) NumNumericUpdates() int64 { return b.numNumericUpdates.Load() }

// NumBinaryUpdates returns the number of binary updates recorded.
func (b *Buffered) NumBinaryUpdates() int64 { return b.numBinaryUpdates.Load() }

// DeletedDocIDs returns the bitmap of deleted segment-local doc ids.
// The bitmap is owned by b.
func (b *Buffered) DeletedDocIDs() *roaring.Bitmap { return b.docIDs }

// BytesUsed returns the estimated RAM held by the buffered entries.
func (b *Buffered) BytesUsed() int64 { return b.bytesUsed.Load() }

// Any reports whether anything is buffered.
func (b *Buffered) Any() bool {
	return len(b.terms) > 0 || len(b.queries) > 0 || !b.docIDs.IsEmpty() ||
		len(b.numeric) > 0 || len(b.binary) > 0
}

// ClearTerms drops buffered term deletes once they have been resolved.
func (b *Buffered) ClearTerms() {
	for term := range b.terms {
		b.bytesUsed.Add(-int64(bytesPerDelTerm + term.Size()))
	}
	clear(b.terms)
	b.numTermDeletes.Store(0)
}

// ClearDocIDs drops the deleted doc ids once they have been resolved.
func (b *Buffered) ClearDocIDs() {
	b.bytesUsed.Add(-int64(b.docIDs.GetCardinality()) * bytesPerDelDocID)
	b.docIDs.Clear()
}

// Clear drops everything buffered.
func (b *Buffered) Clear() {
	clear(b.terms)
	clear(b.queries)
	clear(b.numeric)
	clear(b.binary)
	b.docIDs.Clear()
	b.numTermDeletes.Store(0)
	b.numNumericUpdates.Store(0)
	b.numBinaryUpdates.Store(0)
	b.bytesUsed.Store(0)
}
