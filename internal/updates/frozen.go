package updates

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/ftindex/model"
)

// TermDelete is a frozen delete-by-term.
type TermDelete struct {
	Term  model.Term `json:"term"`
	Limit int        `json:"limit"`
}

// QueryDelete is a frozen delete-by-query.
type QueryDelete struct {
	Query model.Query `json:"-"`
	Key   string      `json:"key"`
	Limit int         `json:"limit"`
}

// NumericEntry is a frozen numeric doc-values update.
type NumericEntry struct {
	Update model.NumericUpdate `json:"update"`
	Limit  int                 `json:"limit"`
}

// BinaryEntry is a frozen binary doc-values update.
type BinaryEntry struct {
	Update model.BinaryUpdate `json:"update"`
	Limit  int                `json:"limit"`
}

// Frozen is an immutable snapshot of a Buffered accumulator.
//
// A Frozen packet can be handed across goroutines without synchronization.
// The only mutable part is the delete generation, which is assigned exactly
// once when the packet is published.
type Frozen struct {
	terms          []TermDelete
	queries        []QueryDelete
	numeric        []NumericEntry
	binary         []BinaryEntry
	deletedDocs    *roaring.Bitmap
	segmentPrivate bool
	bytesUsed      int64
	numTermDeletes int64

	gen atomic.Int64
}

// Freeze snapshots b. The caller is expected to clear b afterwards.
//
// Segment-private packets carry what could not be resolved at flush time;
// term deletes must already have been applied to the segment.
func Freeze(b *Buffered, segmentPrivate bool) *Frozen {
	if segmentPrivate && len(b.terms) > 0 {
		panic("updates: segment private packet must not contain term deletes")
	}

	f := &Frozen{
		segmentPrivate: segmentPrivate,
		bytesUsed:      b.BytesUsed(),
		numTermDeletes: b.NumTermDeletes(),
	}
	f.gen.Store(-1)

	f.terms = make([]TermDelete, 0, len(b.terms))
	for term, limit := range b.terms {
		f.terms = append(f.terms, TermDelete{Term: term, Limit: limit})
	}
	slices.SortFunc(f.terms, func(a, b TermDelete) int {
		switch {
		case a.Term.Less(b.Term):
			return -1
		case b.Term.Less(a.Term):
			return 1
		default:
			return 0
		}
	})

	f.queries = make([]QueryDelete, 0, len(b.queries))
	for key, e := range b.queries {
		f.queries = append(f.queries, QueryDelete{Query: e.query, Key: key, Limit: e.limit})
	}
	slices.SortFunc(f.queries, func(a, b QueryDelete) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		default:
			return 0
		}
	})

	for _, field := range sortedKeys(b.numeric) {
		fu := b.numeric[field]
		for _, term := range fu.order {
			e := fu.byKey[term]
			f.numeric = append(f.numeric, NumericEntry{Update: e.update, Limit: e.limit})
		}
	}
	for _, field := range sortedKeys(b.binary) {
		fu := b.binary[field]
		for _, term := range fu.order {
			e := fu.byKey[term]
			f.binary = append(f.binary, BinaryEntry{Update: e.update, Limit: e.limit})
		}
	}

	if !b.docIDs.IsEmpty() {
		f.deletedDocs = b.docIDs.Clone()
	}
	return f
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Terms returns the frozen term deletes sorted by term.
func (f *Frozen) Terms() []TermDelete { return f.terms }

// Queries returns the frozen query deletes sorted by key.
func (f *Frozen) Queries() []QueryDelete { return f.queries }

// NumericUpdates returns the frozen numeric updates grouped by field.
func (f *Frozen) NumericUpdates() []NumericEntry { return f.numeric }

// BinaryUpdates returns the frozen binary updates grouped by field.
func (f *Frozen) BinaryUpdates() []BinaryEntry { return f.binary }

// DeletedDocs returns the deleted doc ids, or nil if there are none.
func (f *Frozen) DeletedDocs() *roaring.Bitmap { return f.deletedDocs }

// SegmentPrivate reports whether the packet belongs to a single segment.
func (f *Frozen) SegmentPrivate() bool { return f.segmentPrivate }

// BytesUsed returns the estimated RAM of the accumulator at freeze time.
func (f *Frozen) BytesUsed() int64 { return f.bytesUsed }

// NumTermDeletes returns the term delete counter at freeze time.
func (f *Frozen) NumTermDeletes() int64 { return f.numTermDeletes }

// Any reports whether the packet carries anything to apply.
func (f *Frozen) Any() bool {
	if f == nil {
		return false
	}
	return len(f.terms) > 0 || len(f.queries) > 0 || len(f.numeric) > 0 ||
		len(f.binary) > 0 || (f.deletedDocs != nil && !f.deletedDocs.IsEmpty())
}

// SetGen assigns the delete generation. It panics if a generation was
// already assigned.
func (f *Frozen) SetGen(gen int64) {
	if gen < 0 {
		panic(fmt.Sprintf("updates: invalid delete generation %d", gen))
	}
	if !f.gen.CompareAndSwap(-1, gen) {
		panic(fmt.Sprintf("updates: delete generation already set to %d", f.gen.Load()))
	}
}

// Gen returns the delete generation, or -1 if unpublished.
func (f *Frozen) Gen() int64 { return f.gen.Load() }

// String returns a short summary of the packet.
func (f *Frozen) String() string {
	return fmt.Sprintf("Frozen(gen=%d terms=%d queries=%d numeric=%d binary=%d private=%t)",
		f.Gen(), len(f.terms), len(f.queries), len(f.numeric), len(f.binary), f.segmentPrivate)
}
