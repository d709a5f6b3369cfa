package deletequeue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

// Queue is a non-blocking, append-only log of pending deletes and updates.
//
// Only the tail is maintained. Every consumer (each per-thread context and the
// global buffer) keeps its own Slice over a suffix of the log; nodes no slice
// can reach are reclaimed by the garbage collector.
//
// Appends never block each other. The global accumulator is drained
// opportunistically: every append tries the global lock and skips the drain
// if another goroutine holds it.
type Queue struct {
	tail atomic.Pointer[node]

	globalMu      sync.Mutex
	globalSlice   *Slice
	globalUpdates *updates.Buffered

	generation int64
}

// New returns an empty queue with generation 0.
func New() *Queue {
	return NewWithGeneration(0)
}

// NewWithGeneration returns an empty queue tagged with generation.
func NewWithGeneration(generation int64) *Queue {
	return newQueue(updates.NewBuffered(), generation)
}

func newQueue(global *updates.Buffered, generation int64) *Queue {
	// The sentinel is never applied: slices always omit their head.
	sentinel := newSentinel()
	q := &Queue{
		globalUpdates: global,
		generation:    generation,
		globalSlice:   &Slice{head: sentinel, tail: sentinel},
	}
	q.tail.Store(sentinel)
	return q
}

// AddDelete appends a delete of every document carrying any of terms.
func (q *Queue) AddDelete(terms ...model.Term) {
	q.add(newTermsNode(terms))
	q.tryApplyGlobalSlice()
}

// AddQueryDelete appends a delete of every document matching any of queries.
func (q *Queue) AddQueryDelete(queries ...model.Query) {
	q.add(newQueriesNode(queries))
	q.tryApplyGlobalSlice()
}

// AddNumericUpdate appends a numeric doc-values update.
func (q *Queue) AddNumericUpdate(u model.NumericUpdate) {
	q.add(newNumericNode(u))
	q.tryApplyGlobalSlice()
}

// AddBinaryUpdate appends a binary doc-values update.
func (q *Queue) AddBinaryUpdate(u model.BinaryUpdate) {
	q.add(newBinaryNode(u))
	q.tryApplyGlobalSlice()
}

// AddDocumentDelete appends the delete term of the document being indexed and
// moves slice's tail to exactly that node.
//
// Any equal delete appended after this call is ordered after the document
// and therefore wins over it.
func (q *Queue) AddDocumentDelete(term model.Term, slice *Slice) {
	n := newTermNode(term)
	q.add(n)
	slice.tail = n
	if slice.head == slice.tail {
		panic("deletequeue: slice head and tail must differ after add")
	}
	q.tryApplyGlobalSlice()
}

// add links n after the current tail.
func (q *Queue) add(n *node) {
	for {
		currentTail := q.tail.Load()
		tailNext := currentTail.next.Load()
		if q.tail.Load() != currentTail {
			continue
		}
		if tailNext != nil {
			// Another append linked a node but has not swung the tail yet.
			q.tail.CompareAndSwap(currentTail, tailNext)
			continue
		}
		if currentTail.casNext(n) {
			// Failure is fine: somebody helped us.
			q.tail.CompareAndSwap(currentTail, n)
			return
		}
	}
}

// currentTail returns the last linked node, advancing a lagging tail pointer.
func (q *Queue) currentTail() *node {
	for {
		t := q.tail.Load()
		next := t.next.Load()
		if next == nil {
			return t
		}
		q.tail.CompareAndSwap(t, next)
	}
}

// NewSlice returns an empty slice positioned at the current tail.
func (q *Queue) NewSlice() *Slice {
	t := q.currentTail()
	return &Slice{head: t, tail: t}
}

// UpdateSlice moves slice's tail to the current tail. It reports whether the
// slice moved.
func (q *Queue) UpdateSlice(slice *Slice) bool {
	t := q.currentTail()
	if slice.tail != t {
		slice.tail = t
		return true
	}
	return false
}

func (q *Queue) tryApplyGlobalSlice() {
	if !q.globalMu.TryLock() {
		return
	}
	defer q.globalMu.Unlock()
	if q.UpdateSlice(q.globalSlice) {
		q.globalSlice.Apply(q.globalUpdates, updates.MaxDocID)
	}
}

// ForceApplyGlobalSlice drains the log into the global accumulator, waiting
// for the global lock.
func (q *Queue) ForceApplyGlobalSlice() {
	q.globalMu.Lock()
	defer q.globalMu.Unlock()
	if q.UpdateSlice(q.globalSlice) {
		q.globalSlice.Apply(q.globalUpdates, updates.MaxDocID)
	}
}

// FreezeGlobalBuffer drains the log into the global accumulator, snapshots it
// and clears it. If callerSlice is non-nil its tail is moved to the same
// point so the caller can apply exactly the deletes preceding the packet.
func (q *Queue) FreezeGlobalBuffer(callerSlice *Slice) *updates.Frozen {
	q.globalMu.Lock()
	defer q.globalMu.Unlock()

	// Anything appended after this point belongs to the next packet.
	currentTail := q.currentTail()
	if callerSlice != nil {
		callerSlice.tail = currentTail
	}
	if q.globalSlice.tail != currentTail {
		q.globalSlice.tail = currentTail
		q.globalSlice.Apply(q.globalUpdates, updates.MaxDocID)
	}

	packet := updates.Freeze(q.globalUpdates, false)
	q.globalUpdates.Clear()
	return packet
}

// AnyChanges reports whether the queue holds anything not yet frozen.
func (q *Queue) AnyChanges() bool {
	q.globalMu.Lock()
	defer q.globalMu.Unlock()
	t := q.tail.Load()
	return q.globalUpdates.Any() ||
		!q.globalSlice.IsEmpty() ||
		q.globalSlice.tail != t ||
		t.next.Load() != nil
}

// Clear drops every buffered global update and resets the global slice to the
// current tail. Per-thread slices are unaffected.
func (q *Queue) Clear() {
	q.globalMu.Lock()
	defer q.globalMu.Unlock()
	t := q.currentTail()
	q.globalSlice.head = t
	q.globalSlice.tail = t
	q.globalUpdates.Clear()
}

// NumGlobalTermDeletes returns the number of term deletes in the global
// accumulator.
func (q *Queue) NumGlobalTermDeletes() int64 {
	return q.globalUpdates.NumTermDeletes()
}

// BytesUsed returns the RAM held by the global accumulator.
func (q *Queue) BytesUsed() int64 {
	return q.globalUpdates.BytesUsed()
}

// Generation returns the queue's generation.
func (q *Queue) Generation() int64 {
	return q.generation
}

// String returns a string representation of the Queue.
func (q *Queue) String() string {
	return fmt.Sprintf("DeleteQueue(gen=%d)", q.generation)
}
