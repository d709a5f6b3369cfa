package deletequeue

import (
	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

// Slice is a consumer's cursor over the log: head is exclusive, tail is
// inclusive. A slice is confined to one goroutine and needs no locking.
type Slice struct {
	head *node
	tail *node
}

// Apply applies every node after head up to and including tail to acc,
// bounded by docIDUpto, then collapses the slice to empty.
func (s *Slice) Apply(acc *updates.Buffered, docIDUpto int) {
	if s.head == s.tail {
		return
	}
	// A non-empty slice has at least one linked node after its head.
	for current := s.head; current != s.tail; {
		current = current.next.Load()
		if current == nil {
			panic("deletequeue: slice property violated, nil node between head and tail")
		}
		current.apply(acc, docIDUpto)
	}
	s.Reset()
}

// Reset collapses the slice to zero length at its tail.
func (s *Slice) Reset() {
	s.head = s.tail
}

// IsEmpty reports whether the slice has no pending nodes.
func (s *Slice) IsEmpty() bool {
	return s.head == s.tail
}

// IsTailItem reports whether the slice ends with the document delete of term.
func (s *Slice) IsTailItem(term model.Term) bool {
	return s.tail.kind == kindTerm && s.tail.term == term
}

// Len returns the number of pending nodes.
func (s *Slice) Len() int {
	n := 0
	for current := s.head; current != s.tail; current = current.next.Load() {
		n++
	}
	return n
}
