package deletequeue

import (
	"slices"
	"sync/atomic"

	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

type nodeKind uint8

const (
	kindSentinel nodeKind = iota
	kindTerm
	kindTerms
	kindQueries
	kindNumericUpdate
	kindBinaryUpdate
)

func (k nodeKind) String() string {
	switch k {
	case kindSentinel:
		return "sentinel"
	case kindTerm:
		return "term"
	case kindTerms:
		return "terms"
	case kindQueries:
		return "queries"
	case kindNumericUpdate:
		return "numeric"
	case kindBinaryUpdate:
		return "binary"
	default:
		return "unknown"
	}
}

// node is a single log entry. Everything but next is immutable after
// construction; next is set at most once, by CAS from nil.
type node struct {
	next atomic.Pointer[node]

	kind    nodeKind
	term    model.Term
	terms   []model.Term
	queries []model.Query
	numeric model.NumericUpdate
	binary  model.BinaryUpdate
}

func newSentinel() *node {
	return &node{kind: kindSentinel}
}

func newTermNode(term model.Term) *node {
	return &node{kind: kindTerm, term: term}
}

func newTermsNode(terms []model.Term) *node {
	return &node{kind: kindTerms, terms: slices.Clone(terms)}
}

func newQueriesNode(queries []model.Query) *node {
	return &node{kind: kindQueries, queries: slices.Clone(queries)}
}

func newNumericNode(u model.NumericUpdate) *node {
	return &node{kind: kindNumericUpdate, numeric: u}
}

func newBinaryNode(u model.BinaryUpdate) *node {
	u.Value = slices.Clone(u.Value)
	return &node{kind: kindBinaryUpdate, binary: u}
}

// casNext links n to next. It fails if n already has a successor.
func (n *node) casNext(next *node) bool {
	return n.next.CompareAndSwap(nil, next)
}

func (n *node) apply(acc *updates.Buffered, docIDUpto int) {
	switch n.kind {
	case kindTerm:
		acc.AddTerm(n.term, docIDUpto)
	case kindTerms:
		for _, t := range n.terms {
			acc.AddTerm(t, docIDUpto)
		}
	case kindQueries:
		for _, q := range n.queries {
			acc.AddQuery(q, docIDUpto)
		}
	case kindNumericUpdate:
		acc.AddNumericUpdate(n.numeric, docIDUpto)
	case kindBinaryUpdate:
		acc.AddBinaryUpdate(n.binary, docIDUpto)
	case kindSentinel:
		panic("deletequeue: sentinel node must never be applied")
	default:
		panic("deletequeue: unknown node kind " + n.kind.String())
	}
}
