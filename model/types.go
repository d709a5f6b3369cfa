package model

import (
	"fmt"
)

// Term is the (field, text) pair used to address documents.
// Terms are comparable and are used directly as map keys.
type Term struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// NewTerm returns the term field:text.
func NewTerm(field, text string) Term {
	return Term{Field: field, Text: text}
}

// String returns a string representation of the Term.
func (t Term) String() string {
	return t.Field + ":" + t.Text
}

// Size returns the approximate number of bytes held by the term.
func (t Term) Size() int {
	return len(t.Field) + len(t.Text)
}

// Less orders terms by field, then by text.
func (t Term) Less(other Term) bool {
	if t.Field != other.Field {
		return t.Field < other.Field
	}
	return t.Text < other.Text
}

// Query selects a set of documents for deletion.
//
// Two queries with the same Key are considered equal; a later delete with an
// equal query replaces the earlier one.
type Query interface {
	Key() string
}

// TermQuery matches every document carrying Term.
type TermQuery struct {
	Term Term
}

// Key implements Query.
func (q TermQuery) Key() string {
	return "term(" + q.Term.String() + ")"
}

// NumericUpdate sets Field to Value on every document carrying Term.
type NumericUpdate struct {
	Term  Term   `json:"term"`
	Field string `json:"field"`
	Value int64  `json:"value"`
}

// Size returns the approximate number of bytes held by the update.
func (u NumericUpdate) Size() int {
	return u.Term.Size() + len(u.Field) + 8
}

// BinaryUpdate sets Field to Value on every document carrying Term.
type BinaryUpdate struct {
	Term  Term   `json:"term"`
	Field string `json:"field"`
	Value []byte `json:"value"`
}

// Size returns the approximate number of bytes held by the update.
func (u BinaryUpdate) Size() int {
	return u.Term.Size() + len(u.Field) + len(u.Value)
}

// Document is the opaque unit indexed by a per-thread context.
//
// Terms are the key terms the caller extracted from the document (for example
// its primary id). They are the only part of a document the write path looks
// at: buffered term deletes are resolved against them at flush time.
type Document struct {
	Terms []Term
	// Size is the caller's estimate of the RAM the document occupies once
	// buffered. It drives flush-by-RAM decisions.
	Size int64
}

// SegmentInfo describes a flushed segment.
type SegmentInfo struct {
	Name     string   `json:"name"`
	DocCount int      `json:"doc_count"`
	DelCount int      `json:"del_count"`
	Files    []string `json:"files"`
	// DelGen is the delete generation assigned when the segment was published.
	// Frozen update packets with a larger generation apply to it.
	DelGen int64 `json:"del_gen"`
}

// String returns a string representation of the SegmentInfo.
func (s SegmentInfo) String() string {
	return fmt.Sprintf("Seg(%s docs=%d dels=%d gen=%d)", s.Name, s.DocCount, s.DelCount, s.DelGen)
}
