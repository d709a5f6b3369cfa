// Package model defines the value types shared by the indexing pipeline.
//
// # Deletion Types
//
//   - Term: a (field, text) pair; the unit of delete-by-term and update-by-term
//   - Query: anything that can select documents; identified by its Key
//   - NumericUpdate / BinaryUpdate: doc-values updates addressed by a Term
//
// # Segment Types
//
//   - Document: the opaque unit handed to a per-thread indexing context
//   - SegmentInfo: the published description of a flushed segment
package model
