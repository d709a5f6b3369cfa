// Package segment defines the flushed segment handed from a per-thread
// context to the publish side, and the descriptor blob persisted for it.
//
// A descriptor records the key terms of every buffered document in doc id
// order plus the roaring bitmap of documents deleted at flush time. Postings
// and stored fields are out of scope; the descriptor is what the delete and
// update machinery needs to resolve term deletes against the segment.
package segment
