// Package dwpt implements the per-thread indexing context: it buffers
// documents for one segment, applies deletes from the shared delete queue
// through its private slice and flushes the result as a segment blob.
package dwpt
