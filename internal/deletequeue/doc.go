// Package deletequeue implements the non-blocking log of pending deletes and
// doc-values updates shared by all indexing goroutines.
//
// # Architecture
//
//	sentinel -> n1 -> n2 -> n3 -> n4   (tail)
//	            ^           ^
//	  slice A:  head(excl)  tail(incl)
//	  global:   head ............. tail
//
// Appends are linked with CAS on the last node's next pointer; a goroutine
// that finds the tail pointer lagging swings it forward before retrying. The
// order of successful CASes is the single total order every consumer sees.
//
// # Document deletes
//
// A per-thread context finishes each document by advancing its slice. When
// the document carries a delete term, AddDocumentDelete appends the term and
// sets the slice tail to it in one step, so every equal delete appended later
// is ordered after the document.
//
// # Global buffer
//
// The global slice is drained into the global accumulator only when the
// global lock can be taken without waiting. FreezeGlobalBuffer takes the lock
// unconditionally and turns the accumulator into an immutable packet.
package deletequeue
