// Package updates implements the buffered deletes/updates accumulator and its
// frozen snapshot.
//
// Every buffered entry carries an exclusive doc id bound ("limit"): the entry
// applies only to documents buffered before it was recorded. A per-thread
// accumulator uses the context's current doc count as the bound; the global
// accumulator uses MaxDocID because it applies to everything already flushed.
//
//	Buffered (mutable, single writer) --Freeze--> Frozen (immutable, shareable)
//
// Frozen packets receive their delete generation exactly once, at publication.
package updates
