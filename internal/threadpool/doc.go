// Package threadpool provides a bounded pool of lockable holders, each
// binding one per-thread indexing context.
//
// A goroutine that wants to index acquires a holder, works on the bound
// context while it holds the holder's lock and releases it afterwards.
// Holders are recycled LIFO, preferring one with an initialized context, and
// Acquire blocks (interruptibly) only when every holder is in use and the
// capacity is exhausted.
package threadpool
