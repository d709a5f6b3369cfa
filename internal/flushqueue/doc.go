// Package flushqueue orders the publication of flush results.
//
// Flushes of different per-thread contexts run concurrently and finish in
// any order, but their segments and delete packets must become visible in
// the order the packets were frozen. Every flush therefore reserves a
// Ticket first; purging publishes tickets strictly in reservation order.
//
//	AddFlushTicket -> flush runs -> AddSegment / MarkFailed -> purge
//
// A deletes ticket (AddDeletes) carries only a global packet and is always
// publishable.
package flushqueue
