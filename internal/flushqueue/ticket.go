package flushqueue

import (
	"fmt"

	"github.com/hupe1980/ftindex/internal/segment"
	"github.com/hupe1980/ftindex/internal/updates"
)

type ticketKind uint8

const (
	kindDeletes ticketKind = iota
	kindSegment
)

func (k ticketKind) String() string {
	if k == kindDeletes {
		return "deletes"
	}
	return "segment"
}

// State is the lifecycle state of a ticket.
type State uint8

const (
	// Reserved tickets hold a place in the publication order.
	Reserved State = iota
	// Filled tickets carry their flush result (or failure).
	Filled
	// Published tickets have been handed to the publisher.
	Published
)

func (s State) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case Filled:
		return "filled"
	case Published:
		return "published"
	default:
		return "unknown"
	}
}

// Ticket is a place in the publication order.
//
// A deletes ticket only carries a frozen global packet and can be published
// immediately. A segment ticket becomes publishable once it is filled with
// its segment or marked failed. Tickets are filled by the flushing goroutine
// and read by the purging goroutine; the queue lock orders the two.
type Ticket struct {
	kind    ticketKind
	state   State
	global  *updates.Frozen
	segment *segment.FlushedSegment
	failed  bool
}

// GlobalUpdates returns the frozen global packet captured at reservation.
func (t *Ticket) GlobalUpdates() *updates.Frozen {
	return t.global
}

// Segment returns the flushed segment, or nil.
func (t *Ticket) Segment() *segment.FlushedSegment {
	return t.segment
}

// Failed reports whether the flush behind the ticket failed.
func (t *Ticket) Failed() bool {
	return t.failed
}

// State returns the lifecycle state.
func (t *Ticket) State() State {
	return t.state
}

func (t *Ticket) canPublish() bool {
	if t.kind == kindDeletes {
		return true
	}
	return t.state == Filled
}

// String returns a string representation of the Ticket.
func (t *Ticket) String() string {
	return fmt.Sprintf("Ticket(%s %s failed=%t)", t.kind, t.state, t.failed)
}
