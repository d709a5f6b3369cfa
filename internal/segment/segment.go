package segment

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/ftindex/internal/updates"
	"github.com/hupe1980/ftindex/model"
)

// FlushedSegment is the result of flushing one per-thread context.
type FlushedSegment struct {
	Info model.SegmentInfo

	// SegmentUpdates carries the deletes and doc-values updates that could
	// not be resolved at flush time. It may be nil.
	SegmentUpdates *updates.Frozen

	// DeletedDocs holds the segment-local doc ids deleted during flush.
	DeletedDocs *roaring.Bitmap
}

// LiveDocs returns the number of documents not deleted at flush time.
func (s *FlushedSegment) LiveDocs() int {
	if s.DeletedDocs == nil {
		return s.Info.DocCount
	}
	return s.Info.DocCount - int(s.DeletedDocs.GetCardinality())
}

// String returns a string representation of the FlushedSegment.
func (s *FlushedSegment) String() string {
	return fmt.Sprintf("FlushedSegment(%s live=%d)", s.Info, s.LiveDocs())
}
