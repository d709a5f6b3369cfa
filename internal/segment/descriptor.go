package segment

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/ftindex/blobstore"
	"github.com/hupe1980/ftindex/codec"
	"github.com/hupe1980/ftindex/internal/compress"
	"github.com/hupe1980/ftindex/internal/envelope"
	"github.com/hupe1980/ftindex/model"
)

// FileExtension is the suffix of segment descriptor blobs.
const FileExtension = ".seg"

// FileName returns the descriptor blob name of segment name.
func FileName(name string) string {
	return name + FileExtension
}

// Descriptor is the persisted form of a flushed segment: its key terms per
// document and the documents deleted at flush time.
type Descriptor struct {
	Name        string         `json:"name"`
	DocCount    int            `json:"doc_count"`
	DocTerms    [][]model.Term `json:"doc_terms"`
	DeletedDocs []byte         `json:"deleted_docs,omitempty"`
}

// Deleted decodes the deleted docs bitmap.
func (d *Descriptor) Deleted() (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(d.DeletedDocs) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(d.DeletedDocs); err != nil {
		return nil, fmt.Errorf("segment %s: decode deleted docs: %w", d.Name, err)
	}
	return bm, nil
}

// Writer persists descriptors to a blob store.
type Writer struct {
	Store       blobstore.BlobStore
	Codec       codec.Codec
	Compression compress.Type
}

// Write encodes d and stores it under FileName(d.Name). It returns the blob
// name and its size in bytes.
func (w *Writer) Write(ctx context.Context, d *Descriptor, deleted *roaring.Bitmap) (string, int, error) {
	if deleted != nil && !deleted.IsEmpty() {
		data, err := deleted.MarshalBinary()
		if err != nil {
			return "", 0, fmt.Errorf("segment %s: encode deleted docs: %w", d.Name, err)
		}
		d.DeletedDocs = data
	}
	blob, err := envelope.Marshal(w.Codec, w.Compression, d)
	if err != nil {
		return "", 0, fmt.Errorf("segment %s: %w", d.Name, err)
	}
	name := FileName(d.Name)
	if err := w.Store.Put(ctx, name, blob); err != nil {
		return "", 0, fmt.Errorf("segment %s: write: %w", d.Name, err)
	}
	return name, len(blob), nil
}

// Read loads the descriptor of segment name.
func Read(ctx context.Context, store blobstore.BlobStore, name string) (*Descriptor, error) {
	blob, err := store.Get(ctx, FileName(name))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := envelope.Unmarshal(blob, &d); err != nil {
		return nil, fmt.Errorf("segment %s: %w", name, err)
	}
	return &d, nil
}
