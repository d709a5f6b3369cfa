// Package ftindex implements the write side of a full-text indexing engine.
//
// Many goroutines add, update and delete documents at the same time. Each
// one works on its own per-thread context taken from a bounded pool, so
// document buffering needs no shared lock. Deletes and doc-values updates
// go through a lock-free queue that every context observes through a
// private slice, which makes an update (delete-then-add) atomic with
// respect to concurrent deletes. Flushed segments and frozen update packets
// are published strictly in the order their deletes were frozen.
//
// # Quick Start
//
//	ctx := context.Background()
//	w, _ := ftindex.New(ftindex.WithBlobStore(blobstore.NewLocalStore("./index")))
//
//	doc := model.Document{Terms: []model.Term{model.NewTerm("id", "42")}, Size: 512}
//	_ = w.UpdateDocument(ctx, doc, &doc.Terms[0]) // replace document 42
//	_ = w.DeleteTerms(ctx, model.NewTerm("id", "7"))
//
//	_ = w.Commit(ctx) // durable after this
//	_ = w.Close(ctx)
//
// Reopen the latest commit point with Open:
//
//	w, _ := ftindex.Open(ctx, ftindex.WithBlobStore(store))
//
// # Storage
//
// Segments, update packets and commit points are blobs in a
// blobstore.BlobStore: in memory, on the local filesystem, in MinIO or in
// S3 (optionally with a DynamoDB commit pointer). Blobs are encoded with a
// codec, compressed with LZ4 or Zstandard and carry a CRC32C footer.
//
// # Flushing
//
// A context is flushed by the goroutine that pushed it over the RAM buffer
// (WithRAMBufferSize) or by a full Flush/Commit. Concurrent flushes are
// bounded by WithMaxConcurrentFlushes and blob writes by WithIOLimit.
package ftindex
