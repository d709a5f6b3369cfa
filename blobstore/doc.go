// Package blobstore provides the storage abstraction for persisted index
// blobs (segment descriptors, update packets, commit points).
//
// BlobStore implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and ephemeral indexes
//   - LocalStore: local filesystem with atomic rename
//   - minio.Store: MinIO and S3-compatible storage
//   - s3.Store: Amazon S3 with multipart uploads for large blobs
//   - s3.DDBCommitStore: S3 plus a DynamoDB conditional-write commit pointer
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Put(ctx, name, data) error
//	    Get(ctx, name) ([]byte, error)
//	    List(ctx, prefix) ([]string, error)
//	    Delete(ctx, name) error
//	}
package blobstore
