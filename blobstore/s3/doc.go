// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("index/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	w, err := ftindex.New(ftindex.WithBlobStore(store))
//
// For concurrent writers sharing one prefix, wrap the store in a
// DDBCommitStore so the CURRENT commit pointer is updated with a DynamoDB
// conditional write.
//
// # Features
//
//   - Single-request puts with CRC32C validation for small blobs
//   - Multipart uploads for large blobs
//   - Automatic pagination for listing
package s3
