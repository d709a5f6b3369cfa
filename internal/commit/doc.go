// Package commit persists commit points and published update packets.
//
// # Blobs
//
//	COMMIT-NNNNNN.bin   commit point generation N
//	CURRENT             name of the active commit blob
//	updates-NNNNNN.bin  update packet (global or segment-private) with delete
//	                    generation N
//
// Every blob is written through the envelope format: codec-encoded,
// optionally compressed and sealed with a CRC32C footer.
//
// # Atomic Protocol
//
//  1. Write the commit blob COMMIT-NNNNNN.bin
//  2. Overwrite CURRENT with its name
//
// A crash between the two steps leaves the previous commit active. On local
// filesystems Put renames a temp file; on S3 overwrites are strongly
// consistent; with a DynamoDB commit store CURRENT is a conditional write.
//
// All Store methods are safe for concurrent use.
package commit
