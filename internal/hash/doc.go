// Package hash provides the CRC32-Castagnoli checksums that guard every
// persisted blob.
//
// Blobs are sealed with a 4-byte little-endian footer:
//
//	blob := hash.Seal(body)
//	body, err := hash.Open(blob) // ErrChecksumMismatch on corruption
package hash
