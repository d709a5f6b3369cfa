package hash

import (
	"encoding/binary"
	"errors"
	"hash"
	"hash/crc32"
)

// ErrChecksumMismatch is returned when a blob's footer does not match its
// contents.
var ErrChecksumMismatch = errors.New("hash: checksum mismatch")

// FooterSize is the size of the checksum footer appended by Seal.
const FooterSize = 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// Seal appends the little-endian CRC32C of data to data.
func Seal(data []byte) []byte {
	return binary.LittleEndian.AppendUint32(data, CRC32C(data))
}

// Open verifies a blob written by Seal and returns its body.
func Open(blob []byte) ([]byte, error) {
	if len(blob) < FooterSize {
		return nil, ErrChecksumMismatch
	}
	body := blob[:len(blob)-FooterSize]
	want := binary.LittleEndian.Uint32(blob[len(body):])
	if CRC32C(body) != want {
		return nil, ErrChecksumMismatch
	}
	return body, nil
}
