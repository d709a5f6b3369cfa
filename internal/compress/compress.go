// Package compress frames blobs with an optional LZ4 or ZSTD compressed body.
//
// Frame format:
//
//	[Type uint8][UncompressedSize uint32][CompressedSize uint32][Data...]
//
// CompressedSize == 0 means Data is stored uncompressed. The type byte makes
// every frame self-describing, so readers do not need to know the writer's
// configuration.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores data as is.
	None Type = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Type = 1
	// ZSTD uses ZSTD compression (better ratio).
	ZSTD Type = 2
)

// String returns the stable name of the type.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType returns the type with the given stable name.
func ParseType(name string) (Type, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

var (
	// ErrUnknownType is returned for an unsupported compression type.
	ErrUnknownType = errors.New("compress: unknown type")
	// ErrCorrupt is returned when a frame cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt frame")
)

const headerSize = 9

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Encode frames data, compressing it with t when that saves at least 10%.
func Encode(data []byte, t Type) ([]byte, error) {
	var (
		compressed []byte
		err        error
	)
	switch t {
	case None:
	case LZ4:
		compressed, err = encodeLZ4(data)
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		putZstdEncoder(enc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		out[0] = byte(None)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[5:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible.
		return nil, nil
	}
	return buf[:n], nil
}

// Decode returns the payload of a frame written by Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: frame too small for header", ErrCorrupt)
	}
	t := Type(frame[0])
	uncompressedSize := binary.LittleEndian.Uint32(frame[1:])
	compressedSize := binary.LittleEndian.Uint32(frame[5:])

	if compressedSize == 0 {
		if uint32(len(frame)-headerSize) < uncompressedSize {
			return nil, fmt.Errorf("%w: data too small", ErrCorrupt)
		}
		return frame[headerSize : headerSize+int(uncompressedSize)], nil
	}
	if uint32(len(frame)-headerSize) < compressedSize {
		return nil, fmt.Errorf("%w: compressed data too small", ErrCorrupt)
	}

	body := frame[headerSize : headerSize+int(compressedSize)]
	out := make([]byte, uncompressedSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)
		decoded, err := dec.DecodeAll(body, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}
