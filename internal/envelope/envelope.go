// Package envelope wraps persisted values in a self-describing blob:
//
//	Seal(compress.Encode([NameLen uint8][CodecName][Payload]))
//
// The codec name travels inside the compressed frame and the whole blob is
// guarded by a CRC32C footer.
package envelope

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ftindex/codec"
	"github.com/hupe1980/ftindex/internal/compress"
	"github.com/hupe1980/ftindex/internal/hash"
)

// ErrUnknownCodec is returned when a blob names a codec this build does not
// know.
var ErrUnknownCodec = errors.New("envelope: unknown codec")

// Marshal encodes v with c and compresses the result with t.
func Marshal(c codec.Codec, t compress.Type, v any) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	payload, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal with %s: %w", c.Name(), err)
	}
	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("envelope: codec name %q too long", name)
	}
	body := make([]byte, 0, 1+len(name)+len(payload))
	body = append(body, byte(len(name)))
	body = append(body, name...)
	body = append(body, payload...)

	frame, err := compress.Encode(body, t)
	if err != nil {
		return nil, err
	}
	return hash.Seal(frame), nil
}

// Unmarshal verifies blob and decodes it into v with the codec it names.
func Unmarshal(blob []byte, v any) error {
	frame, err := hash.Open(blob)
	if err != nil {
		return err
	}
	body, err := compress.Decode(frame)
	if err != nil {
		return err
	}
	if len(body) < 1 || len(body) < 1+int(body[0]) {
		return fmt.Errorf("%w: truncated codec name", compress.ErrCorrupt)
	}
	name := string(body[1 : 1+int(body[0])])
	c, ok := codec.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c.Unmarshal(body[1+int(body[0]):], v)
}
