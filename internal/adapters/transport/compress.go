package transport

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how upload bodies are encoded.
type Compression uint8

// Supported compressions.
const (
	CompressionNone Compression = iota
	CompressionZstd
)

// maxDecodedBody caps a decompressed upload.
const maxDecodedBody = 8 << 20

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ContentEncoding is the HTTP Content-Encoding value, empty for none.
func (c Compression) ContentEncoding() string {
	if c == CompressionZstd {
		return "zstd"
	}
	return ""
}

// ParseCompression parses "none" or "zstd". Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one of
// each serves every request.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() { //nolint:gochecknoinits // shared codec instances
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBody))
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode compresses data with c.
func Encode(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, c)
	}
}

// Decode reverses Encode for the given Content-Encoding header value.
func Decode(contentEncoding string, data []byte) ([]byte, error) {
	switch contentEncoding {
	case "", "identity":
		return data, nil
	case "zstd":
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, contentEncoding)
	}
}
