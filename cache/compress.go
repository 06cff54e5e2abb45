package cache

import (
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression algorithm for cache payloads.
type Compression uint8

const (
	// CompressionZSTD favors ratio (embedding payloads compress well).
	// It is the zero value and the default.
	CompressionZSTD Compression = iota
	// CompressionLZ4 favors speed (hot, short-lived payloads).
	CompressionLZ4
	// CompressionNone disables compression; payloads are framed raw.
	CompressionNone
)

// DefaultCompressThreshold is the payload size above which compression is
// attempted.
const DefaultCompressThreshold = 1024

// Payload frame: [uncompressedSize u32 LE][compressedSize u32 LE][data].
// compressedSize == 0 means the data is stored raw.
const frameHeaderSize = 8

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

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Codec frames and optionally compresses cache payloads.
type Codec struct {
	algo      Compression
	threshold int
}

// NewCodec creates a codec. threshold <= 0 uses DefaultCompressThreshold.
func NewCodec(algo Compression, threshold int) *Codec {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &Codec{algo: algo, threshold: threshold}
}

// Encode frames raw, compressing it when it exceeds the threshold and the
// result is actually smaller (ratio below 0.9); otherwise the
// payload is framed uncompressed.
func (c *Codec) Encode(raw []byte) []byte {
	if c.algo != CompressionNone && len(raw) > c.threshold {
		if compressed := c.compress(raw); compressed != nil && float64(len(compressed)) <= float64(len(raw))*0.9 {
			out := make([]byte, frameHeaderSize+len(compressed))
			binary.LittleEndian.PutUint32(out, uint32(len(raw)))
			binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
			copy(out[frameHeaderSize:], compressed)
			return out
		}
	}

	out := make([]byte, frameHeaderSize+len(raw))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[4:], 0)
	copy(out[frameHeaderSize:], raw)
	return out
}

// Decode unframes a payload. Any inconsistency (truncated header, bad
// compressed block, size mismatch) degrades to returning the input bytes
// unmodified; a cache read never fails on payload shape.
func (c *Codec) Decode(data []byte) []byte {
	if len(data) < frameHeaderSize {
		return data
	}

	uncompressedSize := binary.LittleEndian.Uint32(data)
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	body := data[frameHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return data
		}
		return body
	}

	if uint32(len(body)) != compressedSize {
		return data
	}
	out := c.decompress(body, int(uncompressedSize))
	if out == nil {
		return data
	}
	return out
}

func (c *Codec) compress(raw []byte) []byte {
	switch c.algo {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil || n == 0 {
			return nil // incompressible
		}
		return buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, nil)
	default:
		return nil
	}
}

func (c *Codec) decompress(body []byte, uncompressedSize int) []byte {
	switch c.algo {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil || n != uncompressedSize {
			return nil
		}
		return out
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, uncompressedSize))
		if err != nil || len(out) != uncompressedSize {
			return nil
		}
		return out
	default:
		return nil
	}
}
