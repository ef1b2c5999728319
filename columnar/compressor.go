package columnar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v4"
)

// CompressionType identifies the compression algorithm a column's encoded
// vector was written with.
type CompressionType byte

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionLZ4
	CompressionZSTD
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Compressor compresses and decompresses one column's raw value-vector
// bytes. Implementations must be safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	Decompress(data []byte) (io.ReadCloser, error)
	Type() CompressionType
}

// SupportsCompressor reports whether this build has a Compressor
// implementation for t. Used by projection.New to validate a schema.
func SupportsCompressor(t CompressionType) bool {
	switch t {
	case CompressionNone, CompressionSnappy, CompressionLZ4, CompressionZSTD:
		return true
	default:
		return false
	}
}

// NewCompressor returns the Compressor implementation for t, or an error if
// t is not supported by this build.
func NewCompressor(t CompressionType) (Compressor, error) {
	switch t {
	case CompressionNone:
		return &NoCompressor{}, nil
	case CompressionSnappy:
		return &SnappyCompressor{}, nil
	case CompressionLZ4:
		return &LZ4Compressor{}, nil
	case CompressionZSTD:
		return NewZSTDCompressor(), nil
	default:
		return nil, fmt.Errorf("columnar: unsupported compression type %v", t)
	}
}

// NoCompressor passes data through unchanged. Used by tests and for columns
// too small to benefit from a real codec.
type NoCompressor struct{}

var _ Compressor = (*NoCompressor)(nil)

func (c *NoCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (c *NoCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}

func (c *NoCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *NoCompressor) Type() CompressionType { return CompressionNone }

// SnappyCompressor implements Compressor using Snappy block format.
type SnappyCompressor struct{}

var _ Compressor = (*SnappyCompressor)(nil)

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Write(snappy.Encode(nil, src))
	return nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return io.NopCloser(bytes.NewReader(decompressed)), nil
}

func (c *SnappyCompressor) Type() CompressionType { return CompressionSnappy }

// LZ4Compressor implements Compressor using LZ4 block format.
type LZ4Compressor struct{}

var _ Compressor = (*LZ4Compressor)(nil)

// lz4HeaderSize is the width of the uncompressed-length prefix written
// ahead of every LZ4 block. The pierrec/lz4 block API doesn't carry the
// original size, and UncompressBlock needs a destination sized to fit
// exactly, so the size travels alongside the block instead of being
// rediscovered by a grow-and-retry loop.
const lz4HeaderSize = 4

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	tmp := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, tmp, nil)
	if err != nil {
		return fmt.Errorf("lz4 CompressTo: %w", err)
	}
	if n == 0 && len(src) > 0 {
		return fmt.Errorf("lz4 compression produced zero bytes for non-empty input")
	}
	var header [lz4HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(src)))
	dst.Write(header[:])
	dst.Write(tmp[:n])
	return nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if len(data) < lz4HeaderSize {
		return nil, fmt.Errorf("lz4 decompress: block shorter than header")
	}
	uncompressedSize := binary.BigEndian.Uint32(data[:lz4HeaderSize])
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[lz4HeaderSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if uint32(n) != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: size mismatch, header said %d, got %d", uncompressedSize, n)
	}
	return io.NopCloser(bytes.NewReader(dst[:n])), nil
}

func (c *LZ4Compressor) Type() CompressionType { return CompressionLZ4 }

// ZSTDCompressor implements Compressor using zstd, pooling encoders and
// decoders to avoid per-column allocation on hot ingest paths.
type ZSTDCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ Compressor = (*ZSTDCompressor)(nil)

func NewZSTDCompressor() *ZSTDCompressor {
	return &ZSTDCompressor{
		encoderPool: sync.Pool{
			New: func() any {
				enc, err := zstd.NewWriter(nil)
				if err != nil {
					return nil
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() any {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64*1024*1024))
				if err != nil {
					return nil
				}
				return dec
			},
		},
	}
}

func (c *ZSTDCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *ZSTDCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	encAny := c.encoderPool.Get()
	enc, ok := encAny.(*zstd.Encoder)
	if !ok || enc == nil {
		return fmt.Errorf("zstd: failed to acquire encoder")
	}
	defer c.encoderPool.Put(enc)

	dst.Reset()
	enc.Reset(dst)
	if _, err := enc.Write(src); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd compress: %w", err)
	}
	return enc.Close()
}

func (c *ZSTDCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decAny := c.decoderPool.Get()
	dec, ok := decAny.(*zstd.Decoder)
	if !ok || dec == nil {
		return nil, fmt.Errorf("zstd: failed to acquire decoder")
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZSTDCompressor) Type() CompressionType { return CompressionZSTD }

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (z *zstdReadCloser) Close() error {
	z.pool.Put(z.Decoder)
	return nil
}
