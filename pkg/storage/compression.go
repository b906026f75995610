package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/blockdb/pkg/config"
)

var (
	// ErrUnknownCodec is returned when a chain names an unsupported codec
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when a record cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec is stored in the header flags of every block of a chain
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// CodecFromConfig maps a configured compression name to a Codec
func CodecFromConfig(c config.Compression) (Codec, error) {
	switch c {
	case config.CompressionNone, "":
		return CodecNone, nil
	case config.CompressionSnappy:
		return CodecSnappy, nil
	case config.CompressionZstd:
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
	}
}

// Compressor compresses and decompresses record buffers. The zstd codec
// objects are created on first use.
type Compressor struct {
	once        sync.Once
	initErr     error
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	mu          sync.Mutex
}

// NewCompressor creates a Compressor
func NewCompressor() *Compressor {
	return &Compressor{}
}

func (c *Compressor) initZstd() error {
	c.once.Do(func() {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			c.initErr = fmt.Errorf("failed to create ZSTD encoder: %w", err)
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			c.initErr = fmt.Errorf("failed to create ZSTD decoder: %w", err)
			return
		}
		c.zstdEncoder = enc
		c.zstdDecoder = dec
	})
	return c.initErr
}

// Compress compresses data using codec
func (c *Compressor) Compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecSnappy:
		return snappy.Encode(nil, data), nil

	case CodecZstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.zstdEncoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Decompress reverses Compress
func (c *Compressor) Decompress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil

	case CodecSnappy:
		result, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil

	case CodecZstd:
		if err := c.initZstd(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		result, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Close releases codec resources
func (c *Compressor) Close() {
	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
	}
}
