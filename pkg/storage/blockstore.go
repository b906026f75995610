package storage

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/stats"
)

var (
	// ErrRead is returned when a block cannot be read in full
	ErrRead = errors.New("block read error")
	// ErrWrite is returned when a block cannot be written
	ErrWrite = errors.New("block write error")
)

// File is the subset of *os.File a BlockStore needs
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
}

// BlockStore reads and writes whole blocks at offset n*blockSize.
// It never issues partial-block writes.
type BlockStore struct {
	file      File
	blockSize int
	verify    bool
	sync      bool
	stats     stats.Collector
}

// NewBlockStore wraps an open file
func NewBlockStore(file File, blockSize int, verify, sync bool, collector stats.Collector) *BlockStore {
	return &BlockStore{
		file:      file,
		blockSize: blockSize,
		verify:    verify,
		sync:      sync,
		stats:     collector,
	}
}

// BlockSize returns the fixed size of every block
func (s *BlockStore) BlockSize() int {
	return s.blockSize
}

// WriteBlock encodes b and writes it as block n
func (s *BlockStore) WriteBlock(n uint32, b *block.Block) error {
	raw, err := b.Encode(s.blockSize)
	if err != nil {
		return fmt.Errorf("%w: block %d: %v", ErrWrite, n, err)
	}

	written, err := s.file.WriteAt(raw, int64(n)*int64(s.blockSize))
	if err != nil {
		s.stats.TrackError("write_error")
		return fmt.Errorf("%w: block %d: %v", ErrWrite, n, err)
	}
	if written != len(raw) {
		s.stats.TrackError("write_error")
		return fmt.Errorf("%w: block %d: wrote %d of %d bytes", ErrWrite, n, written, len(raw))
	}

	if s.sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync after block %d: %v", ErrWrite, n, err)
		}
	}

	s.stats.TrackBytes(true, uint64(written))
	return nil
}

// ReadBlock reads exactly one block
func (s *BlockStore) ReadBlock(n uint32) (*block.Block, error) {
	raw, err := s.readRaw(n)
	if err != nil {
		return nil, err
	}

	b, err := block.Decode(raw, s.verify)
	if err != nil {
		if errors.Is(err, block.ErrChecksum) {
			s.stats.TrackError("checksum_error")
		}
		return nil, fmt.Errorf("%w: block %d: %w", ErrRead, n, err)
	}
	return b, nil
}

// ReadHeader reads block n and returns only its header, without checksum
// verification
func (s *BlockStore) ReadHeader(n uint32) (block.Header, error) {
	raw, err := s.readRaw(n)
	if err != nil {
		return block.Header{}, err
	}
	return block.DecodeHeader(raw)
}

func (s *BlockStore) readRaw(n uint32) ([]byte, error) {
	raw := make([]byte, s.blockSize)
	read, err := s.file.ReadAt(raw, int64(n)*int64(s.blockSize))
	if read != len(raw) {
		s.stats.TrackError("read_error")
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: block %d: read %d of %d bytes: %v", ErrRead, n, read, len(raw), err)
	}
	s.stats.TrackBytes(false, uint64(read))
	return raw, nil
}

// BlockCount returns the file length divided by the block size
func (s *BlockStore) BlockCount() (uint32, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat: %v", ErrRead, err)
	}
	return uint32(info.Size() / int64(s.blockSize)), nil
}

// Sync flushes the file to stable storage
func (s *BlockStore) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrWrite, err)
	}
	return nil
}

// Close closes the underlying file
func (s *BlockStore) Close() error {
	return s.file.Close()
}
