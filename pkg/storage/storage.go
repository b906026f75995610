// Package storage implements the block file underneath a database: whole
// block I/O, the free-block allocator and the chained record codec.
package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/config"
	"github.com/KevoDB/blockdb/pkg/stats"
)

var (
	// ErrChecksum is returned when a block fails checksum verification
	ErrChecksum = block.ErrChecksum

	// ErrExists is returned by Create when the file already exists
	ErrExists = errors.New("storage file already exists")

	// ErrNotFound is returned by Open when the file does not exist
	ErrNotFound = errors.New("storage file not found")
)

// BlockVisitor is called for every block in block-number order
type BlockVisitor func(n uint32, b *block.Block) bool

// BlockIterator is implemented by anything that can walk raw blocks
type BlockIterator interface {
	Each(visit BlockVisitor) error
}

// Options configures a Storage
type Options struct {
	BlockSize       int
	Codec           Codec
	VerifyChecksums bool
	SyncWrites      bool
	Logger          log.Logger
	Stats           stats.Collector
}

// OptionsFromConfig derives storage options from the database configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	codec, err := CodecFromConfig(cfg.Compression)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BlockSize:       cfg.BlockSize,
		Codec:           codec,
		VerifyChecksums: cfg.VerifyChecksums,
		SyncWrites:      cfg.SyncWrites,
	}, nil
}

func (o *Options) setDefaults() error {
	if o.BlockSize == 0 {
		o.BlockSize = config.DefaultBlockSize
	}
	if block.PayloadCapacity(o.BlockSize) <= 0 {
		return fmt.Errorf("%w: %d", block.ErrBlockSize, o.BlockSize)
	}
	if o.Logger == nil {
		o.Logger = log.GetDefaultLogger().WithField("component", "storage")
	}
	if o.Stats == nil {
		o.Stats = stats.NewAtomicCollector()
	}
	return nil
}

// Storage is a single block file with its allocator and record codec
type Storage struct {
	path       string
	store      *BlockStore
	alloc      *Allocator
	compressor *Compressor
	codec      Codec
	logger     log.Logger
	stats      stats.Collector
}

// Create creates a new, empty block file at path
func Create(path string, opts Options) (*Storage, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("%w: create %s: %v", ErrWrite, path, err)
	}

	s := newStorage(path, file, opts)
	// Block 0 is reserved for the meta record before anything else is written
	s.alloc.markUsed(MetaBlock)
	return s, nil
}

// Open opens an existing block file and rebuilds its free set
func Open(path string, opts Options) (*Storage, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrRead, path, err)
	}

	return OpenFile(path, file, opts)
}

// OpenFile wraps an already open file. It is used by Open and by tests that
// inject a File.
func OpenFile(path string, file File, opts Options) (*Storage, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	s := newStorage(path, file, opts)
	s.alloc.markUsed(MetaBlock)
	if err := s.rebuildFreeSet(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func newStorage(path string, file File, opts Options) *Storage {
	store := NewBlockStore(file, opts.BlockSize, opts.VerifyChecksums, opts.SyncWrites, opts.Stats)
	return &Storage{
		path:       path,
		store:      store,
		alloc:      NewAllocator(store, opts.Logger, opts.Stats),
		compressor: NewCompressor(),
		codec:      opts.Codec,
		logger:     opts.Logger,
		stats:      opts.Stats,
	}
}

func (s *Storage) rebuildFreeSet() error {
	count, err := s.store.BlockCount()
	if err != nil {
		return err
	}
	for n := uint32(1); n < count; n++ {
		h, err := s.store.ReadHeader(n)
		if err != nil {
			return err
		}
		if h.Type == block.TypeFree || h.Type == block.TypeUnknown {
			s.alloc.AddFree(n)
		}
	}
	if s.alloc.Len() > 0 {
		s.logger.Debug("rebuilt free set: %d of %d blocks free", s.alloc.Len(), count)
	}
	return nil
}

// Path returns the file path
func (s *Storage) Path() string {
	return s.path
}

// BlockSize returns the fixed block size
func (s *Storage) BlockSize() int {
	return s.store.BlockSize()
}

// PayloadCapacity returns the payload bytes available per block
func (s *Storage) PayloadCapacity() int {
	return block.PayloadCapacity(s.store.BlockSize())
}

// BlockCount returns the number of blocks in the file
func (s *Storage) BlockCount() (uint32, error) {
	return s.store.BlockCount()
}

// Reserve takes a block number for a record that will be saved later
// with StorageInfo.Fresh set
func (s *Storage) Reserve() (uint32, error) {
	return s.alloc.TakeFreeBlock()
}

// Release returns an unused reservation to the free set
func (s *Storage) Release(n uint32) {
	s.alloc.AddFree(n)
}

// NextFreeBlockNumber reports where the next allocation will land
func (s *Storage) NextFreeBlockNumber() (uint32, error) {
	return s.alloc.NextFreeBlockNumber()
}

// ReleaseChain frees every block of the chain starting at head
func (s *Storage) ReleaseChain(head uint32) (int, error) {
	return s.alloc.ReleaseChain(head)
}

// FreeBlocks returns the free set in ascending order
func (s *Storage) FreeBlocks() []uint32 {
	return s.alloc.FreeBlocks()
}

// ReadHeader returns the header of block n
func (s *Storage) ReadHeader(n uint32) (block.Header, error) {
	return s.store.ReadHeader(n)
}

// Each visits every block of the file in order until visit returns false
func (s *Storage) Each(visit BlockVisitor) error {
	count, err := s.store.BlockCount()
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		h, err := s.store.ReadHeader(n)
		if err != nil {
			return err
		}
		b, err := s.store.ReadBlock(n)
		if err != nil {
			if !errors.Is(err, ErrChecksum) {
				return err
			}
			s.logger.Warn("block %d failed checksum verification", n)
			b = &block.Block{Header: h}
		}
		if !visit(n, b) {
			return nil
		}
	}
	return nil
}

// Sync flushes the file to disk
func (s *Storage) Sync() error {
	return s.store.Sync()
}

// Close closes the file
func (s *Storage) Close() error {
	s.compressor.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, s.path, err)
	}
	return nil
}

var _ BlockIterator = (*Storage)(nil)
