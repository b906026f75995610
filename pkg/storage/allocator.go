package storage

import (
	"fmt"

	"github.com/google/btree"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/stats"
)

// MetaBlock is the block number holding the database meta record.
// It is never placed on the free list.
const MetaBlock uint32 = 0

// Allocator tracks reclaimed block numbers on top of a BlockStore.
//
// Block numbers past the end of the file are handed out from a high-water
// mark, so several blocks can be taken before any of them is written.
type Allocator struct {
	store     *BlockStore
	free      *btree.BTreeG[uint32]
	highWater uint32
	logger    log.Logger
	stats     stats.Collector
}

// NewAllocator creates an allocator with an empty free set
func NewAllocator(store *BlockStore, logger log.Logger, collector stats.Collector) *Allocator {
	return &Allocator{
		store:  store,
		free:   btree.NewOrderedG[uint32](16),
		logger: logger,
		stats:  collector,
	}
}

func (a *Allocator) nextNew() (uint32, error) {
	count, err := a.store.BlockCount()
	if err != nil {
		return 0, err
	}
	if a.highWater > count {
		return a.highWater, nil
	}
	return count, nil
}

// NextFreeBlockNumber returns the block number TakeFreeBlock would return,
// without removing it from the free set
func (a *Allocator) NextFreeBlockNumber() (uint32, error) {
	if n, ok := a.free.Min(); ok {
		return n, nil
	}
	return a.nextNew()
}

// TakeFreeBlock removes and returns the smallest free block number, or the
// first unused block past the end of the file
func (a *Allocator) TakeFreeBlock() (uint32, error) {
	if n, ok := a.free.DeleteMin(); ok {
		a.stats.TrackBlocks(stats.BlockAllocated, 1)
		a.stats.TrackFreeBlocks(uint64(a.free.Len()))
		a.logger.Debug("reusing free block %d", n)
		return n, nil
	}

	n, err := a.nextNew()
	if err != nil {
		return 0, err
	}
	a.highWater = n + 1
	a.stats.TrackBlocks(stats.BlockAllocated, 1)
	a.logger.Debug("allocating new block %d", n)
	return n, nil
}

// markUsed moves the high-water mark past n when n lies beyond it
func (a *Allocator) markUsed(n uint32) {
	if n >= a.highWater {
		a.highWater = n + 1
	}
}

// AddFree marks block n as available without touching the file. Block 0 is
// ignored.
func (a *Allocator) AddFree(n uint32) {
	if n == MetaBlock {
		return
	}
	if _, replaced := a.free.ReplaceOrInsert(n); !replaced {
		a.stats.TrackBlocks(stats.BlockFreed, 1)
	}
	a.stats.TrackFreeBlocks(uint64(a.free.Len()))
}

// FreeBlock overwrites block n with a zeroed free block and adds it to the free set
func (a *Allocator) FreeBlock(n uint32) error {
	if n == MetaBlock {
		return fmt.Errorf("%w: cannot free the meta block", ErrCorruptChain)
	}
	if err := a.store.WriteBlock(n, block.New(block.TypeFree, a.store.BlockSize())); err != nil {
		return err
	}
	a.AddFree(n)
	return nil
}

// ReleaseChain walks the chain starting at head via next pointers, freeing
// every visited block
func (a *Allocator) ReleaseChain(head uint32) (int, error) {
	count, err := a.store.BlockCount()
	if err != nil {
		return 0, err
	}

	released := 0
	for n := head; ; {
		if released > int(count) {
			return released, fmt.Errorf("%w: cycle while releasing chain at %d", ErrCorruptChain, head)
		}

		h, err := a.store.ReadHeader(n)
		if err != nil {
			return released, err
		}
		if err := a.FreeBlock(n); err != nil {
			return released, err
		}
		released++

		if h.Next == 0 {
			break
		}
		n = h.Next
	}

	a.logger.Debug("released chain at %d (%d blocks)", head, released)
	return released, nil
}

// Len returns the size of the free set
func (a *Allocator) Len() int {
	return a.free.Len()
}

// FreeBlocks returns the free set in ascending order
func (a *Allocator) FreeBlocks() []uint32 {
	out := make([]uint32, 0, a.free.Len())
	a.free.Ascend(func(n uint32) bool {
		out = append(out, n)
		return true
	})
	return out
}
