package storage

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockdb/pkg/block"
)

// ErrCorruptChain is returned when a chain's links or positions are inconsistent
var ErrCorruptChain = errors.New("corrupt block chain")

// NewBlock asks Save to allocate the head block
const NewBlock int64 = -1

// StorageInfo describes where and how a record is saved
type StorageInfo struct {
	Type  block.Type
	RefID uint32
	ID    uint32

	// Start is the head block number, or NewBlock
	Start int64

	// Fresh means Start was reserved for this record and holds no chain yet
	Fresh bool
}

// Save splits data into a chain of blocks and returns the head block number.
//
// Saving over an existing chain reuses its blocks in order; extra blocks are
// taken from the allocator when the record grew and surplus blocks are
// released when it shrank.
func (s *Storage) Save(data []byte, info StorageInfo) (uint32, error) {
	payload, err := s.compressor.Compress(data, s.codec)
	if err != nil {
		return 0, err
	}

	capacity := s.PayloadCapacity()
	count := (len(payload) + capacity - 1) / capacity
	if count == 0 {
		count = 1
	}

	var existing []uint32
	switch {
	case info.Start == NewBlock:
		head, err := s.alloc.TakeFreeBlock()
		if err != nil {
			return 0, err
		}
		existing = []uint32{head}
	case info.Fresh:
		s.alloc.markUsed(uint32(info.Start))
		existing = []uint32{uint32(info.Start)}
	default:
		existing, err = s.chainBlocks(uint32(info.Start))
		if err != nil {
			return 0, err
		}
	}

	var surplus []uint32
	blocks := existing
	if len(blocks) > count {
		blocks, surplus = existing[:count], existing[count:]
	}
	for len(blocks) < count {
		n, err := s.alloc.TakeFreeBlock()
		if err != nil {
			return 0, err
		}
		blocks = append(blocks, n)
	}

	for i, n := range blocks {
		b := block.New(info.Type, s.store.BlockSize())
		b.Header.Flags = uint8(s.codec)
		b.Header.ID = info.ID
		b.Header.RefID = info.RefID
		b.Header.Pos = uint32(i)
		b.Header.Count = uint32(count)
		if i+1 < len(blocks) {
			b.Header.Next = blocks[i+1]
		}

		start := i * capacity
		end := start + capacity
		if end > len(payload) {
			end = len(payload)
		}
		b.Header.Size = uint32(copy(b.Payload, payload[start:end]))

		if err := s.store.WriteBlock(n, b); err != nil {
			return 0, err
		}
	}

	for _, n := range surplus {
		if err := s.alloc.FreeBlock(n); err != nil {
			return 0, err
		}
	}

	s.logger.Debug("saved %s record at %d: %d bytes in %d blocks", info.Type, blocks[0], len(payload), count)
	return blocks[0], nil
}

// Load reads the chain starting at head and returns the reassembled record
func (s *Storage) Load(head uint32) ([]byte, error) {
	first, data, err := s.loadChain(head)
	if err != nil {
		return nil, err
	}
	return s.compressor.Decompress(data, Codec(first.Flags))
}

// LoadTyped is Load with a check that the head block has the expected type
func (s *Storage) LoadTyped(head uint32, t block.Type) ([]byte, error) {
	first, data, err := s.loadChain(head)
	if err != nil {
		return nil, err
	}
	if first.Type != t {
		return nil, fmt.Errorf("%w: block %d is %s, expected %s", ErrCorruptChain, head, first.Type, t)
	}
	return s.compressor.Decompress(data, Codec(first.Flags))
}

func (s *Storage) loadChain(head uint32) (block.Header, []byte, error) {
	count, err := s.store.BlockCount()
	if err != nil {
		return block.Header{}, nil, err
	}

	var first block.Header
	var data []byte
	for n, pos := head, uint32(0); ; pos++ {
		if pos > count {
			return first, nil, fmt.Errorf("%w: cycle in chain at %d", ErrCorruptChain, head)
		}

		b, err := s.store.ReadBlock(n)
		if err != nil {
			return first, nil, err
		}
		if pos == 0 {
			first = b.Header
			if first.Type == block.TypeFree || first.Type == block.TypeUnknown {
				return first, nil, fmt.Errorf("%w: block %d is %s", ErrCorruptChain, head, first.Type)
			}
			data = make([]byte, 0, int(first.Count)*s.PayloadCapacity())
		} else if b.Header.Pos != pos || b.Header.Type != first.Type {
			return first, nil, fmt.Errorf("%w: block %d has position %d (%s), expected %d (%s)",
				ErrCorruptChain, n, b.Header.Pos, b.Header.Type, pos, first.Type)
		}

		data = append(data, b.Data()...)
		if b.Header.Next == 0 {
			break
		}
		n = b.Header.Next
	}

	return first, data, nil
}

// chainBlocks returns the block numbers of the chain starting at head
func (s *Storage) chainBlocks(head uint32) ([]uint32, error) {
	count, err := s.store.BlockCount()
	if err != nil {
		return nil, err
	}

	var out []uint32
	for n := head; ; {
		if len(out) > int(count) {
			return nil, fmt.Errorf("%w: cycle in chain at %d", ErrCorruptChain, head)
		}
		h, err := s.store.ReadHeader(n)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if h.Next == 0 {
			break
		}
		n = h.Next
	}
	return out, nil
}
