// Package block defines the fixed-size on-disk block: a header followed by a
// payload whose capacity is the block size minus HeaderSize.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrChecksum  = errors.New("block checksum mismatch")
	ErrBlockSize = errors.New("invalid block size")
)

// Block is a decoded block. Payload always has the full payload capacity.
type Block struct {
	Header  Header
	Payload []byte
}

// New returns an empty block of the given type for a blockSize layout
func New(t Type, blockSize int) *Block {
	return &Block{
		Header:  Header{Type: t},
		Payload: make([]byte, PayloadCapacity(blockSize)),
	}
}

// PayloadCapacity returns how many payload bytes fit in a block
func PayloadCapacity(blockSize int) int {
	return blockSize - HeaderSize
}

// Data returns the valid part of the payload
func (b *Block) Data() []byte {
	n := int(b.Header.Size)
	if n > len(b.Payload) {
		n = len(b.Payload)
	}
	return b.Payload[:n]
}

// Encode serializes the block into a buffer of exactly blockSize bytes,
// computing the header checksum
func (b *Block) Encode(blockSize int) ([]byte, error) {
	capacity := PayloadCapacity(blockSize)
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	if int(b.Header.Size) > capacity || int(b.Header.Size) > len(b.Payload) {
		return nil, fmt.Errorf("%w: payload size %d exceeds capacity %d",
			ErrBlockSize, b.Header.Size, capacity)
	}

	buf := make([]byte, blockSize)
	putHeader(buf, &b.Header)
	copy(buf[HeaderSize:], b.Payload[:b.Header.Size])

	b.Header.Checksum = checksum(buf[:checksumOffset], buf[HeaderSize:HeaderSize+int(b.Header.Size)])
	binary.LittleEndian.PutUint64(buf[checksumOffset:HeaderSize], b.Header.Checksum)

	return buf, nil
}

// Decode parses a raw block. When verify is set, the checksum is checked;
// all-zero blocks carry no checksum and always pass.
func Decode(data []byte, verify bool) (*Block, error) {
	if len(data) <= HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(data))
	}

	b := &Block{Payload: make([]byte, len(data)-HeaderSize)}
	h := &b.Header
	h.Type = Type(data[0])
	h.Flags = data[1]
	h.ID = binary.LittleEndian.Uint32(data[4:8])
	h.RefID = binary.LittleEndian.Uint32(data[8:12])
	h.Size = binary.LittleEndian.Uint32(data[12:16])
	h.Pos = binary.LittleEndian.Uint32(data[16:20])
	h.Count = binary.LittleEndian.Uint32(data[20:24])
	h.Next = binary.LittleEndian.Uint32(data[24:28])
	h.Checksum = binary.LittleEndian.Uint64(data[checksumOffset:HeaderSize])
	copy(b.Payload, data[HeaderSize:])

	if int(h.Size) > len(b.Payload) {
		return nil, fmt.Errorf("%w: header size %d exceeds payload capacity %d",
			ErrBlockSize, h.Size, len(b.Payload))
	}

	if verify && !isZero(data[:HeaderSize]) {
		computed := checksum(data[:checksumOffset], b.Payload[:h.Size])
		if computed != h.Checksum {
			return nil, fmt.Errorf("%w: stored %d, computed %d", ErrChecksum, h.Checksum, computed)
		}
	}

	return b, nil
}

// DecodeHeader parses only the header of a raw block
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(data))
	}
	return Header{
		Type:     Type(data[0]),
		Flags:    data[1],
		ID:       binary.LittleEndian.Uint32(data[4:8]),
		RefID:    binary.LittleEndian.Uint32(data[8:12]),
		Size:     binary.LittleEndian.Uint32(data[12:16]),
		Pos:      binary.LittleEndian.Uint32(data[16:20]),
		Count:    binary.LittleEndian.Uint32(data[20:24]),
		Next:     binary.LittleEndian.Uint32(data[24:28]),
		Checksum: binary.LittleEndian.Uint64(data[checksumOffset:HeaderSize]),
	}, nil
}

func putHeader(buf []byte, h *Header) {
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint32(buf[4:8], h.ID)
	binary.LittleEndian.PutUint32(buf[8:12], h.RefID)
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	binary.LittleEndian.PutUint32(buf[16:20], h.Pos)
	binary.LittleEndian.PutUint32(buf[20:24], h.Count)
	binary.LittleEndian.PutUint32(buf[24:28], h.Next)
}

func checksum(header, payload []byte) uint64 {
	d := xxhash.New()
	d.Write(header)
	d.Write(payload)
	return d.Sum64()
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
