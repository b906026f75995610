package block

import "fmt"

// Type identifies what a block holds
type Type uint8

const (
	TypeUnknown Type = iota
	TypeMeta
	TypeEntity
	TypeData
	TypeIndex
	TypeFree
)

// String returns the name used in diagnostic dumps
func (t Type) String() string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeEntity:
		return "entity"
	case TypeData:
		return "data"
	case TypeIndex:
		return "index"
	case TypeFree:
		return "free"
	default:
		return "unknown"
	}
}

const (
	// HeaderSize is the encoded size of Header
	HeaderSize = 36

	// checksumOffset is where the checksum starts; everything before it is covered
	checksumOffset = 28
)

// Header describes one block of a chain
type Header struct {
	Type  Type
	Flags uint8 // compression codec of the whole chain, meaningful on the head
	ID    uint32
	RefID uint32
	Size  uint32 // valid payload bytes
	Pos   uint32 // position in chain, 0-based
	Count uint32 // blocks in chain
	Next  uint32 // successor block number, 0 ends the chain

	Checksum uint64
}

func (h Header) String() string {
	return fmt.Sprintf("%-7s id=%d ref=%d size=%d pos=%d/%d next=%d",
		h.Type, h.ID, h.RefID, h.Size, h.Pos, h.Count, h.Next)
}

// Last reports whether h ends its chain
func (h Header) Last() bool {
	return h.Next == 0
}
