// Package index implements the persisted ordered map from a field value to
// the head block of the row holding it.
package index

import (
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/KevoDB/blockdb/pkg/common/codec"
	"github.com/KevoDB/blockdb/pkg/entity"
)

var (
	ErrKeyType      = errors.New("invalid index key type")
	ErrDuplicateKey = errors.New("duplicate index key")
)

const degree = 32

type entry struct {
	key   Key
	block uint32
}

func lessEntry(a, b entry) bool {
	return a.key.less(b.key)
}

// Pair is one key and the block it points to
type Pair struct {
	Key   Key
	Block uint32
}

// Index maps keys of one table field to row blocks
type Index struct {
	tableName string
	fieldName string
	keyType   KeyType
	tree      *btree.BTreeG[entry]
	blockNum  uint32
	changed   bool
}

// New creates an empty index
func New(tableName, fieldName string, keyType KeyType) *Index {
	return &Index{
		tableName: tableName,
		fieldName: fieldName,
		keyType:   keyType,
		tree:      btree.NewG(degree, lessEntry),
	}
}

func (idx *Index) TableName() string { return idx.tableName }
func (idx *Index) FieldName() string { return idx.fieldName }
func (idx *Index) KeyType() KeyType  { return idx.keyType }
func (idx *Index) Len() int          { return idx.tree.Len() }

// BlockNum is the head block of the index's own chain
func (idx *Index) BlockNum() uint32     { return idx.blockNum }
func (idx *Index) SetBlockNum(n uint32) { idx.blockNum = n }

// Changed reports whether the index has unsaved modifications
func (idx *Index) Changed() bool     { return idx.changed }
func (idx *Index) SetChanged(c bool) { idx.changed = c }

// RefID is the reference id written to the index's blocks
func (idx *Index) RefID() uint32 {
	return entity.HashString(idx.tableName)
}

func (idx *Index) checkKey(k Key) error {
	if k.typ != idx.keyType {
		return fmt.Errorf("%w: %s key for %s index %s.%s",
			ErrKeyType, k.typ, idx.keyType, idx.tableName, idx.fieldName)
	}
	return nil
}

// Insert adds key -> block. Keys are unique.
func (idx *Index) Insert(k Key, block uint32) error {
	if err := idx.checkKey(k); err != nil {
		return err
	}
	if _, ok := idx.tree.Get(entry{key: k}); ok {
		return fmt.Errorf("%w: %s in %s.%s", ErrDuplicateKey, k, idx.tableName, idx.fieldName)
	}
	idx.tree.ReplaceOrInsert(entry{key: k, block: block})
	idx.changed = true
	return nil
}

// Lookup returns the block for k
func (idx *Index) Lookup(k Key) (uint32, bool) {
	e, ok := idx.tree.Get(entry{key: k})
	return e.block, ok
}

// Contains reports whether k is present
func (idx *Index) Contains(k Key) bool {
	return idx.tree.Has(entry{key: k})
}

// Erase removes k and reports whether it was present
func (idx *Index) Erase(k Key) bool {
	if _, ok := idx.tree.Delete(entry{key: k}); ok {
		idx.changed = true
		return true
	}
	return false
}

// Each walks the index in ascending key order until fn returns false.
// It returns false if the walk was stopped early.
func (idx *Index) Each(fn func(k Key, block uint32) bool) bool {
	complete := true
	idx.tree.Ascend(func(e entry) bool {
		if !fn(e.key, e.block) {
			complete = false
			return false
		}
		return true
	})
	return complete
}

// Pairs returns every key and block in key order
func (idx *Index) Pairs() []Pair {
	pairs := make([]Pair, 0, idx.tree.Len())
	idx.Each(func(k Key, block uint32) bool {
		pairs = append(pairs, Pair{Key: k, Block: block})
		return true
	})
	return pairs
}

// Encode implements codec.Storable
func (idx *Index) Encode() ([]byte, error) {
	e := codec.NewEncoder(32 + 16*idx.tree.Len())
	e.PutString(idx.fieldName)
	e.PutU8(uint8(idx.keyType))
	e.PutString(idx.tableName)
	e.PutU32(uint32(idx.tree.Len()))
	idx.tree.Ascend(func(en entry) bool {
		if en.key.typ == KeyInt {
			e.PutU8('i')
			e.PutI64(en.key.i)
		} else {
			e.PutU8('s')
			e.PutString(en.key.s)
		}
		e.PutU32(en.block)
		return true
	})
	return e.Bytes(), nil
}

// Decode implements codec.Storable
func (idx *Index) Decode(data []byte) error {
	d := codec.NewDecoder(data)
	fieldName := d.Str()
	keyType := KeyType(d.U8())
	tableName := d.Str()
	count := d.U32()

	tree := btree.NewG(degree, lessEntry)
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		var k Key
		switch c := d.U8(); c {
		case 'i':
			k = IntKey(d.I64())
		case 's':
			k = StringKey(d.Str())
		default:
			d.Fail(fmt.Errorf("%w: tag %q", ErrKeyType, c))
		}
		block := d.U32()
		tree.ReplaceOrInsert(entry{key: k, block: block})
	}

	if err := d.Err(); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}
	if keyType != KeyInt && keyType != KeyString {
		return fmt.Errorf("failed to decode index: %w: ordinal %d", ErrKeyType, keyType)
	}

	idx.fieldName = fieldName
	idx.keyType = keyType
	idx.tableName = tableName
	idx.tree = tree
	idx.changed = false
	return nil
}

var _ codec.Storable = (*Index)(nil)
