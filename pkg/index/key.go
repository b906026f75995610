package index

import (
	"fmt"
	"strconv"

	"github.com/KevoDB/blockdb/pkg/types"
)

// KeyType is the kind of key an index holds. The ordinal is persisted.
type KeyType uint8

const (
	KeyInt KeyType = iota
	KeyString
)

func (t KeyType) String() string {
	switch t {
	case KeyInt:
		return "int"
	case KeyString:
		return "string"
	default:
		return fmt.Sprintf("keytype(%d)", uint8(t))
	}
}

// KeyTypeFor returns the key type for an indexed attribute of type t
func KeyTypeFor(t types.DataType) (KeyType, error) {
	switch t {
	case types.TypeInt:
		return KeyInt, nil
	case types.TypeVarchar, types.TypeDatetime:
		return KeyString, nil
	default:
		return KeyInt, fmt.Errorf("%w: cannot index %s attributes", ErrKeyType, t)
	}
}

// Key is an int or string index key
type Key struct {
	typ KeyType
	i   int64
	s   string
}

func IntKey(i int64) Key     { return Key{typ: KeyInt, i: i} }
func StringKey(s string) Key { return Key{typ: KeyString, s: s} }

// KeyFromValue converts a row value to a key
func KeyFromValue(v types.Value) (Key, error) {
	switch v.Kind() {
	case types.KindInt:
		return IntKey(v.Int()), nil
	case types.KindString:
		return StringKey(v.Str()), nil
	default:
		return Key{}, fmt.Errorf("%w: %s value", ErrKeyType, v.Kind())
	}
}

func (k Key) Type() KeyType { return k.typ }

// Value returns the key as a row value
func (k Key) Value() types.Value {
	if k.typ == KeyInt {
		return types.NewInt(k.i)
	}
	return types.NewString(k.s)
}

func (k Key) String() string {
	if k.typ == KeyInt {
		return strconv.FormatInt(k.i, 10)
	}
	return k.s
}

func (k Key) less(o Key) bool {
	if k.typ != o.typ {
		return k.typ < o.typ
	}
	if k.typ == KeyInt {
		return k.i < o.i
	}
	return k.s < o.s
}
