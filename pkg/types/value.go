package types

import (
	"fmt"
	"strconv"

	"github.com/KevoDB/blockdb/pkg/common/codec"
)

// Kind tags which member of a Value is set
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
)

// typeChar is the tag written ahead of an encoded value
func (k Kind) typeChar() byte {
	switch k {
	case KindBool:
		return 'b'
	case KindInt:
		return 'i'
	case KindFloat:
		return 'd'
	default:
		return 's'
	}
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value holds one of bool, int64, float64 or string
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func NewBool(b bool) Value     { return Value{kind: KindBool, b: b} }
func NewInt(i int64) Value     { return Value{kind: KindInt, i: i} }
func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }
func NewString(s string) Value { return Value{kind: KindString, s: s} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string    { return v.s }

// TypeChar returns the encoded tag of the value
func (v Value) TypeChar() byte {
	return v.kind.typeChar()
}

// Raw returns the value in the string form accepted by ParseValue
func (v Value) Raw() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

func (v Value) String() string {
	if v.kind == KindBool {
		return strconv.FormatBool(v.b)
	}
	return v.Raw()
}

// Compare orders two values of the same kind. ok is false when the kinds
// differ, in which case the values are unordered and unequal.
func Compare(a, b Value) (c int, ok bool) {
	if a.kind != b.kind {
		return 0, false
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	case KindInt:
		switch {
		case a.i < b.i:
			return -1, true
		case a.i > b.i:
			return 1, true
		}
		return 0, true
	case KindFloat:
		switch {
		case a.f < b.f:
			return -1, true
		case a.f > b.f:
			return 1, true
		}
		return 0, true
	default:
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		}
		return 0, true
	}
}

// Equal reports whether a and b have the same kind and value
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Less orders values for sorting: by kind first, then by value
func Less(a, b Value) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	c, _ := Compare(a, b)
	return c < 0
}

// EncodeTo writes the type char followed by the payload
func (v Value) EncodeTo(e *codec.Encoder) {
	e.PutU8(v.kind.typeChar())
	switch v.kind {
	case KindBool:
		e.PutBool(v.b)
	case KindInt:
		e.PutI64(v.i)
	case KindFloat:
		e.PutF64(v.f)
	default:
		e.PutString(v.s)
	}
}

// DecodeValue reads a value written by EncodeTo
func DecodeValue(d *codec.Decoder) Value {
	switch c := d.U8(); c {
	case 'b':
		return NewBool(d.Bool())
	case 'i':
		return NewInt(d.I64())
	case 'd':
		return NewFloat(d.F64())
	case 's':
		return NewString(d.Str())
	default:
		d.Fail(fmt.Errorf("%w: value tag %q", ErrUnknownType, c))
		return Value{}
	}
}
