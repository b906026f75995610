// Package types defines attribute data types and the Value sum type stored
// in rows.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrTypeMismatch is returned when two values of different kinds meet
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidValue is returned when a raw string cannot be converted to
	// an attribute's type
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownType is returned for an unrecognized type name or type char
	ErrUnknownType = errors.New("unknown data type")
)

// DataType is the declared type of an attribute. The byte value is the
// type char written to entity blocks.
type DataType byte

const (
	TypeNone     DataType = 'N'
	TypeBool     DataType = 'B'
	TypeDatetime DataType = 'D'
	TypeFloat    DataType = 'F'
	TypeInt      DataType = 'I'
	TypeVarchar  DataType = 'V'
)

func (t DataType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeBool:
		return "bool"
	case TypeDatetime:
		return "datetime"
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeVarchar:
		return "varchar"
	default:
		return fmt.Sprintf("type(%c)", byte(t))
	}
}

// Valid reports whether t is a storable attribute type
func (t DataType) Valid() bool {
	switch t {
	case TypeBool, TypeDatetime, TypeFloat, TypeInt, TypeVarchar:
		return true
	}
	return false
}

// ParseDataType maps a type name such as "int" or "VARCHAR" to a DataType
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return TypeBool, nil
	case "datetime":
		return TypeDatetime, nil
	case "float", "double":
		return TypeFloat, nil
	case "int", "integer":
		return TypeInt, nil
	case "varchar", "string":
		return TypeVarchar, nil
	default:
		return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// KindFor returns the value kind an attribute of type t holds
func KindFor(t DataType) Kind {
	switch t {
	case TypeBool:
		return KindBool
	case TypeInt:
		return KindInt
	case TypeFloat:
		return KindFloat
	default:
		return KindString
	}
}

// EmptyValue returns the value used for an attribute of type t when a row
// has nothing better
func EmptyValue(t DataType) Value {
	switch KindFor(t) {
	case KindBool:
		return NewBool(false)
	case KindInt:
		return NewInt(0)
	case KindFloat:
		return NewFloat(0)
	default:
		return NewString("")
	}
}

// ParseValue converts a raw string to a value of type t. Bools are false
// only for "0"; varchar values are truncated to length characters when
// length is non-zero; datetimes are kept as given.
func ParseValue(t DataType, length uint32, raw string) (Value, error) {
	switch t {
	case TypeBool:
		return NewBool(raw != "0"), nil

	case TypeInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an int", ErrInvalidValue, raw)
		}
		return NewInt(i), nil

	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrInvalidValue, raw)
		}
		return NewFloat(f), nil

	case TypeVarchar:
		if length > 0 {
			if r := []rune(raw); len(r) > int(length) {
				raw = string(r[:length])
			}
		}
		return NewString(raw), nil

	case TypeDatetime:
		return NewString(raw), nil

	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

// Coerce converts v to the kind of attribute type t, going through the
// string form when the kinds differ
func Coerce(t DataType, length uint32, v Value) (Value, error) {
	if v.Kind() == KindFor(t) && t != TypeVarchar {
		return v, nil
	}
	return ParseValue(t, length, v.Raw())
}
