package entity

import (
	"fmt"

	"github.com/KevoDB/blockdb/pkg/common/codec"
	"github.com/KevoDB/blockdb/pkg/types"
)

// Attribute is one column of a table schema
type Attribute struct {
	Name          string
	Type          types.DataType
	Length        uint32
	AutoIncrement bool
	PrimaryKey    bool
	Nullable      bool
	HasDefault    bool
	Default       types.Value
}

// NewAttribute creates a nullable attribute with no default
func NewAttribute(name string, t types.DataType) Attribute {
	return Attribute{Name: name, Type: t, Nullable: true}
}

// Validate checks the attribute is usable in a schema
func (a *Attribute) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: attribute without a name", ErrInvalidSchema)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("%w: attribute %q has type %s", ErrInvalidSchema, a.Name, a.Type)
	}
	if a.HasDefault && a.Default.Kind() != types.KindFor(a.Type) {
		return fmt.Errorf("%w: default for %q is %s, expected %s",
			types.ErrTypeMismatch, a.Name, a.Default.Kind(), types.KindFor(a.Type))
	}
	return nil
}

// Convert turns a raw string into a value of the attribute's type
func (a *Attribute) Convert(raw string) (types.Value, error) {
	v, err := types.ParseValue(a.Type, a.Length, raw)
	if err != nil {
		return types.Value{}, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	return v, nil
}

// EmptyValue returns the default if one is declared, otherwise the type's
// empty value
func (a *Attribute) EmptyValue() types.Value {
	if a.HasDefault {
		return a.Default
	}
	return types.EmptyValue(a.Type)
}

func (a *Attribute) String() string {
	s := a.Type.String()
	if a.Type == types.TypeVarchar {
		s = fmt.Sprintf("varchar(%d)", a.Length)
	}
	s = a.Name + " " + s
	if a.PrimaryKey {
		s += " primary key"
	}
	if a.AutoIncrement {
		s += " auto_increment"
	}
	if !a.Nullable {
		s += " not null"
	}
	if a.HasDefault {
		s += " default " + a.Default.String()
	}
	return s
}

func (a *Attribute) encodeTo(e *codec.Encoder) {
	e.PutString(a.Name)
	e.PutU8(byte(a.Type))
	e.PutU32(a.Length)
	e.PutBool(a.AutoIncrement)
	e.PutBool(a.PrimaryKey)
	e.PutBool(a.Nullable)
	e.PutBool(a.HasDefault)
	a.Default.EncodeTo(e)
}

func (a *Attribute) decodeFrom(d *codec.Decoder) {
	a.Name = d.Str()
	a.Type = types.DataType(d.U8())
	a.Length = d.U32()
	a.AutoIncrement = d.Bool()
	a.PrimaryKey = d.Bool()
	a.Nullable = d.Bool()
	a.HasDefault = d.Bool()
	a.Default = types.DecodeValue(d)
}
