// Package entity holds table schemas: an ordered attribute list, the
// primary key and the row-id counter.
package entity

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/blockdb/pkg/common/codec"
)

var (
	ErrAttributeExists  = errors.New("attribute already exists")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrInvalidSchema    = errors.New("invalid schema")
)

const endOfAttributes = '#'

// HashString returns the stable 32-bit hash used as a block reference id
func HashString(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}

// Entity is a table schema
type Entity struct {
	name       string
	attributes []Attribute
	increment  uint32
}

// New creates a schema whose row ids start at 1
func New(name string, attributes []Attribute) *Entity {
	attrs := make([]Attribute, len(attributes))
	copy(attrs, attributes)
	return &Entity{name: name, attributes: attrs, increment: 1}
}

func (e *Entity) Name() string {
	return e.name
}

// Attributes returns the attributes in declaration order. The slice must
// not be modified.
func (e *Entity) Attributes() []Attribute {
	return e.attributes
}

// Attribute looks up an attribute by name
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for i := range e.attributes {
		if e.attributes[i].Name == name {
			return &e.attributes[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the first attribute flagged as primary key
func (e *Entity) PrimaryKey() (*Attribute, bool) {
	for i := range e.attributes {
		if e.attributes[i].PrimaryKey {
			return &e.attributes[i], true
		}
	}
	return nil, false
}

// Validate checks every attribute and rejects duplicate names
func (e *Entity) Validate() error {
	if e.name == "" {
		return fmt.Errorf("%w: table without a name", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(e.attributes))
	for i := range e.attributes {
		a := &e.attributes[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: %s.%s", ErrAttributeExists, e.name, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// AddAttribute appends an attribute to the schema
func (e *Entity) AddAttribute(a Attribute) error {
	if _, ok := e.Attribute(a.Name); ok {
		return fmt.Errorf("%w: %s.%s", ErrAttributeExists, e.name, a.Name)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	e.attributes = append(e.attributes, a)
	return nil
}

// DropAttribute removes the named attribute
func (e *Entity) DropAttribute(name string) error {
	for i := range e.attributes {
		if e.attributes[i].Name == name {
			e.attributes = append(e.attributes[:i], e.attributes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, e.name, name)
}

// NextIncrement returns the next row id and advances the counter
func (e *Entity) NextIncrement() uint32 {
	n := e.increment
	e.increment++
	return n
}

// Increment returns the next row id without advancing the counter
func (e *Entity) Increment() uint32 {
	return e.increment
}

// HashName returns the reference id stored in blocks owned by this table
func (e *Entity) HashName() uint32 {
	return HashString(e.name)
}

// Encode implements codec.Storable
func (e *Entity) Encode() ([]byte, error) {
	enc := codec.NewEncoder(64 + 32*len(e.attributes))
	enc.PutString(e.name)
	enc.PutU32(e.increment)
	enc.PutU32(uint32(len(e.attributes)))
	for i := range e.attributes {
		e.attributes[i].encodeTo(enc)
	}
	enc.PutMarker(endOfAttributes)
	return enc.Bytes(), nil
}

// Decode implements codec.Storable
func (e *Entity) Decode(data []byte) error {
	d := codec.NewDecoder(data)
	name := d.Str()
	increment := d.U32()
	count := d.U32()

	var attrs []Attribute
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		var a Attribute
		a.decodeFrom(d)
		attrs = append(attrs, a)
	}
	d.Marker(endOfAttributes)

	if err := d.Err(); err != nil {
		return fmt.Errorf("failed to decode entity: %w", err)
	}

	e.name = name
	e.increment = increment
	e.attributes = attrs
	return nil
}

var _ codec.Storable = (*Entity)(nil)
