// Package row holds a single record's field values and its storage location.
package row

import (
	"fmt"
	"sort"

	"github.com/KevoDB/blockdb/pkg/common/codec"
	"github.com/KevoDB/blockdb/pkg/types"
)

// IDField is the field every inserted row carries its row id in
const IDField = "id"

// KeyValues maps field names to values
type KeyValues map[string]types.Value

// Names returns the field names in sorted order
func (kv KeyValues) Names() []string {
	names := make([]string, 0, len(kv))
	for name := range kv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy
func (kv KeyValues) Clone() KeyValues {
	out := make(KeyValues, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}

// Row is one record plus the head block of its chain
type Row struct {
	Fields   KeyValues
	BlockNum uint32
}

// New creates a row with the given fields. The map is not copied.
func New(fields KeyValues, blockNum uint32) *Row {
	if fields == nil {
		fields = make(KeyValues)
	}
	return &Row{Fields: fields, BlockNum: blockNum}
}

// ID returns the row id, or 0 when the row has no int id field
func (r *Row) ID() uint32 {
	if v, ok := r.Fields[IDField]; ok && v.Kind() == types.KindInt {
		return uint32(v.Int())
	}
	return 0
}

// SetID sets the id field
func (r *Row) SetID(id uint32) {
	r.Fields[IDField] = types.NewInt(int64(id))
}

// Field implements the field lookup used by filters
func (r *Row) Field(name string) (types.Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Update applies values only if every key is already a field of the row.
// It reports whether the row was changed.
func (r *Row) Update(values KeyValues) bool {
	for name := range values {
		if _, ok := r.Fields[name]; !ok {
			return false
		}
	}
	for name, v := range values {
		r.Fields[name] = v
	}
	return true
}

// Add sets a field, adding it if absent
func (r *Row) Add(name string, v types.Value) {
	r.Fields[name] = v
}

// Drop removes a field
func (r *Row) Drop(name string) {
	delete(r.Fields, name)
}

// Encode implements codec.Storable. Fields are written in name order.
func (r *Row) Encode() ([]byte, error) {
	e := codec.NewEncoder(16 + 24*len(r.Fields))
	e.PutU32(r.BlockNum)
	e.PutU32(uint32(len(r.Fields)))
	for _, name := range r.Fields.Names() {
		e.PutString(name)
		r.Fields[name].EncodeTo(e)
	}
	return e.Bytes(), nil
}

// Decode implements codec.Storable
func (r *Row) Decode(data []byte) error {
	d := codec.NewDecoder(data)
	blockNum := d.U32()
	count := d.U32()

	fields := make(KeyValues, count)
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		name := d.Str()
		fields[name] = types.DecodeValue(d)
	}
	if err := d.Err(); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}

	r.BlockNum = blockNum
	r.Fields = fields
	return nil
}

var _ codec.Storable = (*Row)(nil)

// Collection is an ordered list of rows
type Collection []*Row
