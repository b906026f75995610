// Package query describes the structured requests the database executes:
// filters, projections, ordering, offsets, limits and joins.
package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/types"
)

// ErrNoEntity is returned for a query without a source table
var ErrNoEntity = errors.New("query has no source entity")

// NoLimit disables the row limit
const NoLimit = -1

// Order sorts results by one field
type Order struct {
	Field string
	Desc  bool
}

// Query selects rows from one table
type Query struct {
	Entity    *entity.Entity
	SelectAll bool
	Fields    []string
	Filter    *Filter
	OrderBy   []Order
	Offset    int
	Limit     int
}

// New selects every field of every row of e
func New(e *entity.Entity) *Query {
	return &Query{Entity: e, SelectAll: true, Limit: NoLimit}
}

// Select restricts the projection to the given fields
func (q *Query) Select(fields ...string) *Query {
	q.SelectAll = len(fields) == 0
	q.Fields = fields
	return q
}

// Where sets the filter
func (q *Query) Where(f *Filter) *Query {
	q.Filter = f
	return q
}

// Order appends a sort key
func (q *Query) Order(field string, desc bool) *Query {
	q.OrderBy = append(q.OrderBy, Order{Field: field, Desc: desc})
	return q
}

// WithLimit sets the maximum number of rows collected
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// WithOffset sets how many ordered rows are skipped
func (q *Query) WithOffset(n int) *Query {
	q.Offset = n
	return q
}

// Validate checks the projection and ordering against the entity and
// compiles the filter
func (q *Query) Validate() error {
	if q == nil || q.Entity == nil {
		return ErrNoEntity
	}
	if !q.SelectAll {
		for _, name := range q.Fields {
			if _, ok := q.Entity.Attribute(name); !ok {
				return fmt.Errorf("%w: %s.%s", entity.ErrUnknownAttribute, q.Entity.Name(), name)
			}
		}
	}
	for _, o := range q.OrderBy {
		if _, ok := q.Entity.Attribute(o.Field); !ok {
			return fmt.Errorf("%w: %s.%s", entity.ErrUnknownAttribute, q.Entity.Name(), o.Field)
		}
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidFilter, q.Offset)
	}
	return q.Filter.Compile(q.Entity)
}

// Matches reports whether src passes the filter
func (q *Query) Matches(src FieldSource) bool {
	return q.Filter.Matches(src)
}

// LimitReached reports whether n collected rows satisfy the limit
func (q *Query) LimitReached(n int) bool {
	return q.Limit >= 0 && n >= q.Limit
}

// Projection returns the names of the selected fields
func (q *Query) Projection() []string {
	if !q.SelectAll {
		return q.Fields
	}
	names := make([]string, 0, len(q.Entity.Attributes()))
	for _, a := range q.Entity.Attributes() {
		names = append(names, a.Name)
	}
	return names
}

// Apply sorts rows by OrderBy (stable) and drops the first Offset rows.
// The limit has already been applied while collecting.
func (q *Query) Apply(rows row.Collection) row.Collection {
	if len(q.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			return q.less(rows[i], rows[j])
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[q.Offset:]
	}
	return rows
}

func (q *Query) less(a, b *row.Row) bool {
	for _, o := range q.OrderBy {
		va, oka := a.Field(o.Field)
		vb, okb := b.Field(o.Field)
		switch {
		case oka != okb:
			// missing fields sort first when ascending
			return okb != o.Desc
		case !oka:
			continue
		}
		if types.Equal(va, vb) {
			continue
		}
		if o.Desc {
			return types.Less(vb, va)
		}
		return types.Less(va, vb)
	}
	return false
}
