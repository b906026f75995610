package database

import (
	"fmt"
	"time"

	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/stats"
	"github.com/KevoDB/blockdb/pkg/types"
)

type boundJoin struct {
	join  query.Join
	right *entity.Entity
}

// SelectJoinRows combines every row matching q with the rows of each joined
// table whose right field equals the row's left field. A left join emits a
// row without a match once, with the right-side fields set to "NULL".
func (db *Database) SelectJoinRows(q *query.Query, joins []query.Join) (row.Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := db.selectJoinRows(q, joins)
	db.track(stats.OpJoin, start, err)
	return rows, err
}

func (db *Database) selectJoinRows(q *query.Query, joins []query.Join) (row.Collection, error) {
	left, err := db.entityFor(q)
	if err != nil {
		return nil, err
	}
	if err := q.Filter.Compile(left); err != nil {
		return nil, err
	}

	bound, err := db.bindJoins(left, joins)
	if err != nil {
		return nil, err
	}
	selects, err := joinProjection(q, left, bound)
	if err != nil {
		return nil, err
	}

	var out row.Collection
	var joinErr error
	err = db.walk(left, func(r *row.Row) bool {
		if !q.Matches(r) {
			return true
		}
		for _, b := range bound {
			matches, err := db.joinMatches(b, r)
			if err != nil {
				joinErr = err
				return false
			}
			out = append(out, combine(selects, r, matches, b.join.Kind)...)
		}
		return !q.LimitReached(len(out))
	})
	if err != nil {
		return nil, err
	}
	if joinErr != nil {
		return nil, joinErr
	}

	if q.LimitReached(len(out)) {
		out = out[:q.Limit]
	}
	return q.Apply(out), nil
}

func (db *Database) bindJoins(left *entity.Entity, joins []query.Join) ([]boundJoin, error) {
	if len(joins) == 0 {
		return nil, fmt.Errorf("%w: join without a joined table", ErrUnknownCommand)
	}

	bound := make([]boundJoin, 0, len(joins))
	for _, j := range joins {
		right, ok := db.entities[j.Table]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTable, j.Table)
		}
		// accept "on right.f = left.g" as well as "on left.g = right.f"
		if j.Left.Table == j.Table && j.Right.Table != j.Table {
			j.Left, j.Right = j.Right, j.Left
		}

		la, ok := left.Attribute(j.Left.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, left.Name(), j.Left.Field)
		}
		ra, ok := right.Attribute(j.Right.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, right.Name(), j.Right.Field)
		}
		if types.KindFor(la.Type) != types.KindFor(ra.Type) {
			return nil, fmt.Errorf("%w: %s compared with %s", ErrTypeMismatch, j.Left, j.Right)
		}
		bound = append(bound, boundJoin{join: j, right: right})
	}
	return bound, nil
}

// joinProjection returns the output field names. Select-all projects the
// left attributes followed by those of each joined table.
func joinProjection(q *query.Query, left *entity.Entity, bound []boundJoin) ([]string, error) {
	entities := []*entity.Entity{left}
	for _, b := range bound {
		entities = append(entities, b.right)
	}

	if !q.SelectAll {
		for _, name := range q.Fields {
			found := false
			for _, e := range entities {
				if _, ok := e.Attribute(name); ok {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
			}
		}
		return q.Fields, nil
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entities {
		for _, a := range e.Attributes() {
			if !seen[a.Name] {
				seen[a.Name] = true
				names = append(names, a.Name)
			}
		}
	}
	return names, nil
}

func (db *Database) joinMatches(b boundJoin, r *row.Row) (row.Collection, error) {
	v, ok := r.Field(b.join.Left.Field)
	if !ok {
		return nil, nil
	}
	rq := query.New(b.right).Where(query.Where(b.join.Right.Field, query.OpEqual, v))
	return db.selectRows(rq)
}

func combine(selects []string, left *row.Row, matches row.Collection, kind query.JoinKind) row.Collection {
	if len(matches) == 0 {
		if kind == query.JoinInner {
			return nil
		}
		kv := make(row.KeyValues, len(selects))
		for _, name := range selects {
			if v, ok := left.Field(name); ok {
				kv[name] = v
			} else {
				kv[name] = types.NewString(query.NullPlaceholder)
			}
		}
		return row.Collection{row.New(kv, 0)}
	}

	out := make(row.Collection, 0, len(matches))
	for _, right := range matches {
		kv := make(row.KeyValues, len(selects))
		for _, name := range selects {
			if v, ok := left.Field(name); ok {
				kv[name] = v
			} else if v, ok := right.Field(name); ok {
				kv[name] = v
			}
		}
		out = append(out, row.New(kv, 0))
	}
	return out
}
