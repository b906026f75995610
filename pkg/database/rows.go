package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/stats"
	"github.com/KevoDB/blockdb/pkg/storage"
	"github.com/KevoDB/blockdb/pkg/types"
)

func (db *Database) loadRow(n uint32) (*row.Row, error) {
	data, err := db.store.LoadTyped(n, block.TypeData)
	if err != nil {
		return nil, err
	}
	r := &row.Row{}
	if err := r.Decode(data); err != nil {
		return nil, fmt.Errorf("row at block %d: %w", n, err)
	}
	if r.BlockNum != n {
		db.logger.Warn("row at block %d records block %d", n, r.BlockNum)
		r.BlockNum = n
	}
	return r, nil
}

func (db *Database) saveRow(e *entity.Entity, r *row.Row) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	_, err = db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeData,
		RefID: e.HashName(),
		ID:    r.ID(),
		Start: int64(r.BlockNum),
	})
	return err
}

// walk visits the rows of e in primary-key order until fn returns false.
// Index entries pointing at free blocks are skipped.
func (db *Database) walk(e *entity.Entity, fn func(r *row.Row) bool) error {
	idx, err := db.primaryIndex(e)
	if err != nil {
		return err
	}

	var walkErr error
	idx.Each(func(k index.Key, n uint32) bool {
		r, err := db.loadRow(n)
		if err != nil {
			if errors.Is(err, storage.ErrCorruptChain) {
				db.logger.Warn("index %s.%s key %s points at block %d: %v",
					idx.TableName(), idx.FieldName(), k, n, err)
				return true
			}
			walkErr = err
			return false
		}
		return fn(r)
	})
	return walkErr
}

// collect returns the rows of e matching q in primary-key order, stopping
// once q's limit is reached. A nil q collects every row.
func (db *Database) collect(e *entity.Entity, q *query.Query) (row.Collection, error) {
	var rows row.Collection
	err := db.walk(e, func(r *row.Row) bool {
		if q == nil {
			rows = append(rows, r)
			return true
		}
		if q.LimitReached(len(rows)) {
			return false
		}
		if q.Matches(r) {
			rows = append(rows, r)
		}
		return !q.LimitReached(len(rows))
	})
	return rows, err
}

// InsertRows converts each row of raw string values to the attribute types
// of table and stores it under the next row id. It returns the number of
// rows inserted; rows stored before a failure stay stored.
func (db *Database) InsertRows(table string, fields []string, values [][]string) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	count, err := db.insertRows(table, fields, values)
	db.track(stats.OpInsert, start, err)
	return count, err
}

func (db *Database) insertRows(table string, fields []string, values [][]string) (int, error) {
	e, ok := db.entities[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	attrs := make([]*entity.Attribute, len(fields))
	for i, name := range fields {
		a, ok := e.Attribute(name)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, table, name)
		}
		attrs[i] = a
	}

	pending := make([]row.KeyValues, 0, len(values))
	for i, raw := range values {
		if len(raw) != len(fields) {
			return 0, fmt.Errorf("%w: row %d has %d values for %d fields", ErrInvalidValue, i, len(raw), len(fields))
		}
		kv := make(row.KeyValues, len(e.Attributes()))
		for j, a := range attrs {
			v, err := a.Convert(raw[j])
			if err != nil {
				return 0, err
			}
			kv[a.Name] = v
		}
		if err := fillMissing(e, kv); err != nil {
			return 0, err
		}
		pending = append(pending, kv)
	}

	indexes := db.tableIndexes(table)
	count := 0
	for _, kv := range pending {
		if err := db.insertRow(e, indexes, kv); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// fillMissing applies defaults to attributes absent from kv
func fillMissing(e *entity.Entity, kv row.KeyValues) error {
	for _, a := range e.Attributes() {
		if _, ok := kv[a.Name]; ok || a.Name == row.IDField || a.AutoIncrement {
			continue
		}
		switch {
		case a.HasDefault:
			kv[a.Name] = a.Default
		case !a.Nullable:
			return fmt.Errorf("%w: %s.%s", ErrMissingValue, e.Name(), a.Name)
		}
	}
	return nil
}

func (db *Database) insertRow(e *entity.Entity, indexes []*index.Index, kv row.KeyValues) error {
	id := e.Increment()
	kv[row.IDField] = types.NewInt(int64(id))
	for _, a := range e.Attributes() {
		if _, ok := kv[a.Name]; !ok && a.AutoIncrement && a.Type == types.TypeInt {
			kv[a.Name] = types.NewInt(int64(id))
		}
	}

	r := row.New(kv, 0)
	keys, err := indexKeys(indexes, r)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		k, ok := keys[idx]
		if !ok {
			if idx.FieldName() == db.primaryKeyName(e) {
				return fmt.Errorf("%w: %s.%s", ErrMissingValue, e.Name(), idx.FieldName())
			}
			continue
		}
		if idx.Contains(k) {
			return fmt.Errorf("%w: %s in %s.%s", ErrDuplicateKey, k, e.Name(), idx.FieldName())
		}
	}

	n, err := db.store.Reserve()
	if err != nil {
		return err
	}
	r.BlockNum = n

	data, err := r.Encode()
	if err != nil {
		db.store.Release(n)
		return err
	}
	if _, err := db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeData,
		RefID: e.HashName(),
		ID:    id,
		Start: int64(n),
		Fresh: true,
	}); err != nil {
		db.store.Release(n)
		return err
	}

	e.NextIncrement()
	for idx, k := range keys {
		if err := idx.Insert(k, n); err != nil {
			return err
		}
	}
	db.changed = true
	return nil
}

func (db *Database) primaryKeyName(e *entity.Entity) string {
	if pk, ok := e.PrimaryKey(); ok {
		return pk.Name
	}
	return ""
}

// SelectRows walks the primary-key index of the query's table and returns
// the matching rows. The walk stops at the limit; ordering and offset are
// applied to the collected rows afterwards.
func (db *Database) SelectRows(q *query.Query) (row.Collection, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := db.selectRows(q)
	db.track(stats.OpSelect, start, err)
	return rows, err
}

func (db *Database) selectRows(q *query.Query) (row.Collection, error) {
	e, err := db.entityFor(q)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := db.collect(e, q)
	if err != nil {
		return nil, err
	}
	rows = q.Apply(rows)
	if !q.SelectAll {
		rows = project(rows, q.Fields)
	}
	return rows, nil
}

func project(rows row.Collection, fields []string) row.Collection {
	out := make(row.Collection, len(rows))
	for i, r := range rows {
		kv := make(row.KeyValues, len(fields))
		for _, name := range fields {
			if v, ok := r.Field(name); ok {
				kv[name] = v
			}
		}
		out[i] = row.New(kv, r.BlockNum)
	}
	return out
}

// UpdateRows applies values to every row matching the query and rewrites
// it in place. A row lacking any of the fields in values is left alone and
// not counted.
func (db *Database) UpdateRows(q *query.Query, values row.KeyValues) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	count, err := db.updateRows(q, values)
	db.track(stats.OpUpdate, start, err)
	return count, err
}

func (db *Database) updateRows(q *query.Query, values row.KeyValues) (int, error) {
	e, err := db.entityFor(q)
	if err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}

	coerced := make(row.KeyValues, len(values))
	for name, v := range values {
		if a, ok := e.Attribute(name); ok {
			if v, err = types.Coerce(a.Type, a.Length, v); err != nil {
				return 0, fmt.Errorf("attribute %q: %w", name, err)
			}
		}
		coerced[name] = v
	}

	rows, err := db.collect(e, q)
	if err != nil {
		return 0, err
	}

	indexes := db.tableIndexes(e.Name())
	count := 0
	for _, r := range rows {
		oldKeys, err := indexKeys(indexes, r)
		if err != nil {
			return count, err
		}
		if !r.Update(coerced) {
			continue
		}
		newKeys, err := indexKeys(indexes, r)
		if err != nil {
			return count, err
		}
		for idx, k := range newKeys {
			if k != oldKeys[idx] && idx.Contains(k) {
				return count, fmt.Errorf("%w: %s in %s.%s", ErrDuplicateKey, k, e.Name(), idx.FieldName())
			}
		}

		if err := db.saveRow(e, r); err != nil {
			return count, err
		}
		for idx, k := range newKeys {
			if old := oldKeys[idx]; old != k {
				idx.Erase(old)
				if err := idx.Insert(k, r.BlockNum); err != nil {
					return count, err
				}
			}
		}
		count++
	}

	if count > 0 {
		db.changed = true
	}
	return count, nil
}

// DeleteRows removes every row matching the query from all indexes of its
// table and frees its blocks
func (db *Database) DeleteRows(q *query.Query) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	count, err := db.deleteRows(q)
	db.track(stats.OpDelete, start, err)
	return count, err
}

func (db *Database) deleteRows(q *query.Query) (int, error) {
	e, err := db.entityFor(q)
	if err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}

	rows, err := db.collect(e, q)
	if err != nil {
		return 0, err
	}

	indexes := db.tableIndexes(e.Name())
	for i, r := range rows {
		keys, err := indexKeys(indexes, r)
		if err != nil {
			return i, err
		}
		for idx, k := range keys {
			idx.Erase(k)
		}
		if _, err := db.store.ReleaseChain(r.BlockNum); err != nil {
			return i, err
		}
	}

	if len(rows) > 0 {
		db.changed = true
		db.logger.Debug("deleted %d rows from %s", len(rows), e.Name())
	}
	return len(rows), nil
}
