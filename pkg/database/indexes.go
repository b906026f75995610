package database

import (
	"fmt"
	"time"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/stats"
	"github.com/KevoDB/blockdb/pkg/storage"
)

// IndexInfo describes one index for listings
type IndexInfo struct {
	Table      string
	Field      string
	KeyType    index.KeyType
	Block      uint32
	Keys       int
	PrimaryKey bool
}

func (db *Database) tableIndexes(table string) []*index.Index {
	var out []*index.Index
	for _, idx := range db.indexes {
		if idx.TableName() == table {
			out = append(out, idx)
		}
	}
	return out
}

func (db *Database) findIndex(table, field string) *index.Index {
	for _, idx := range db.indexes {
		if idx.TableName() == table && idx.FieldName() == field {
			return idx
		}
	}
	return nil
}

// primaryIndex returns the index every scan of e walks
func (db *Database) primaryIndex(e *entity.Entity) (*index.Index, error) {
	pk, ok := e.PrimaryKey()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, e.Name())
	}
	idx := db.findIndex(e.Name(), pk.Name)
	if idx == nil {
		return nil, fmt.Errorf("%w: %s has no index on %s", ErrNoPrimaryKey, e.Name(), pk.Name)
	}
	return idx, nil
}

func (db *Database) addIndex(idx *index.Index) error {
	data, err := idx.Encode()
	if err != nil {
		return err
	}
	head, err := db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeIndex,
		RefID: idx.RefID(),
		Start: storage.NewBlock,
	})
	if err != nil {
		return fmt.Errorf("failed to write index %s.%s: %w", idx.TableName(), idx.FieldName(), err)
	}
	idx.SetBlockNum(head)
	idx.SetChanged(false)
	db.indexes = append(db.indexes, idx)
	db.changed = true
	return nil
}

func (db *Database) removeIndex(target *index.Index) error {
	if _, err := db.store.ReleaseChain(target.BlockNum()); err != nil {
		return err
	}
	for i, idx := range db.indexes {
		if idx == target {
			db.indexes = append(db.indexes[:i], db.indexes[i+1:]...)
			break
		}
	}
	db.changed = true
	return nil
}

// CreateIndex builds a unique index on table.field from the existing rows
func (db *Database) CreateIndex(table, field string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := db.createIndex(table, field)
	db.track(stats.OpCreateIndex, start, err)
	return err
}

func (db *Database) createIndex(table, field string) error {
	e, ok := db.entities[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	attr, ok := e.Attribute(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, table, field)
	}
	if db.findIndex(table, field) != nil {
		return fmt.Errorf("%w: %s.%s", ErrIndexExists, table, field)
	}
	keyType, err := index.KeyTypeFor(attr.Type)
	if err != nil {
		return err
	}

	idx := index.New(table, field, keyType)
	rows, err := db.collect(e, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		v, ok := r.Field(field)
		if !ok {
			continue
		}
		k, err := index.KeyFromValue(v)
		if err != nil {
			return err
		}
		if err := idx.Insert(k, r.BlockNum); err != nil {
			return err
		}
	}

	if err := db.addIndex(idx); err != nil {
		return err
	}
	db.logger.Info("created index %s.%s at block %d (%d keys)", table, field, idx.BlockNum(), idx.Len())
	return nil
}

// DropIndex removes a secondary index. The primary-key index cannot be dropped.
func (db *Database) DropIndex(table, field string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := db.dropIndex(table, field)
	db.track(stats.OpDropIndex, start, err)
	return err
}

func (db *Database) dropIndex(table, field string) error {
	e, ok := db.entities[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	idx := db.findIndex(table, field)
	if idx == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, table, field)
	}
	if pk, ok := e.PrimaryKey(); ok && pk.Name == field {
		return fmt.Errorf("%w: cannot drop index %s.%s", ErrPrimaryKey, table, field)
	}
	if err := db.removeIndex(idx); err != nil {
		return err
	}
	db.logger.Info("dropped index %s.%s", table, field)
	return nil
}

// Indexes lists every index ordered by table, then field
func (db *Database) Indexes() []IndexInfo {
	var out []IndexInfo
	for _, table := range db.TableNames() {
		e := db.entities[table]
		pk, _ := e.PrimaryKey()
		for _, idx := range db.tableIndexes(table) {
			out = append(out, IndexInfo{
				Table:      table,
				Field:      idx.FieldName(),
				KeyType:    idx.KeyType(),
				Block:      idx.BlockNum(),
				Keys:       idx.Len(),
				PrimaryKey: pk != nil && pk.Name == idx.FieldName(),
			})
		}
	}
	return out
}

// IndexPairs returns the key/block pairs of the named indexes of table, or
// of all its indexes when no field is given
func (db *Database) IndexPairs(table string, fields ...string) (map[string][]index.Pair, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := db.entities[table]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	out := make(map[string][]index.Pair)
	if len(fields) == 0 {
		for _, idx := range db.tableIndexes(table) {
			out[idx.FieldName()] = idx.Pairs()
		}
		return out, nil
	}
	for _, field := range fields {
		idx := db.findIndex(table, field)
		if idx == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, table, field)
		}
		out[field] = idx.Pairs()
	}
	return out, nil
}

// indexKeys returns the key each index of the table holds for r
func indexKeys(indexes []*index.Index, r *row.Row) (map[*index.Index]index.Key, error) {
	keys := make(map[*index.Index]index.Key, len(indexes))
	for _, idx := range indexes {
		v, ok := r.Field(idx.FieldName())
		if !ok {
			continue
		}
		k, err := index.KeyFromValue(v)
		if err != nil {
			return nil, err
		}
		keys[idx] = k
	}
	return keys, nil
}
