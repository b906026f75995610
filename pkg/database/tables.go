package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/query"
	"github.com/KevoDB/blockdb/pkg/row"
	"github.com/KevoDB/blockdb/pkg/stats"
	"github.com/KevoDB/blockdb/pkg/storage"
)

// AlterMode selects what AlterTable does with the attribute
type AlterMode int

const (
	AlterAdd AlterMode = iota
	AlterDrop
)

func (m AlterMode) String() string {
	if m == AlterDrop {
		return "drop"
	}
	return "add"
}

// TableNames returns the table names in sorted order
func (db *Database) TableNames() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entity returns the schema of a table
func (db *Database) Entity(name string) (*entity.Entity, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	e, ok := db.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return e, nil
}

// TableBlock returns the head block of a table's schema chain
func (db *Database) TableBlock(name string) (uint32, bool) {
	n, ok := db.tables[name]
	return n, ok
}

func (db *Database) entityFor(q *query.Query) (*entity.Entity, error) {
	if q == nil || q.Entity == nil {
		return nil, ErrUnknownCommand
	}
	e, ok := db.entities[q.Entity.Name()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, q.Entity.Name())
	}
	return e, nil
}

// AddTable creates a table and its primary-key index
func (db *Database) AddTable(name string, attributes []entity.Attribute) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := db.addTable(name, attributes)
	db.track(stats.OpCreateTable, start, err)
	return err
}

func (db *Database) addTable(name string, attributes []entity.Attribute) error {
	if _, ok := db.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	e := entity.New(name, attributes)
	if err := e.Validate(); err != nil {
		return err
	}
	pk, ok := e.PrimaryKey()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, name)
	}
	keyType, err := index.KeyTypeFor(pk.Type)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoPrimaryKey, name, err)
	}

	data, err := e.Encode()
	if err != nil {
		return err
	}
	head, err := db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeEntity,
		RefID: e.HashName(),
		Start: storage.NewBlock,
	})
	if err != nil {
		return fmt.Errorf("failed to write table %s: %w", name, err)
	}
	db.tables[name] = head
	db.entities[name] = e
	db.changed = true

	idx := index.New(name, pk.Name, keyType)
	if err := db.addIndex(idx); err != nil {
		return err
	}

	db.logger.Info("created table %s at block %d with primary key %s", name, head, pk.Name)
	return nil
}

// DropTable deletes every row of a table, its indexes and its schema.
// It returns the number of rows deleted.
func (db *Database) DropTable(name string) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	count, err := db.dropTable(name)
	db.track(stats.OpDropTable, start, err)
	return count, err
}

func (db *Database) dropTable(name string) (int, error) {
	e, ok := db.entities[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	count, err := db.deleteRows(query.New(e))
	if err != nil {
		return count, err
	}

	for _, idx := range db.tableIndexes(name) {
		if err := db.removeIndex(idx); err != nil {
			return count, err
		}
	}

	if _, err := db.store.ReleaseChain(db.tables[name]); err != nil {
		return count, err
	}
	delete(db.tables, name)
	delete(db.entities, name)
	db.changed = true

	db.logger.Info("dropped table %s (%d rows)", name, count)
	return count, nil
}

// AlterTable adds or drops an attribute and rewrites every row of the table
// to match. It returns the number of rows rewritten.
func (db *Database) AlterTable(name string, mode AlterMode, attr entity.Attribute) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	count, err := db.alterTable(name, mode, attr)
	db.track(stats.OpAlterTable, start, err)
	return count, err
}

func (db *Database) alterTable(name string, mode AlterMode, attr entity.Attribute) (int, error) {
	e, ok := db.entities[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	var edit func(r *row.Row)
	switch mode {
	case AlterAdd:
		if attr.PrimaryKey {
			return 0, fmt.Errorf("%w: %s already has a primary key", ErrPrimaryKey, name)
		}
		if err := e.AddAttribute(attr); err != nil {
			return 0, err
		}
		value := attr.EmptyValue()
		edit = func(r *row.Row) { r.Add(attr.Name, value) }

	case AlterDrop:
		existing, ok := e.Attribute(attr.Name)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, name, attr.Name)
		}
		if existing.PrimaryKey {
			return 0, fmt.Errorf("%w: cannot drop %s.%s", ErrPrimaryKey, name, attr.Name)
		}
		for _, idx := range db.tableIndexes(name) {
			if idx.FieldName() == attr.Name {
				if err := db.removeIndex(idx); err != nil {
					return 0, err
				}
			}
		}
		if err := e.DropAttribute(attr.Name); err != nil {
			return 0, err
		}
		edit = func(r *row.Row) { r.Drop(attr.Name) }

	default:
		return 0, fmt.Errorf("%w: alter mode %d", ErrUnknownCommand, mode)
	}
	db.changed = true

	rows, err := db.collect(e, nil)
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		edit(r)
		if err := db.saveRow(e, r); err != nil {
			return i, err
		}
	}

	db.logger.Info("altered table %s: %s %s, %d rows rewritten", name, mode, attr.Name, len(rows))
	return len(rows), nil
}
