// Package database implements a single-file block database: table schemas,
// primary-key indexes and rows persisted as block chains, with scans,
// updates, deletes and joins executed against the file.
//
// A Database is not safe for concurrent use.
package database

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/common/codec"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/config"
	"github.com/KevoDB/blockdb/pkg/entity"
	"github.com/KevoDB/blockdb/pkg/index"
	"github.com/KevoDB/blockdb/pkg/stats"
	"github.com/KevoDB/blockdb/pkg/storage"
)

const endOfTables = '#'

// Database is an open database file
type Database struct {
	name  string
	path  string
	store *storage.Storage

	// table name -> head block of the entity chain
	tables   map[string]uint32
	entities map[string]*entity.Entity
	indexes  []*index.Index

	changed bool
	closed  bool

	logger log.Logger
	stats  stats.Collector
}

// Option configures a Database
type Option func(*Database)

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(db *Database) {
		db.logger = logger
	}
}

// WithStats sets the statistics collector shared with the storage layer
func WithStats(collector stats.Collector) Option {
	return func(db *Database) {
		db.stats = collector
	}
}

func newDatabase(name, path string, opts []Option) *Database {
	db := &Database{
		name:     name,
		path:     path,
		tables:   make(map[string]uint32),
		entities: make(map[string]*entity.Entity),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = log.GetDefaultLogger().WithFields(map[string]interface{}{
			"component": "database",
			"db":        name,
		})
	}
	if db.stats == nil {
		db.stats = stats.NewAtomicCollector()
	}
	return db
}

func (db *Database) storageOptions(cfg *config.Config) (storage.Options, error) {
	opts, err := storage.OptionsFromConfig(cfg)
	if err != nil {
		return opts, err
	}
	opts.Logger = db.logger.WithField("component", "storage")
	opts.Stats = db.stats
	return opts, nil
}

// Create creates a new database file named name in cfg.StorageDir and
// writes its meta block
func Create(name string, cfg *config.Config, opts ...Option) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := newDatabase(name, cfg.DBPath(name), opts)
	sopts, err := db.storageOptions(cfg)
	if err != nil {
		return nil, err
	}

	db.store, err = storage.Create(db.path, sopts)
	if err != nil {
		if errors.Is(err, storage.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
		}
		return nil, err
	}

	if err := db.saveMeta(true); err != nil {
		db.store.Close()
		return nil, err
	}

	db.logger.Info("created database at %s", db.path)
	return db, nil
}

// Open opens an existing database and loads every table schema and index
func Open(name string, cfg *config.Config, opts ...Option) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := newDatabase(name, cfg.DBPath(name), opts)
	start := db.stats.StartOpen()

	sopts, err := db.storageOptions(cfg)
	if err != nil {
		return nil, err
	}

	db.store, err = storage.Open(db.path, sopts)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
		}
		return nil, err
	}

	if err := db.load(); err != nil {
		db.store.Close()
		return nil, err
	}

	db.stats.FinishOpen(start, uint64(len(db.tables)), uint64(len(db.indexes)),
		uint64(len(db.store.FreeBlocks())))
	db.logger.Info("opened database at %s: %d tables, %d indexes", db.path, len(db.tables), len(db.indexes))
	return db, nil
}

func (db *Database) load() error {
	data, err := db.store.LoadTyped(storage.MetaBlock, block.TypeMeta)
	if err != nil {
		return fmt.Errorf("failed to load meta block: %w", err)
	}

	indexBlocks, err := db.decodeMeta(data)
	if err != nil {
		return err
	}

	for name, n := range db.tables {
		data, err := db.store.LoadTyped(n, block.TypeEntity)
		if err != nil {
			return fmt.Errorf("failed to load table %s: %w", name, err)
		}
		e := &entity.Entity{}
		if err := e.Decode(data); err != nil {
			return fmt.Errorf("failed to load table %s: %w", name, err)
		}
		db.entities[name] = e
	}

	for _, n := range indexBlocks {
		data, err := db.store.LoadTyped(n, block.TypeIndex)
		if err != nil {
			return fmt.Errorf("failed to load index at block %d: %w", n, err)
		}
		idx := &index.Index{}
		if err := idx.Decode(data); err != nil {
			return fmt.Errorf("failed to load index at block %d: %w", n, err)
		}
		if _, ok := db.entities[idx.TableName()]; !ok {
			db.logger.Warn("index %s.%s at block %d has no table, skipping",
				idx.TableName(), idx.FieldName(), n)
			continue
		}
		idx.SetBlockNum(n)
		db.indexes = append(db.indexes, idx)
	}

	return nil
}

func (db *Database) encodeMeta() []byte {
	e := codec.NewEncoder(64)
	e.PutString(db.name)

	names := db.TableNames()
	e.PutU32(uint32(len(names)))
	for _, name := range names {
		e.PutString(name)
		e.PutU32(db.tables[name])
	}
	e.PutMarker(endOfTables)

	blocks := make([]uint32, 0, len(db.indexes))
	for _, idx := range db.indexes {
		blocks = append(blocks, idx.BlockNum())
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	e.PutU32(uint32(len(blocks)))
	for _, n := range blocks {
		e.PutU32(n)
	}
	return e.Bytes()
}

func (db *Database) decodeMeta(data []byte) ([]uint32, error) {
	d := codec.NewDecoder(data)
	name := d.Str()

	tables := make(map[string]uint32)
	count := d.U32()
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		table := d.Str()
		tables[table] = d.U32()
	}
	d.Marker(endOfTables)

	count = d.U32()
	var blocks []uint32
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		blocks = append(blocks, d.U32())
	}

	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode meta block: %w", err)
	}

	db.name = name
	db.tables = tables
	return blocks, nil
}

func (db *Database) saveMeta(fresh bool) error {
	_, err := db.store.Save(db.encodeMeta(), storage.StorageInfo{
		Type:  block.TypeMeta,
		Start: int64(storage.MetaBlock),
		Fresh: fresh,
	})
	if err != nil {
		return fmt.Errorf("failed to write meta block: %w", err)
	}
	return nil
}

func (db *Database) saveEntity(e *entity.Entity) error {
	data, err := e.Encode()
	if err != nil {
		return err
	}
	_, err = db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeEntity,
		RefID: e.HashName(),
		Start: int64(db.tables[e.Name()]),
	})
	if err != nil {
		return fmt.Errorf("failed to write table %s: %w", e.Name(), err)
	}
	return nil
}

func (db *Database) saveIndex(idx *index.Index) error {
	data, err := idx.Encode()
	if err != nil {
		return err
	}
	_, err = db.store.Save(data, storage.StorageInfo{
		Type:  block.TypeIndex,
		RefID: idx.RefID(),
		Start: int64(idx.BlockNum()),
	})
	if err != nil {
		return fmt.Errorf("failed to write index %s.%s: %w", idx.TableName(), idx.FieldName(), err)
	}
	idx.SetChanged(false)
	return nil
}

// Name returns the database name stored in the meta block
func (db *Database) Name() string {
	return db.name
}

// Path returns the database file path
func (db *Database) Path() string {
	return db.path
}

// Changed reports whether metadata has unsaved modifications
func (db *Database) Changed() bool {
	return db.changed
}

// Flush writes the meta block, every table schema and every dirty index
func (db *Database) Flush() error {
	if db.closed {
		return ErrClosed
	}
	start := time.Now()
	err := db.flush()
	db.track(stats.OpFlush, start, err)
	return err
}

func (db *Database) flush() error {
	for _, name := range db.TableNames() {
		if err := db.saveEntity(db.entities[name]); err != nil {
			return err
		}
	}
	for _, idx := range db.indexes {
		if !idx.Changed() {
			continue
		}
		if err := db.saveIndex(idx); err != nil {
			return err
		}
	}
	if err := db.saveMeta(false); err != nil {
		return err
	}
	if err := db.store.Sync(); err != nil {
		return err
	}
	db.changed = false
	db.logger.Debug("flushed %d tables and %d indexes", len(db.tables), len(db.indexes))
	return nil
}

// Close flushes pending metadata if anything changed and closes the file
func (db *Database) Close() error {
	if db.closed {
		return nil
	}

	var err error
	if db.changed {
		err = db.flush()
	}
	db.closed = true

	if cerr := db.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	db.logger.Info("closed database")
	return err
}

// Stats returns the collected statistics
func (db *Database) Stats() map[string]interface{} {
	return db.stats.GetStats()
}

func (db *Database) track(op stats.OperationType, start time.Time, err error) {
	db.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		db.stats.TrackError(string(op) + "_error")
	}
}

func (db *Database) checkOpen() error {
	if db.closed {
		return ErrClosed
	}
	return nil
}
