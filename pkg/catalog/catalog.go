// Package catalog manages the database files of one storage directory and
// tracks which of them is in use.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/config"
	"github.com/KevoDB/blockdb/pkg/database"
)

var (
	ErrDatabaseExists  = database.ErrDatabaseExists
	ErrUnknownDatabase = database.ErrUnknownDatabase

	// ErrInvalidName is returned for names that cannot be used as file names
	ErrInvalidName = errors.New("invalid database name")

	// ErrNoDatabase is returned when no database is in use
	ErrNoDatabase = errors.New("no database selected")
)

// Manager creates, opens, lists and drops databases under cfg.StorageDir
type Manager struct {
	cfg     *config.Config
	opts    []database.Option
	base    log.Logger
	logger  log.Logger
	current *database.Database
}

// NewManager creates the storage directory if needed
func NewManager(cfg *config.Config, logger log.Logger, opts ...database.Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		base:   logger,
		logger: logger.WithField("component", "catalog"),
	}, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) options(name string) []database.Option {
	opts := []database.Option{database.WithLogger(m.base.WithFields(map[string]interface{}{
		"component": "database",
		"db":        name,
	}))}
	return append(opts, m.opts...)
}

// Create creates an empty database. It does not make it current.
func (m *Manager) Create(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	db, err := database.Create(name, m.cfg, m.options(name)...)
	if err != nil {
		return err
	}
	return db.Close()
}

// Use opens the named database and makes it current, closing the previous one
func (m *Manager) Use(name string) (*database.Database, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if m.current != nil && m.current.Name() == name {
		return m.current, nil
	}

	db, err := database.Open(name, m.cfg, m.options(name)...)
	if err != nil {
		return nil, err
	}
	if err := m.closeCurrent(); err != nil {
		db.Close()
		return nil, err
	}
	m.current = db
	return db, nil
}

// Current returns the database in use
func (m *Manager) Current() (*database.Database, error) {
	if m.current == nil {
		return nil, ErrNoDatabase
	}
	return m.current, nil
}

// Drop deletes the named database file. If it is the current database it
// is closed first and the number of its tables is returned.
func (m *Manager) Drop(name string) (int, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	count := 0
	if m.current != nil && m.current.Name() == name {
		count = len(m.current.TableNames())
		if err := m.closeCurrent(); err != nil {
			return 0, err
		}
	}

	if err := os.Remove(m.cfg.DBPath(name)); err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
		}
		return 0, fmt.Errorf("failed to remove database %s: %w", name, err)
	}
	m.logger.Info("dropped database %s", name)
	return count, nil
}

// List returns the names of all databases in the storage directory
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != m.cfg.Extension {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), m.cfg.Extension))
	}
	sort.Strings(names)
	return names, nil
}

// Dump returns the block headers of the named database, opening it
// temporarily when it is not current
func (m *Manager) Dump(name string) ([]database.BlockInfo, error) {
	if m.current != nil && m.current.Name() == name {
		return m.current.DebugDump()
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	db, err := database.Open(name, m.cfg, m.options(name)...)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.DebugDump()
}

func (m *Manager) closeCurrent() error {
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

// Close closes the current database
func (m *Manager) Close() error {
	return m.closeCurrent()
}
