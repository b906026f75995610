package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	CurrentConfigVersion = 1

	DefaultBlockSize = 1024
	DefaultExtension = ".db"

	// MinBlockSize leaves room for the block header plus a usable payload
	MinBlockSize = 64
	MaxBlockSize = 1 << 20
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

// Compression names the codec applied to record buffers before they are
// split into blocks
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

type Config struct {
	Version int `json:"version"`

	// Location of database files
	StorageDir string `json:"storage_dir"`
	Extension  string `json:"extension"`

	// Block layout
	BlockSize       int         `json:"block_size"`
	Compression     Compression `json:"compression"`
	VerifyChecksums bool        `json:"verify_checksums"`
	SyncWrites      bool        `json:"sync_writes"`

	LogLevel string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(storageDir string) *Config {
	return &Config{
		Version:         CurrentConfigVersion,
		StorageDir:      storageDir,
		Extension:       DefaultExtension,
		BlockSize:       DefaultBlockSize,
		Compression:     CompressionNone,
		VerifyChecksums: true,
		SyncWrites:      false,
		LogLevel:        "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.StorageDir == "" {
		return fmt.Errorf("%w: storage directory not specified", ErrInvalidConfig)
	}

	if c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size must be between %d and %d, got %d",
			ErrInvalidConfig, MinBlockSize, MaxBlockSize, c.BlockSize)
	}

	switch c.Compression {
	case CompressionNone, CompressionSnappy, CompressionZstd, "":
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}

	return nil
}

// DBPath returns the file path of the named database
func (c *Config) DBPath(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(c.StorageDir, name+c.Extension)
}

// LoadConfig reads a JSON configuration file. Fields absent from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as JSON to path
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
