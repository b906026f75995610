// Command blockdb is a diagnostic shell for block-structured database files.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/KevoDB/blockdb/pkg/catalog"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/config"
	"github.com/KevoDB/blockdb/pkg/database"
	"github.com/KevoDB/blockdb/pkg/stats"
)

const version = "0.1.0"

// CLI defines the command-line interface for blockdb.
var CLI struct {
	Dir         string   `name:"dir" short:"d" help:"Storage directory holding database files (default: current directory)" type:"path"`
	Config      string   `name:"config" short:"c" help:"JSON configuration file" type:"path"`
	BlockSize   int      `name:"block-size" help:"Block size used when creating databases"`
	Compression string   `name:"compression" help:"Record compression for new writes (none, snappy, zstd)"`
	LogLevel    string   `name:"log-level" help:"Log level (debug, info, warn, error)"`
	Exec        []string `name:"exec" short:"e" help:"Run a shell command and exit; may be repeated" sep:"none"`
	Version     bool     `name:"version" help:"Print version information"`

	Database string `arg:"" optional:"" help:"Database to open on startup"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("blockdb"),
		kong.Description("Inspect and manage single-file block databases."),
		kong.UsageOnError(),
	)

	if CLI.Version {
		fmt.Printf("blockdb version %s\n", version)
		return
	}

	cfg, err := loadConfig()
	ctx.FatalIfErrorf(err)

	level, err := log.ParseLevel(cfg.LogLevel)
	ctx.FatalIfErrorf(err)
	logger := log.NewStandardLogger(log.WithOutput(os.Stderr), log.WithLevel(level))
	log.SetDefaultLogger(logger)

	collector := stats.NewAtomicCollector()
	mgr, err := catalog.NewManager(cfg, logger, database.WithStats(collector))
	ctx.FatalIfErrorf(err)
	defer mgr.Close()

	sh := newShell(mgr, os.Stdout)
	if CLI.Database != "" {
		if _, err := mgr.Use(CLI.Database); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
			os.Exit(1)
		}
	}

	if len(CLI.Exec) > 0 {
		for _, line := range CLI.Exec {
			if _, err := sh.execute(line); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				mgr.Close()
				os.Exit(1)
			}
		}
		return
	}

	if err := sh.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		mgr.Close()
		os.Exit(1)
	}
}

// loadConfig merges the optional config file with command-line overrides
func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig(".")
	if CLI.Config != "" {
		loaded, err := config.LoadConfig(CLI.Config)
		if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
			return nil, err
		}
		if loaded != nil {
			cfg = loaded
		}
	}

	cfg.Update(func(c *config.Config) {
		if CLI.Dir != "" {
			c.StorageDir = CLI.Dir
		} else if c.StorageDir == "" {
			c.StorageDir = "."
		}
		if CLI.BlockSize > 0 {
			c.BlockSize = CLI.BlockSize
		}
		if CLI.Compression != "" {
			c.Compression = config.Compression(CLI.Compression)
		}
		if CLI.LogLevel != "" {
			c.LogLevel = CLI.LogLevel
		}
	})

	return cfg, cfg.Validate()
}
