package database

import (
	"time"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/stats"
)

// BlockInfo is one entry of a block dump
type BlockInfo struct {
	Number uint32
	Header block.Header
}

// DebugDump returns the header of every block in block-number order
func (db *Database) DebugDump() ([]BlockInfo, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	var out []BlockInfo
	err := db.store.Each(func(n uint32, b *block.Block) bool {
		out = append(out, BlockInfo{Number: n, Header: b.Header})
		return true
	})
	db.track(stats.OpDump, start, err)
	return out, err
}

// FreeBlocks returns the block numbers currently available for reuse
func (db *Database) FreeBlocks() []uint32 {
	return db.store.FreeBlocks()
}
