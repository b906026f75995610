package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Database operation types
const (
	OpCreateTable OperationType = "create_table"
	OpDropTable   OperationType = "drop_table"
	OpAlterTable  OperationType = "alter_table"
	OpCreateIndex OperationType = "create_index"
	OpDropIndex   OperationType = "drop_index"
	OpInsert      OperationType = "insert"
	OpSelect      OperationType = "select"
	OpJoin        OperationType = "join"
	OpUpdate      OperationType = "update"
	OpDelete      OperationType = "delete"
	OpDump        OperationType = "dump"
	OpFlush       OperationType = "flush"
)

// BlockEvent distinguishes allocator activity
type BlockEvent int

const (
	BlockAllocated BlockEvent = iota
	BlockFreed
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	blocksAllocated atomic.Uint64
	blocksFreed     atomic.Uint64
	freeBlocks      atomic.Uint64

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	openStats OpenStats

	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// OpenStats describes the most recent database open
type OpenStats struct {
	Tables       atomic.Uint64
	Indexes      atomic.Uint64
	FreeBlocks   atomic.Uint64
	OpenDuration atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64
	min   atomic.Uint64 // zero until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	for {
		current := tracker.max.Load()
		if latencyNs <= current || tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackBlocks records n blocks allocated or freed
func (c *AtomicCollector) TrackBlocks(event BlockEvent, n uint64) {
	switch event {
	case BlockAllocated:
		c.blocksAllocated.Add(n)
	case BlockFreed:
		c.blocksFreed.Add(n)
	}
}

// TrackFreeBlocks records the current free set size
func (c *AtomicCollector) TrackFreeBlocks(n uint64) {
	c.freeBlocks.Store(n)
}

// StartOpen resets the open statistics and returns the start time
func (c *AtomicCollector) StartOpen() time.Time {
	c.openStats.Tables.Store(0)
	c.openStats.Indexes.Store(0)
	c.openStats.FreeBlocks.Store(0)
	c.openStats.OpenDuration.Store(0)
	return time.Now()
}

// FinishOpen completes the open statistics
func (c *AtomicCollector) FinishOpen(startTime time.Time, tables, indexes, freeBlocks uint64) {
	c.openStats.Tables.Store(tables)
	c.openStats.Indexes.Store(indexes)
	c.openStats.FreeBlocks.Store(freeBlocks)
	c.openStats.OpenDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["blocks_allocated"] = c.blocksAllocated.Load()
	stats["blocks_freed"] = c.blocksFreed.Load()
	stats["free_blocks"] = c.freeBlocks.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	openStats := map[string]interface{}{
		"tables":      c.openStats.Tables.Load(),
		"indexes":     c.openStats.Indexes.Load(),
		"free_blocks": c.openStats.FreeBlocks.Load(),
	}
	if d := c.openStats.OpenDuration.Load(); d > 0 {
		openStats["duration_us"] = d / int64(time.Microsecond)
	}
	stats["open"] = openStats

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
