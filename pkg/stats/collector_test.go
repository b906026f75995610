package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpInsert)
	collector.TrackOperation(OpInsert)
	collector.TrackOperation(OpSelect)

	stats := collector.GetStats()

	if stats["insert_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 insert operations, got %v", stats["insert_ops"])
	}
	if stats["select_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 select operation, got %v", stats["select_ops"])
	}
	if _, exists := stats["last_insert_time"]; !exists {
		t.Errorf("Expected last_insert_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpSelect, 300)
	collector.TrackOperationWithLatency(OpSelect, 100)
	collector.TrackOperationWithLatency(OpSelect, 200)

	latency, ok := collector.GetStats()["select_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected select_latency map in stats")
	}

	if latency["count"].(uint64) != 3 {
		t.Errorf("Expected count 3, got %v", latency["count"])
	}
	if latency["avg_ns"].(uint64) != 200 {
		t.Errorf("Expected avg 200, got %v", latency["avg_ns"])
	}
	if latency["min_ns"].(uint64) != 100 {
		t.Errorf("Expected min 100, got %v", latency["min_ns"])
	}
	if latency["max_ns"].(uint64) != 300 {
		t.Errorf("Expected max 300, got %v", latency["max_ns"])
	}
}

func TestCollector_Blocks(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackBlocks(BlockAllocated, 5)
	collector.TrackBlocks(BlockFreed, 2)
	collector.TrackFreeBlocks(2)
	collector.TrackBytes(true, 4096)
	collector.TrackBytes(false, 1024)

	stats := collector.GetStats()
	if stats["blocks_allocated"].(uint64) != 5 {
		t.Errorf("Expected 5 allocated blocks, got %v", stats["blocks_allocated"])
	}
	if stats["blocks_freed"].(uint64) != 2 {
		t.Errorf("Expected 2 freed blocks, got %v", stats["blocks_freed"])
	}
	if stats["free_blocks"].(uint64) != 2 {
		t.Errorf("Expected free set size 2, got %v", stats["free_blocks"])
	}
	if stats["total_bytes_written"].(uint64) != 4096 || stats["total_bytes_read"].(uint64) != 1024 {
		t.Errorf("Unexpected byte counters: %v / %v", stats["total_bytes_written"], stats["total_bytes_read"])
	}
}

func TestCollector_OpenStats(t *testing.T) {
	collector := NewAtomicCollector()

	start := collector.StartOpen()
	time.Sleep(time.Millisecond)
	collector.FinishOpen(start, 3, 4, 7)

	open := collector.GetStats()["open"].(map[string]interface{})
	if open["tables"].(uint64) != 3 || open["indexes"].(uint64) != 4 || open["free_blocks"].(uint64) != 7 {
		t.Errorf("Unexpected open stats: %v", open)
	}
	if _, ok := open["duration_us"]; !ok {
		t.Errorf("Expected open duration")
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				collector.TrackOperation(OpUpdate)
				collector.TrackError("write_error")
			}
		}()
	}
	wg.Wait()

	stats := collector.GetStats()
	if stats["update_ops"].(uint64) != goroutines*perGoroutine {
		t.Errorf("Expected %d update ops, got %v", goroutines*perGoroutine, stats["update_ops"])
	}
	errs := stats["errors"].(map[string]uint64)
	if errs["write_error"] != goroutines*perGoroutine {
		t.Errorf("Expected %d write errors, got %d", goroutines*perGoroutine, errs["write_error"])
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()
	collector.TrackOperation(OpDelete)
	collector.TrackOperation(OpDropTable)

	filtered := collector.GetStatsFiltered("delete")
	if _, ok := filtered["delete_ops"]; !ok {
		t.Errorf("Expected delete_ops in filtered stats")
	}
	if _, ok := filtered["drop_table_ops"]; ok {
		t.Errorf("Did not expect drop_table_ops in filtered stats")
	}
}
