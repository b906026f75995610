package storage

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/blockdb/pkg/block"
	"github.com/KevoDB/blockdb/pkg/common/log"
	"github.com/KevoDB/blockdb/pkg/stats"
)

const testBlockSize = 128

func testOptions() Options {
	return Options{
		BlockSize:       testBlockSize,
		VerifyChecksums: true,
		Logger:          log.NewNopLogger(),
		Stats:           stats.NewAtomicCollector(),
	}
}

func createTestStorage(t *testing.T, opts Options) *Storage {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "test.db"), opts)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func TestSaveLoadChainSizes(t *testing.T) {
	s := createTestStorage(t, testOptions())
	capacity := s.PayloadCapacity()

	sizes := []int{0, 1, capacity, capacity + 1, 5*capacity + 17}
	for _, size := range sizes {
		data := randomBytes(size)
		head, err := s.Save(data, StorageInfo{Type: block.TypeData, Start: NewBlock, ID: 9, RefID: 42})
		if err != nil {
			t.Fatalf("size %d: save failed: %v", size, err)
		}
		if head == MetaBlock {
			t.Fatalf("size %d: record saved into the meta block", size)
		}

		loaded, err := s.Load(head)
		if err != nil {
			t.Fatalf("size %d: load failed: %v", size, err)
		}
		if !bytes.Equal(loaded, data) {
			t.Errorf("size %d: loaded %d bytes, not equal to original", size, len(loaded))
		}

		h, err := s.ReadHeader(head)
		if err != nil {
			t.Fatalf("size %d: read header: %v", size, err)
		}
		want := (size + capacity - 1) / capacity
		if want == 0 {
			want = 1
		}
		if int(h.Count) != want {
			t.Errorf("size %d: expected %d blocks, header says %d", size, want, h.Count)
		}
		if h.ID != 9 || h.RefID != 42 || h.Pos != 0 {
			t.Errorf("size %d: unexpected head header %s", size, h)
		}
	}
}

func TestAllocatorReuse(t *testing.T) {
	s := createTestStorage(t, testOptions())
	capacity := s.PayloadCapacity()

	first, err := s.Save(randomBytes(3*capacity), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(randomBytes(10), StorageInfo{Type: block.TypeData, Start: NewBlock}); err != nil {
		t.Fatal(err)
	}

	released, err := s.ReleaseChain(first)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 3 {
		t.Fatalf("expected 3 released blocks, got %d", released)
	}

	freed := s.FreeBlocks()
	if len(freed) != 3 {
		t.Fatalf("expected 3 free blocks, got %v", freed)
	}

	end, _ := s.BlockCount()
	for i, want := range freed {
		peek, _ := s.NextFreeBlockNumber()
		got, err := s.Reserve()
		if err != nil {
			t.Fatal(err)
		}
		if got != want || peek != want {
			t.Errorf("allocation %d: expected %d, got %d (peek %d)", i, want, got, peek)
		}
	}

	next, err := s.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if next != end {
		t.Errorf("expected first block past EOF %d, got %d", end, next)
	}
}

func TestSaveInPlaceReflow(t *testing.T) {
	s := createTestStorage(t, testOptions())
	capacity := s.PayloadCapacity()

	head, err := s.Save(randomBytes(capacity), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("grow", func(t *testing.T) {
		data := randomBytes(4 * capacity)
		got, err := s.Save(data, StorageInfo{Type: block.TypeData, Start: int64(head)})
		if err != nil {
			t.Fatal(err)
		}
		if got != head {
			t.Fatalf("in-place save moved the head from %d to %d", head, got)
		}
		loaded, err := s.Load(head)
		if err != nil || !bytes.Equal(loaded, data) {
			t.Fatalf("grown record did not round-trip: %v", err)
		}
	})

	t.Run("shrink", func(t *testing.T) {
		data := randomBytes(capacity / 2)
		if _, err := s.Save(data, StorageInfo{Type: block.TypeData, Start: int64(head)}); err != nil {
			t.Fatal(err)
		}
		loaded, err := s.Load(head)
		if err != nil || !bytes.Equal(loaded, data) {
			t.Fatalf("shrunk record did not round-trip: %v", err)
		}
		if n := len(s.FreeBlocks()); n != 3 {
			t.Errorf("expected the 3 surplus blocks to be freed, free set has %d", n)
		}
	})
}

func TestReserveFresh(t *testing.T) {
	s := createTestStorage(t, testOptions())

	head, err := s.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if head == other {
		t.Fatalf("two reservations returned the same block %d", head)
	}

	data := randomBytes(3 * s.PayloadCapacity())
	got, err := s.Save(data, StorageInfo{Type: block.TypeEntity, Start: int64(head), Fresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if got != head {
		t.Errorf("expected record at reserved block %d, got %d", head, got)
	}

	s.Release(other)
	if free := s.FreeBlocks(); len(free) != 1 || free[0] != other {
		t.Errorf("expected released reservation %d in the free set, got %v", other, free)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecSnappy, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			opts := testOptions()
			opts.Codec = codec
			s := createTestStorage(t, opts)

			data := bytes.Repeat([]byte("blockdb row payload "), 64)
			head, err := s.Save(data, StorageInfo{Type: block.TypeData, Start: NewBlock})
			if err != nil {
				t.Fatal(err)
			}

			h, _ := s.ReadHeader(head)
			if Codec(h.Flags) != codec {
				t.Errorf("expected codec %s in header flags, got %d", codec, h.Flags)
			}
			if int(h.Count)*s.PayloadCapacity() >= len(data) {
				t.Errorf("compressed record should need fewer blocks, got %d", h.Count)
			}

			loaded, err := s.Load(head)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(loaded, data) {
				t.Error("decompressed record differs from original")
			}
		})
	}
}

func TestReopenRebuildsFreeSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	opts := testOptions()

	s, err := Create(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save([]byte("meta"), StorageInfo{Type: block.TypeMeta, Start: int64(MetaBlock), Fresh: true}); err != nil {
		t.Fatal(err)
	}
	head, err := s.Save(randomBytes(2*s.PayloadCapacity()), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if err != nil {
		t.Fatal(err)
	}
	keep, err := s.Save([]byte("keep"), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReleaseChain(head); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path, opts)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer s.Close()

	free := s.FreeBlocks()
	if len(free) != 2 || free[0] != head {
		t.Errorf("expected the released chain in the free set, got %v", free)
	}
	if data, err := s.Load(keep); err != nil || string(data) != "keep" {
		t.Errorf("expected kept record, got %q (%v)", data, err)
	}
	if data, err := s.LoadTyped(MetaBlock, block.TypeMeta); err != nil || string(data) != "meta" {
		t.Errorf("expected meta record, got %q (%v)", data, err)
	}

	if _, err := Create(path, opts); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.db"), opts); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	s, err := Create(path, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	head, err := s.Save([]byte("some row bytes"), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("checksum", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteAt([]byte{'X'}, int64(head)*testBlockSize+block.HeaderSize); err != nil {
			t.Fatal(err)
		}
		f.Close()

		if _, err := s.Load(head); !errors.Is(err, ErrChecksum) {
			t.Errorf("expected ErrChecksum, got %v", err)
		}
	})

	t.Run("free head", func(t *testing.T) {
		if _, err := s.ReleaseChain(head); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Load(head); !errors.Is(err, ErrCorruptChain) {
			t.Errorf("expected ErrCorruptChain, got %v", err)
		}
	})

	t.Run("meta block", func(t *testing.T) {
		if _, err := s.alloc.ReleaseChain(MetaBlock); err == nil {
			t.Error("expected error releasing the meta block")
		}
	})
}

// failingFile wraps a real file and fails writes once armed
type failingFile struct {
	*os.File
	failWrites bool
}

var errInjected = errors.New("injected write failure")

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	if f.failWrites {
		return 0, errInjected
	}
	return f.File.WriteAt(p, off)
}

func TestWriteErrorPropagates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failing.db")
	raw, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	file := &failingFile{File: raw}

	opts := testOptions()
	s, err := OpenFile(path, file, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	file.failWrites = true
	_, err = s.Save([]byte("row"), StorageInfo{Type: block.TypeData, Start: NewBlock})
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}

	errs := opts.Stats.GetStats()["errors"].(map[string]uint64)
	if errs["write_error"] != 1 {
		t.Errorf("expected one tracked write error, got %v", errs)
	}
}

func TestEachVisitsAllBlocks(t *testing.T) {
	s := createTestStorage(t, testOptions())
	if _, err := s.Save([]byte("meta"), StorageInfo{Type: block.TypeMeta, Start: int64(MetaBlock), Fresh: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(randomBytes(2*s.PayloadCapacity()), StorageInfo{Type: block.TypeIndex, Start: NewBlock}); err != nil {
		t.Fatal(err)
	}

	var types []block.Type
	err := s.Each(func(n uint32, b *block.Block) bool {
		types = append(types, b.Header.Type)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []block.Type{block.TypeMeta, block.TypeIndex, block.TypeIndex}
	if len(types) != len(want) {
		t.Fatalf("expected %d blocks, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("block %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	visited := 0
	s.Each(func(uint32, *block.Block) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("expected the walk to stop after one block, visited %d", visited)
	}
}

func TestCodecFromConfig(t *testing.T) {
	if c, err := CodecFromConfig("zstd"); err != nil || c != CodecZstd {
		t.Errorf("expected zstd, got %v (%v)", c, err)
	}
	if _, err := CodecFromConfig("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}
