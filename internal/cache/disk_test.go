package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiskStore_BasicOperations(t *testing.T) {
	ds, err := NewDiskStore(t.TempDir(), 1<<20, 3)
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}

	// Silence compresses well, so it exercises the zstd path.
	value := make([]byte, 16*1024)
	if err := ds.Put("v1\x1fhello", value); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := ds.Get("v1\x1fhello")
	if !ok {
		t.Fatal("Get() missed a stored key")
	}
	if !bytes.Equal(got, value) {
		t.Error("Get() returned different bytes")
	}

	stats := ds.Stats()
	if stats.ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", stats.ItemCount)
	}
	if stats.Size >= int64(len(value)) {
		t.Errorf("Size = %d, expected compression below %d", stats.Size, len(value))
	}

	if _, ok := ds.Get("missing"); ok {
		t.Error("Get() hit a missing key")
	}
	if stats := ds.Stats(); stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("hits=%d misses=%d", stats.Hits, stats.Misses)
	}
}

func TestDiskStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ds, err := NewDiskStore(dir, 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Put("k", []byte("short payload")); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewDiskStore(dir, 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get("k")
	if !ok || string(got) != "short payload" {
		t.Errorf("Get() after reopen = %q, %v", got, ok)
	}
}

func TestDiskStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ds, err := NewDiskStore(t.TempDir(), 3000, 0)
	if err != nil {
		t.Fatal(err)
	}

	chunk := bytes.Repeat([]byte{1}, 1000)
	_ = ds.Put("a", chunk)
	time.Sleep(2 * time.Millisecond)
	_ = ds.Put("b", chunk)
	time.Sleep(2 * time.Millisecond)
	_ = ds.Put("c", chunk)
	time.Sleep(2 * time.Millisecond)
	ds.Get("a") // a is now the most recently used
	time.Sleep(2 * time.Millisecond)
	_ = ds.Put("d", chunk)

	if ds.Contains("b") {
		t.Error("least recently used entry survived")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !ds.Contains(k) {
			t.Errorf("entry %q evicted", k)
		}
	}
	if err := ds.Put("huge", make([]byte, 5000)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Put(huge) error = %v, want ErrItemTooLarge", err)
	}
}

func TestDiskStore_CorruptFileIsAMiss(t *testing.T) {
	dir := t.TempDir()
	ds, err := NewDiskStore(dir, 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Put("k", make([]byte, 4096)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileName("k")), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := ds.Get("k"); ok {
		t.Error("Get() returned corrupt data")
	}
	if ds.Contains("k") {
		t.Error("corrupt entry kept in the index")
	}
}

func TestDiskStore_ClearAndPrune(t *testing.T) {
	ds, err := NewDiskStore(t.TempDir(), 1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = ds.Put("old", []byte("x"))
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)
	_ = ds.Put("new", []byte("y"))

	if n := ds.RemoveOlderThan(cutoff); n != 1 {
		t.Errorf("RemoveOlderThan() = %d, want 1", n)
	}
	if err := ds.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if s := ds.Stats(); s.ItemCount != 0 || s.Size != 0 {
		t.Errorf("after Clear() items=%d size=%d", s.ItemCount, s.Size)
	}
}
