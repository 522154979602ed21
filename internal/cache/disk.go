package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "index.gob"

	// minCompressSize is the smallest payload worth compressing.
	minCompressSize = 1024
)

// DiskStore persists synthesized PCM across runs, compressed with zstd and
// evicted least-recently-used once it outgrows its capacity. It sits below
// the per-session AudioCache: a hit here costs no synthesis quota.
type DiskStore struct {
	dir      string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry
	dirty bool

	mu    sync.Mutex
	stats Stats
}

// diskEntry is persisted in the gob index.
type diskEntry struct {
	Key          string
	File         string
	Size         int64 // on disk
	OriginalSize int64
	Created      time.Time
	LastAccess   time.Time
	Hits         int64
	Compressed   bool
}

// NewDiskStore opens (or creates) a store in dir. A compression level of zero
// or less stores payloads uncompressed.
func NewDiskStore(dir string, capacity int64, compressionLevel int) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &DiskStore{
		dir:      dir,
		capacity: capacity,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Capacity: capacity},
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Entries written at a different level (or uncompressed) stay readable.
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	ds.decoder = decoder

	if err := ds.loadIndex(); err != nil {
		// A corrupt index only costs the cached audio.
		ds.index = make(map[string]*diskEntry)
	}
	for _, e := range ds.index {
		ds.size += e.Size
	}
	return ds, nil
}

// Get returns the payload stored under key.
func (ds *DiskStore) Get(key string) ([]byte, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	e, ok := ds.index[key]
	if !ok {
		ds.miss()
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(ds.dir, e.File))
	if err == nil && e.Compressed {
		data, err = ds.decoder.DecodeAll(data, nil)
	}
	if err != nil {
		ds.dropLocked(key, e)
		ds.miss()
		return nil, false
	}

	now := time.Now()
	e.LastAccess = now
	e.Hits++
	ds.dirty = true
	ds.stats.Hits++
	ds.stats.LastAccess = now
	ds.stats.updateHitRate()
	return data, true
}

// Put stores value under key, evicting the least recently used entries as
// needed.
func (ds *DiskStore) Put(key string, value []byte) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	payload, compressed := value, false
	if ds.encoder != nil && len(value) > minCompressSize {
		if packed := ds.encoder.EncodeAll(value, nil); len(packed) < len(value) {
			payload, compressed = packed, true
		}
	}

	diskSize := int64(len(payload))
	if ds.capacity > 0 && diskSize > ds.capacity {
		return ErrItemTooLarge
	}
	if old, ok := ds.index[key]; ok {
		ds.dropLocked(key, old)
	}
	for ds.capacity > 0 && ds.size+diskSize > ds.capacity && len(ds.index) > 0 {
		ds.evictOldestLocked()
	}

	name := fileName(key)
	if err := writeAtomic(filepath.Join(ds.dir, name), payload); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	ds.index[key] = &diskEntry{
		Key:          key,
		File:         name,
		Size:         diskSize,
		OriginalSize: int64(len(value)),
		Created:      now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	ds.size += diskSize
	ds.dirty = true
	return nil
}

// Contains checks if a key exists without touching its access time.
func (ds *DiskStore) Contains(key string) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.index[key]
	return ok
}

// Clear removes every entry.
func (ds *DiskStore) Clear() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for key, e := range ds.index {
		ds.dropLocked(key, e)
	}
	ds.size = 0
	return ds.saveIndexLocked()
}

// RemoveOlderThan removes entries created before cutoff.
func (ds *DiskStore) RemoveOlderThan(cutoff time.Time) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	removed := 0
	for key, e := range ds.index {
		if e.Created.Before(cutoff) {
			ds.dropLocked(key, e)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics.
func (ds *DiskStore) Stats() Stats {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	stats := ds.stats
	stats.Size = ds.size
	stats.ItemCount = int64(len(ds.index))
	return stats
}

// Dir returns the directory backing the store.
func (ds *DiskStore) Dir() string {
	return ds.dir
}

// Close persists the index.
func (ds *DiskStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.dirty {
		return nil
	}
	return ds.saveIndexLocked()
}

func (ds *DiskStore) miss() {
	ds.stats.Misses++
	ds.stats.updateHitRate()
}

func (ds *DiskStore) dropLocked(key string, e *diskEntry) {
	_ = os.Remove(filepath.Join(ds.dir, e.File))
	delete(ds.index, key)
	ds.size -= e.Size
	ds.dirty = true
}

func (ds *DiskStore) evictOldestLocked() {
	entries := make([]*diskEntry, 0, len(ds.index))
	for _, e := range ds.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	oldest := entries[0]
	ds.dropLocked(oldest.Key, oldest)
	ds.stats.Evictions++
	ds.stats.LastEvict = time.Now()
}

func (ds *DiskStore) loadIndex() error {
	f, err := os.Open(filepath.Join(ds.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(&ds.index)
}

func (ds *DiskStore) saveIndexLocked() error {
	path := filepath.Join(ds.dir, indexFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(ds.index)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	ds.dirty = false
	return nil
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".pcm"
}

// writeAtomic writes to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
