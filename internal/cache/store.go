// Package cache keeps fetched remote media on disk, zstd-compressed, with
// least-recently-used eviction once the configured capacity is reached.
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

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

const (
	indexFile = "index.gob"
	// payloads smaller than this are stored as-is
	minCompressSize = 1024
)

// ErrItemTooLarge is returned when a single item exceeds the capacity.
var ErrItemTooLarge = errors.New("item too large for cache")

// Stats is a snapshot of cache usage.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate is hits over lookups, 0 when nothing was looked up yet.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (s Stats) String() string {
	return fmt.Sprintf("%s / %s, %d items, %.0f%% hits",
		humanize.Bytes(uint64(s.Size)), humanize.Bytes(uint64(s.Capacity)), s.Items, s.HitRate()*100)
}

type entry struct {
	Key        string
	File       string
	Size       int64
	Original   int64
	Compressed bool
	Stored     time.Time
	LastAccess time.Time
	// Tick orders entries by recency; larger is more recent.
	Tick uint64
}

// Options configures a Store.
type Options struct {
	Fs  afero.Fs
	Dir string
	// Capacity is the on-disk size limit in bytes.
	Capacity int64
	// CompressionLevel is a zstd level; 0 disables compression.
	CompressionLevel int
	Logger           *log.Logger
}

// Store is a persistent key/value byte cache.
type Store struct {
	mu       sync.Mutex
	fs       afero.Afero
	dir      string
	capacity int64
	size     int64
	clock    uint64
	index    map[string]*entry
	stats    Stats
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	logger   *log.Logger
}

// Open creates the cache directory if needed and loads any existing index.
func Open(opts Options) (*Store, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("invalid cache capacity %d", opts.Capacity)
	}

	s := &Store{
		fs:       afero.Afero{Fs: opts.Fs},
		dir:      opts.Dir,
		capacity: opts.Capacity,
		index:    make(map[string]*entry),
		logger:   opts.Logger,
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if opts.CompressionLevel > 0 {
		var err error
		s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// always able to read entries written with compression on
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	s.dec = dec

	if err := s.loadIndex(); err != nil {
		s.logger.Warn("cache index unreadable, starting empty", "dir", s.dir, "err", err)
		s.index = make(map[string]*entry)
	}
	for _, e := range s.index {
		s.size += e.Size
		s.clock = max(s.clock, e.Tick)
	}
	s.logger.Debug("cache opened", "dir", s.dir, "items", len(s.index), "size", humanize.Bytes(uint64(s.size)))
	return s, nil
}

// Key derives a stable cache key from arbitrary parts, e.g. a URL.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value. Missing or corrupt files count as misses
// and are dropped from the index.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[key]
	if !ok {
		s.stats.Misses++
		return nil, false
	}
	data, err := s.fs.ReadFile(e.File)
	if err == nil && e.Compressed {
		data, err = s.dec.DecodeAll(data, nil)
	}
	if err != nil {
		s.logger.Warn("dropping unreadable cache entry", "key", key, "err", err)
		s.removeLocked(e)
		s.stats.Misses++
		return nil, false
	}
	e.LastAccess = time.Now()
	s.clock++
	e.Tick = s.clock
	s.stats.Hits++
	return data, true
}

// Contains reports whether key is cached without touching its access time.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Put stores value under key, evicting least recently used entries to fit.
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, compressed := value, false
	if s.enc != nil && len(value) > minCompressSize {
		if c := s.enc.EncodeAll(value, nil); len(c) < len(value) {
			data, compressed = c, true
		}
	}
	size := int64(len(data))
	if size > s.capacity {
		return ErrItemTooLarge
	}

	if old, ok := s.index[key]; ok {
		s.removeLocked(old)
	}
	for s.size+size > s.capacity && len(s.index) > 0 {
		s.evictLocked()
	}

	h := Key(key)
	name := filepath.Join(s.dir, h[:2], h)
	if err := s.writeFile(name, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	now := time.Now()
	s.clock++
	s.index[key] = &entry{
		Key:        key,
		File:       name,
		Size:       size,
		Original:   int64(len(value)),
		Compressed: compressed,
		Stored:     now,
		LastAccess: now,
		Tick:       s.clock,
	}
	s.size += size
	s.logger.Debug("cached", "key", key, "size", humanize.Bytes(uint64(len(value))), "stored", humanize.Bytes(uint64(size)))
	return s.saveIndex()
}

// Delete removes key if present.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.index[key]; ok {
		s.removeLocked(e)
		return s.saveIndex()
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.index {
		s.removeLocked(e)
	}
	return s.saveIndex()
}

// Stats returns current usage.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Capacity = s.capacity
	st.Size = s.size
	st.Items = len(s.index)
	return st
}

// Close persists the index and releases the codecs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.saveIndex()
	if s.enc != nil {
		s.enc.Close()
	}
	s.dec.Close()
	return err
}

func (s *Store) removeLocked(e *entry) {
	s.fs.Remove(e.File)
	delete(s.index, e.Key)
	s.size -= e.Size
}

func (s *Store) evictLocked() {
	entries := make([]*entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Tick < entries[j].Tick
	})
	oldest := entries[0]
	s.removeLocked(oldest)
	s.stats.Evictions++
	s.logger.Debug("evicted", "key", oldest.Key, "size", humanize.Bytes(uint64(oldest.Size)))
}

// writeFile writes through a temp file so a crash never leaves a torn entry.
func (s *Store) writeFile(name string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) loadIndex() error {
	f, err := s.fs.Open(filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var index map[string]*entry
	if err := gob.NewDecoder(f).Decode(&index); err != nil {
		return err
	}
	// entries whose files vanished are forgotten
	for k, e := range index {
		if ok, _ := s.fs.Exists(e.File); !ok {
			delete(index, k)
		}
	}
	s.index = index
	return nil
}

func (s *Store) saveIndex() error {
	name := filepath.Join(s.dir, indexFile)
	f, err := s.fs.Create(name + ".tmp")
	if err != nil {
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(s.index); err != nil {
		f.Close()
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	if err := s.fs.Rename(name+".tmp", name); err != nil {
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	return nil
}
