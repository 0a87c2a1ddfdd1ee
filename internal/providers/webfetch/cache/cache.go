// Package cache stores extracted documents on disk keyed by canonical URL
// and rendering method.
//
// Entries live at dir/<key[0:2]>/<key>.json and are written with a temp file
// and rename so readers never observe a partial entry. Expiry is fixed at
// write time; reads refresh last_accessed_at only, which drives LRU eviction.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/canon"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/extract"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxEntries = 1000
	DefaultMaxBytes   = int64(1 << 30)
)

// ErrEntryTooLarge is returned by Put when a serialized entry exceeds the
// byte limit on its own.
var ErrEntryTooLarge = errors.New("cache entry exceeds byte limit")

// Config configures a Store.
type Config struct {
	Dir        string
	TTL        time.Duration
	MaxEntries int
	MaxBytes   int64
}

// Store is a disk-backed document cache. It is safe for concurrent use.
type Store struct {
	dir        string
	ttl        time.Duration
	maxEntries int
	maxBytes   int64
	logger     *zap.Logger

	// mu guards index and serializes writers. The index is built from disk
	// on first use and kept current by Put, Get and eviction.
	mu    sync.Mutex
	index map[string]record
	now   func() time.Time
}

// New creates the cache directory and returns a store.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Store{
		dir:        cfg.Dir,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string { return s.dir }

// Get returns the live entry for u and method. Missing, corrupt, expired and
// version-mismatched entries are all misses; the latter three are removed.
func (s *Store) Get(u canon.URL, method Method) (Entry, bool) {
	key := Key(u, method)
	path := entryPath(s.dir, key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, false
	}

	var entry Entry
	if err := sonic.Unmarshal(data, &entry); err != nil {
		s.discard(path, key, "corrupt")
		return Entry{}, false
	}
	if entry.Version != Version {
		s.discard(path, key, "version_mismatch")
		return Entry{}, false
	}
	now := s.now()
	if entry.Expired(now) {
		s.discard(path, key, "expired")
		return Entry{}, false
	}

	entry.LastAccessedAt = formatTime(now)
	if data, err := sonic.Marshal(entry); err == nil {
		if err := writeAtomic(path, data); err != nil {
			s.logger.Debug("Cache touch failed", zap.String("key", key), zap.Error(err))
		} else {
			s.touch(key, now, int64(len(data)))
		}
	}
	return entry, true
}

func (s *Store) touch(key string, now time.Time, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.index[key]; ok {
		r.accessed = now.UTC().Truncate(time.Second)
		r.size = size
		s.index[key] = r
	}
}

// Put evicts enough entries to make room for doc under both limits, then
// stores it for u and method. The new entry is never an eviction candidate.
func (s *Store) Put(u canon.URL, method Method, final canon.URL, doc extract.Document) error {
	now := s.now()
	entry := Entry{
		Version:        Version,
		FetchedAt:      formatTime(now),
		ExpiresAt:      formatTime(now.Add(s.ttl)),
		LastAccessedAt: formatTime(now),
		FinalURL:       final.String(),
		Title:          doc.Title,
		Language:       doc.Language,
		Markdown:       doc.Markdown,
	}
	data, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrEntryTooLarge, len(data), s.maxBytes)
	}

	key := Key(u, method)
	path := entryPath(s.dir, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndex(); err != nil {
		return fmt.Errorf("index cache: %w", err)
	}
	if err := s.evictLocked(1, int64(len(data)), key); err != nil {
		s.logger.Debug("Cache eviction incomplete", zap.String("key", key), zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	s.index[key] = record{
		key:      key,
		path:     path,
		size:     int64(len(data)),
		accessed: now.UTC().Truncate(time.Second),
		expires:  now.Add(s.ttl).UTC().Truncate(time.Second),
	}
	return nil
}

func (s *Store) discard(path, key, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("Cache discard failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
	s.logger.Debug("Cache entry discarded", zap.String("key", key), zap.String("reason", reason))
}

// writeAtomic writes data beside path and renames it into place. A rename
// that crosses devices falls back to copy and delete.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	err = os.Rename(tmpName, path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return copyFile(tmpName, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open cache entry: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy cache entry: %w", err)
	}
	return out.Close()
}
