package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

// record is the index view of one entry file.
type record struct {
	key      string
	path     string
	size     int64
	accessed time.Time
	expires  time.Time
	invalid  bool
}

func (r record) expired(now time.Time) bool {
	return r.invalid || now.After(r.expires)
}

// header is the subset of Entry the index needs; the Markdown body is
// skipped when decoding.
type header struct {
	Version        int    `json:"version"`
	ExpiresAt      string `json:"expires_at"`
	LastAccessedAt string `json:"last_accessed_at"`
}

// Stats summarizes the live contents of the cache.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Evict rescans the cache directory, then removes expired entries and least
// recently accessed entries until both the entry and byte limits hold. Ties
// on access time break by key.
func (s *Store) Evict() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuildIndex(); err != nil {
		return err
	}
	return s.evictLocked(0, 0, "")
}

// Stats reports unexpired entries.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndex(); err != nil {
		return Stats{}, err
	}
	now := s.now()
	var st Stats
	for _, r := range s.index {
		if r.expired(now) {
			continue
		}
		st.Entries++
		st.Bytes += r.size
	}
	return st, nil
}

// evictLocked makes room for an incoming entry of reserveBytes (one slot
// when reserveBytes > 0). The entry under exclude is about to be replaced
// and is neither counted nor evicted. s.mu must be held.
func (s *Store) evictLocked(reserveEntries int, reserveBytes int64, exclude string) error {
	now := s.now()

	var errs []error
	live := make([]record, 0, len(s.index))
	for key, r := range s.index {
		if key == exclude {
			continue
		}
		if r.expired(now) {
			if err := s.remove(r, "expired"); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		live = append(live, r)
	}

	sort.Slice(live, func(i, j int) bool {
		if !live[i].accessed.Equal(live[j].accessed) {
			return live[i].accessed.Before(live[j].accessed)
		}
		return live[i].key < live[j].key
	})

	count := len(live) + reserveEntries
	bytes := reserveBytes
	for _, r := range live {
		bytes += r.size
	}
	for _, r := range live {
		if count <= s.maxEntries && bytes <= s.maxBytes {
			break
		}
		if err := s.remove(r, "lru"); err != nil {
			errs = append(errs, err)
			continue
		}
		count--
		bytes -= r.size
	}
	return errors.Join(errs...)
}

// remove deletes an entry file and its index record. s.mu must be held.
func (s *Store) remove(r record, reason string) error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	delete(s.index, r.key)
	s.logger.Debug("Cache entry evicted", zap.String("key", r.key), zap.String("reason", reason))
	return nil
}

// loadIndex builds the index on first use. s.mu must be held.
func (s *Store) loadIndex() error {
	if s.index != nil {
		return nil
	}
	return s.rebuildIndex()
}

func (s *Store) rebuildIndex() error {
	records, err := s.scan()
	if err != nil {
		return err
	}
	s.index = make(map[string]record, len(records))
	for _, r := range records {
		s.index[r.key] = r
	}
	return nil
}

// scan reads the header of every entry file under the cache root.
// Unreadable, corrupt and version-mismatched entries are marked invalid so
// eviction clears them.
func (s *Store) scan() ([]record, error) {
	var (
		mu      sync.Mutex
		records []record
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == s.dir {
				return err
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		r := record{
			key:  strings.TrimSuffix(filepath.Base(p), ".json"),
			path: p,
			size: info.Size(),
		}

		data, err := os.ReadFile(p)
		var h header
		if err != nil || sonic.Unmarshal(data, &h) != nil || h.Version != Version {
			r.invalid = true
		} else {
			exp, err := parseTime(h.ExpiresAt)
			r.expires, r.invalid = exp, err != nil
			if t, err := parseTime(h.LastAccessedAt); err == nil {
				r.accessed = t
			}
		}

		mu.Lock()
		records = append(records, r)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
