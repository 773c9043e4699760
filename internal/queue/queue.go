// Package queue holds undelivered location points per (serial, destination)
// pair, backed by a JSON file that is rewritten after every mutation.
package queue

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
)

const keySeparator = "::"

// Key builds the composite queue key for a serial and destination base URL.
func Key(serial, baseURL string) string {
	return serial + keySeparator + baseURL
}

// SplitKey is the inverse of Key. ok is false for malformed keys.
func SplitKey(key string) (serial, baseURL string, ok bool) {
	serial, baseURL, ok = strings.Cut(key, keySeparator)
	return serial, baseURL, ok
}

// Store is the durable pending-delivery queue. It is the sole source of
// truth for what has not yet reached a server: a point is only gone once a
// Clear has been written to disk. All methods are safe for concurrent use;
// persistence happens inside the lock so disk never disagrees with a
// reported success.
type Store struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	entries map[string][]model.Point
}

// Open loads the queue file at path. Any read or parse failure fails open
// to an empty queue so a corrupt file never blocks startup.
func Open(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string][]model.Point),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("pending queue unreadable, starting empty", "path", path, "error", err)
		}
		return s
	}

	var entries map[string][]model.Point
	if err := json.Unmarshal(raw, &entries); err != nil {
		logger.Warn("pending queue corrupt, starting empty", "path", path, "error", err)
		return s
	}
	if entries != nil {
		s.entries = entries
	}

	return s
}

// Append adds one point to the tail of the sequence for key and persists
// before returning.
func (s *Store) Append(key string, p model.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = append(s.entries[key], p)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist after append: %w", err)
	}
	return nil
}

// Peek returns a copy of the ordered sequence for key, oldest first.
func (s *Store) Peek(key string) []model.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	points := s.entries[key]
	if len(points) == 0 {
		return nil
	}
	out := make([]model.Point, len(points))
	copy(out, points)
	return out
}

// Clear removes all points for key and persists. Clearing an absent or
// empty key is a no-op and does not touch the file.
func (s *Store) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries[key]) == 0 {
		delete(s.entries, key)
		return nil
	}

	delete(s.entries, key)
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persist after clear: %w", err)
	}
	return nil
}

// Keys lists every key with at least one queued point.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key, points := range s.entries {
		if len(points) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// Len reports the number of queued points for key.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key])
}

// Depths returns the queued point count per key, for the status API.
func (s *Store) Depths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[string]int, len(s.entries))
	for key, points := range s.entries {
		if len(points) > 0 {
			depths[key] = len(points)
		}
	}
	return depths
}

// persistLocked rewrites the queue file via a temp file and rename so a
// crash mid-write leaves the previous file intact. Caller holds s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create queue directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
