// Package destinations owns the user-edited mapping from item serials to
// forwarding servers. The poll loop reads a snapshot per cycle and never
// mutates the list; edits go through Replace.
package destinations

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
)

// fileShape matches the on-disk layout shared with earlier versions of the
// tool, so an existing config file keeps working.
type fileShape struct {
	TagConfigs []model.Destination `json:"tag_configs"`
}

// File is the single owner of the destinations config file.
type File struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	rows   []model.Destination
}

// Open loads the destinations file. A missing file yields an empty list; a
// corrupt file yields an empty list and a non-nil error so the caller can
// surface it without refusing to start.
func Open(path string, logger *slog.Logger) (*File, error) {
	f := &File{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read destinations file: %w", err)
	}

	var shape fileShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return f, fmt.Errorf("decode destinations file: %w", err)
	}

	f.rows = shape.TagConfigs
	return f, nil
}

// Snapshot returns a copy of the current destination rows.
func (f *File) Snapshot() []model.Destination {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Destination, len(f.rows))
	copy(out, f.rows)
	return out
}

// Replace swaps in a new full list and persists it. Rows with an empty
// serial are dropped, matching how the original table editor saved.
func (f *File) Replace(rows []model.Destination) error {
	kept := make([]model.Destination, 0, len(rows))
	for _, row := range rows {
		if row.Serial == "" {
			continue
		}
		kept = append(kept, row)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(fileShape{TagConfigs: kept}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode destinations: %w", err)
	}

	dir := filepath.Dir(f.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create destinations directory: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write destinations: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace destinations file: %w", err)
	}

	f.rows = kept
	f.logger.Info("destinations saved", "path", f.path, "rows", len(kept))
	return nil
}
