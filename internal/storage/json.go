package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipvault/clipvault/internal/store"
)

// jsonDriver stores snapshots as one pretty-printed JSON file — the same
// item encoding the bridge sends to the UI. Handy for debugging and for
// systems without cgo sqlite.
type jsonDriver struct {
	path string
}

func newJSON(path string) (*jsonDriver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &jsonDriver{path: path}, nil
}

func (d *jsonDriver) Load() ([]store.Item, error) {
	raw, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []store.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.path, err)
	}
	return items, nil
}

// Save writes via a temp file + rename so a crash mid-write never leaves a
// truncated history.
func (d *jsonDriver) Save(items []store.Item) error {
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *jsonDriver) Close() error { return nil }
