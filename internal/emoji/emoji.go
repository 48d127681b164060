// Package emoji tracks recently pasted emoji with use counts, persisted as
// a small JSON file in the data directory. The catalog itself lives in the
// UI shell; the core only remembers what was actually used so the shell can
// build its "recent" row.
package emoji

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxRecent caps the tracked list.
const MaxRecent = 20

const historyFile = "emoji_history.json"

// Usage is a single tracked emoji.
type Usage struct {
	Char     string `json:"char"`
	UseCount uint32 `json:"use_count"`
	LastUsed int64  `json:"last_used"` // Unix epoch millis
}

type historyJSON struct {
	Emojis []Usage `json:"emojis"`
}

// Tracker records emoji usage with LRU semantics: the list is ordered most
// recently used first and trimmed to MaxRecent.
type Tracker struct {
	mu      sync.Mutex
	recent  []Usage
	dataDir string
}

// New returns a Tracker rooted at dataDir, loading any persisted history.
// A missing or corrupt history file starts fresh rather than failing.
func New(dataDir string) *Tracker {
	t := &Tracker{dataDir: dataDir}
	if err := t.load(); err != nil {
		slog.Warn("emoji history load failed, starting fresh", "err", err)
	}
	return t
}

func (t *Tracker) path() string { return filepath.Join(t.dataDir, historyFile) }

func (t *Tracker) load() error {
	raw, err := os.ReadFile(t.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var h historyJSON
	if err := json.Unmarshal(raw, &h); err != nil {
		return fmt.Errorf("parse %s: %w", historyFile, err)
	}
	if len(h.Emojis) > MaxRecent {
		h.Emojis = h.Emojis[:MaxRecent]
	}
	t.recent = h.Emojis
	return nil
}

func (t *Tracker) save() error {
	if err := os.MkdirAll(t.dataDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(historyJSON{Emojis: t.recent}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path(), raw, 0o644)
}

// Record notes one use of char: bumps its count, moves it to the front and
// persists. Persistence failures are logged, not fatal — the in-memory list
// stays correct for this session.
func (t *Tracker) Record(char string) {
	if char == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixMilli()
	idx := -1
	for i, u := range t.recent {
		if u.Char == char {
			idx = i
			break
		}
	}

	var u Usage
	if idx >= 0 {
		u = t.recent[idx]
		u.UseCount++
		u.LastUsed = now
		t.recent = append(t.recent[:idx], t.recent[idx+1:]...)
	} else {
		u = Usage{Char: char, UseCount: 1, LastUsed: now}
	}

	t.recent = append([]Usage{u}, t.recent...)
	if len(t.recent) > MaxRecent {
		t.recent = t.recent[:MaxRecent]
	}

	if err := t.save(); err != nil {
		slog.Warn("emoji history save failed", "err", err)
	}
}

// Recent returns the tracked list, most recently used first.
func (t *Tracker) Recent() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Usage, len(t.recent))
	copy(out, t.recent)
	return out
}
