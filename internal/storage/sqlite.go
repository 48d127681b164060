package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// go-sqlite3 registers itself as a database/sql driver in init().
	_ "github.com/mattn/go-sqlite3"

	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/store"
)

// sqliteDriver stores snapshots in an embedded SQLite database. WAL mode so
// a concurrent reader (sqlite3 CLI, backups) never blocks the daemon.
type sqliteDriver struct {
	db *sql.DB
}

func newSQLite(path string) (*sqliteDriver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sql.Open validates nothing; Ping forces the file open so bad paths
	// fail at startup instead of at the first snapshot.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	d := &sqliteDriver{db: db}
	if err := d.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		text       TEXT NOT NULL DEFAULT '',
		html       TEXT NOT NULL DEFAULT '',
		image_b64  TEXT NOT NULL DEFAULT '',
		width      INTEGER NOT NULL DEFAULT 0,
		height     INTEGER NOT NULL DEFAULT 0,
		preview    TEXT NOT NULL DEFAULT '',
		thumbnail  TEXT NOT NULL DEFAULT '',
		pinned     BOOLEAN NOT NULL DEFAULT 0,
		pinned_at  DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (d *sqliteDriver) Load() ([]store.Item, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, text, html, image_b64, width, height,
		       preview, thumbnail, pinned, pinned_at, created_at
		FROM items`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var (
			it        store.Item
			kind      string
			text      string
			html      string
			imageB64  string
			width     uint32
			height    uint32
			pinnedAt  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&it.ID, &kind, &text, &html, &imageB64, &width, &height,
			&it.Preview, &it.Thumbnail, &it.Pinned, &pinnedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Content = content.Content{
			Kind:     content.Kind(kind),
			Text:     text,
			HTML:     html,
			ImageB64: imageB64,
			Width:    width,
			Height:   height,
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			it.CreatedAt = t
		}
		if pinnedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, pinnedAt.String); err == nil {
				it.PinnedAt = t
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (d *sqliteDriver) Save(items []store.Item) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO items (id, kind, text, html, image_b64, width, height,
		                   preview, thumbnail, pinned, pinned_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		var pinnedAt any
		if !it.PinnedAt.IsZero() {
			pinnedAt = it.PinnedAt.UTC().Format(time.RFC3339Nano)
		}
		c := it.Content
		if _, err := stmt.Exec(it.ID, string(c.Kind), c.Text, c.HTML, c.ImageB64,
			c.Width, c.Height, it.Preview, it.Thumbnail, it.Pinned, pinnedAt,
			it.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Close() error { return d.db.Close() }
