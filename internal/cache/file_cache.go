package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/tile"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultFileCacheLimit is the on-disk budget in bytes.
const DefaultFileCacheLimit int64 = 100_000_000

// ErrCacheMiss is returned when a tile is not stored on disk.
var ErrCacheMiss = errors.New("cache: miss")

// Entry is a raw tile stored on disk.
type Entry struct {
	Data     []byte
	ETag     string
	Modified time.Time
}

// FileStore persists raw tile bytes between runs.
type FileStore interface {
	Get(ctx context.Context, addr tile.Address) (Entry, error)
	Store(ctx context.Context, addr tile.Address, data []byte, etag string) error
	Touch(ctx context.Context, addr tile.Address) error
	Purge(ctx context.Context) (int, error)
	Size(ctx context.Context) (int64, error)
	Close() error
}

// FileCache stores raw tiles in a SQLite database, keyed by source and
// address. Frequently requested tiles gain popularity; Purge removes the
// least popular, then oldest, tiles until the database is within its limit.
type FileCache struct {
	db     *sql.DB
	path   string
	source string
	limit  int64
}

// OpenFileCache opens (or creates) the cache database at path. source
// namespaces tiles so several tile sources can share one file.
func OpenFileCache(path, source string, limit int64) (*FileCache, error) {
	if limit <= 0 {
		limit = DefaultFileCacheLimit
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createFileCacheSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &FileCache{
		db:     db,
		path:   path,
		source: source,
		limit:  limit,
	}, nil
}

func createFileCacheSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tiles (
			source TEXT NOT NULL,
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			etag TEXT,
			popularity INTEGER NOT NULL DEFAULT 1,
			size INTEGER NOT NULL,
			modified INTEGER NOT NULL,
			tile_data BLOB NOT NULL,
			PRIMARY KEY (source, zoom_level, tile_column, tile_row)
		);

		CREATE INDEX IF NOT EXISTS tiles_popularity ON tiles (popularity, modified);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Get returns the stored tile and bumps its popularity.
func (c *FileCache) Get(ctx context.Context, addr tile.Address) (Entry, error) {
	addr = addr.Normalize()

	var (
		entry    Entry
		etag     sql.NullString
		modified int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT tile_data, etag, modified FROM tiles WHERE source=? AND zoom_level=? AND tile_column=? AND tile_row=?",
		c.source, addr.Z, addr.X, addr.Y,
	).Scan(&entry.Data, &etag, &modified)

	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrCacheMiss, addr)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to query tile %s: %w", addr, err)
	}

	entry.ETag = etag.String
	entry.Modified = time.Unix(0, modified)

	if _, err := c.db.ExecContext(ctx,
		"UPDATE tiles SET popularity = popularity + 1 WHERE source=? AND zoom_level=? AND tile_column=? AND tile_row=?",
		c.source, addr.Z, addr.X, addr.Y,
	); err != nil {
		return Entry{}, fmt.Errorf("failed to update popularity of %s: %w", addr, err)
	}

	return entry, nil
}

// Store writes or replaces the tile bytes for addr.
func (c *FileCache) Store(ctx context.Context, addr tile.Address, data []byte, etag string) error {
	addr = addr.Normalize()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tiles (source, zoom_level, tile_column, tile_row, etag, size, modified, tile_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, zoom_level, tile_column, tile_row) DO UPDATE SET
			etag = excluded.etag,
			size = excluded.size,
			modified = excluded.modified,
			tile_data = excluded.tile_data,
			popularity = popularity + 1`,
		c.source, addr.Z, addr.X, addr.Y, nullString(etag), len(data), time.Now().UnixNano(), data,
	)
	if err != nil {
		return fmt.Errorf("failed to store tile %s: %w", addr, err)
	}
	return nil
}

// Touch marks a stored tile as revalidated.
func (c *FileCache) Touch(ctx context.Context, addr tile.Address) error {
	addr = addr.Normalize()

	_, err := c.db.ExecContext(ctx,
		"UPDATE tiles SET modified = ?, popularity = popularity + 1 WHERE source=? AND zoom_level=? AND tile_column=? AND tile_row=?",
		time.Now().UnixNano(), c.source, addr.Z, addr.X, addr.Y,
	)
	if err != nil {
		return fmt.Errorf("failed to touch tile %s: %w", addr, err)
	}
	return nil
}

// Size returns the total stored bytes across all sources.
func (c *FileCache) Size(ctx context.Context) (int64, error) {
	var size sql.NullInt64
	if err := c.db.QueryRowContext(ctx, "SELECT SUM(size) FROM tiles").Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to query cache size: %w", err)
	}
	return size.Int64, nil
}

// Count returns the number of tiles stored for this cache's source.
func (c *FileCache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tiles WHERE source=?", c.source).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return n, nil
}

// Purge deletes the least popular, then oldest, tiles until the database is
// within its size limit. Surviving tiles have their popularity reset so that
// recent use counts for more than history.
func (c *FileCache) Purge(ctx context.Context) (int, error) {
	total, err := c.Size(ctx)
	if err != nil {
		return 0, err
	}
	if total <= c.limit {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	rows, err := tx.QueryContext(ctx, "SELECT rowid, size FROM tiles ORDER BY popularity ASC, modified ASC")
	if err != nil {
		return 0, fmt.Errorf("failed to query purge candidates: %w", err)
	}

	var victims []int64
	for rows.Next() && total > c.limit {
		var (
			rowid int64
			size  int64
		)
		if err := rows.Scan(&rowid, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan purge candidate: %w", err)
		}
		victims = append(victims, rowid)
		total -= size
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating purge candidates: %w", err)
	}
	rows.Close()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM tiles WHERE rowid = ?")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range victims {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to delete tile row %d: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE tiles SET popularity = 1"); err != nil {
		return 0, fmt.Errorf("failed to reset popularity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return len(victims), nil
}

// Close closes the database connection.
func (c *FileCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
