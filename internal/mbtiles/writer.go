package mbtiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/tile"
	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultBatchSize is the number of tiles buffered per transaction.
const DefaultBatchSize = 100

const schema = `
	CREATE TABLE IF NOT EXISTS metadata (
		name  TEXT NOT NULL,
		value TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS metadata_name ON metadata (name);

	CREATE TABLE IF NOT EXISTS tiles (
		zoom_level  INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row    INTEGER NOT NULL,
		tile_data   BLOB NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
`

type pendingTile struct {
	addr tile.Address
	data []byte
}

// Writer appends tiles to an MBTiles database in batched transactions.
// It is safe for concurrent use.
type Writer struct {
	db        *sql.DB
	compress  bool
	batchSize int

	mu      sync.Mutex
	pending []pendingTile
	written int
}

// New opens or creates the database at path and records metadata, replacing
// earlier values of the same keys. Tiles already in the file are kept, so an
// interrupted export can be resumed. With compress set, tile blobs are
// gzipped; the reader accepts both forms.
func New(path string, metadata Metadata, compress bool) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	setup := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		schema,
	}
	for _, stmt := range setup {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare database: %w", err)
		}
	}

	if err := writeMetadata(db, metadata); err != nil {
		db.Close()
		return nil, err
	}

	return &Writer{
		db:        db,
		compress:  compress,
		batchSize: DefaultBatchSize,
		pending:   make([]pendingTile, 0, DefaultBatchSize),
	}, nil
}

func writeMetadata(db *sql.DB, meta Metadata) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	for key, value := range meta.ToMap() {
		if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("failed to write metadata %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

// Has reports whether addr is already stored or waiting to be flushed.
func (w *Writer) Has(ctx context.Context, addr tile.Address) (bool, error) {
	addr = addr.Normalize()

	w.mu.Lock()
	for _, p := range w.pending {
		if p.addr == addr {
			w.mu.Unlock()
			return true, nil
		}
	}
	w.mu.Unlock()

	var one int
	err := w.db.QueryRowContext(ctx,
		"SELECT 1 FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		addr.Z, addr.X, addr.TMSRow(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up tile %s: %w", addr, err)
	}
	return true, nil
}

// WriteTile queues a tile and flushes once a batch is full. Rows are stored
// in TMS order.
func (w *Writer) WriteTile(addr tile.Address, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, pendingTile{addr: addr.Normalize(), data: data})
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked()
}

// Flush writes queued tiles.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	insert, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	for _, p := range w.pending {
		blob := p.data
		if w.compress {
			if blob, err = gzipCompress(p.data); err != nil {
				return fmt.Errorf("failed to compress tile %s: %w", p.addr, err)
			}
		}
		if _, err := insert.Exec(p.addr.Z, p.addr.X, p.addr.TMSRow(), blob); err != nil {
			return fmt.Errorf("failed to insert tile %s: %w", p.addr, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tiles: %w", err)
	}

	w.written += len(w.pending)
	w.pending = w.pending[:0]
	return nil
}

// Written returns the number of tiles committed so far.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes queued tiles and closes the database.
func (w *Writer) Close() error {
	flushErr := w.Flush()
	if err := w.db.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return flushErr
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
