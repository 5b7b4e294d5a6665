package mbtiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Reader serves tiles from an existing MBTiles database.
type Reader struct {
	db *sql.DB
}

// OpenReader opens path read-only and checks that it has a tiles table or
// view.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name='tiles'").Scan(&n)
	switch {
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	case n == 0:
		db.Close()
		return nil, fmt.Errorf("%s has no tiles table", path)
	}

	return &Reader{db: db}, nil
}

// ReadTile returns the image bytes of addr, gunzipped when stored
// compressed. Missing rows yield ErrTileNotFound.
func (r *Reader) ReadTile(ctx context.Context, addr tile.Address) ([]byte, error) {
	addr = addr.Normalize()

	var blob []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		addr.Z, addr.X, addr.TMSRow(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", addr, err)
	}

	if !isGzip(blob) {
		return blob, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile %s: %w", addr, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile %s: %w", addr, err)
	}
	return data, nil
}

// Metadata returns the tileset description. Unknown keys are ignored and
// malformed numeric values are left at zero.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata: %w", err)
		}
		values[name] = value.String
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	return metadataFromMap(values), nil
}

func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
