package cmd

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/slippymap/internal/mbtiles"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args. Flag values persist between runs
// in one process, so every test passes the flags it depends on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRenderWritesFrame(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frame.png")

	_, err := execute(t, "render",
		"--source", "debug",
		"--cache-db", "",
		"--tile-size", "256",
		"--lat", "0", "--lon", "0", "--zoom", "2",
		"--width", "64", "--height", "48",
		"--wait", "--timeout", "10s",
		"--scale", "1",
		"--overpass-filter", "",
		"--png-compression", "speed",
		"--out", out,
	)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestRenderRejectsBadSize(t *testing.T) {
	_, err := execute(t, "render",
		"--source", "debug",
		"--cache-db", "",
		"--width", "0", "--height", "48",
		"--out", filepath.Join(t.TempDir(), "frame.png"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid frame size")
}

func TestSeedRequiresDiskCache(t *testing.T) {
	_, err := execute(t, "seed",
		"--source", "procedural",
		"--cache-db", "",
		"--bbox", "9.7,52.3,9.9,52.4",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--cache-db")
}

func TestSeedThenCacheStats(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cache.db")
	common := []string{
		"--source", "procedural",
		"--tile-size", "64",
		"--cache-db", db,
		"--cache-limit", "100000000",
	}

	_, err := execute(t, append([]string{"seed",
		"--bbox", "9.7,52.3,9.9,52.4",
		"--zoom-min", "0", "--zoom-max", "2",
		"--workers", "2",
		"--progress=false",
		"--force=false",
		"--allow-failures=false",
	}, common...)...)
	require.NoError(t, err)

	out, err := execute(t, append([]string{"cache", "stats"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "tiles:  3\n")
	assert.Contains(t, out, "source: procedural\n")

	out, err = execute(t, append([]string{"cache", "purge"}, common...)...)
	require.NoError(t, err)
	assert.Equal(t, "removed 0 tiles\n", out)
}

func TestSeedRejectsInvertedZoomRange(t *testing.T) {
	_, err := execute(t, "seed",
		"--source", "procedural",
		"--cache-db", filepath.Join(t.TempDir(), "cache.db"),
		"--bbox", "9.7,52.3,9.9,52.4",
		"--zoom-min", "5", "--zoom-max", "2",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--zoom-min")
}

func TestExportWritesMBTiles(t *testing.T) {
	out := filepath.Join(t.TempDir(), "area.mbtiles")

	_, err := execute(t, "export",
		"--source", "debug",
		"--tile-size", "256",
		"--cache-db", "",
		"--bbox", "9.7,52.3,9.9,52.4",
		"--zoom-min", "0", "--zoom-max", "2",
		"--workers", "2",
		"--progress=false",
		"--allow-failures=false",
		"--compress=false",
		"--resume=false",
		"--name", "hannover",
		"--output", out,
	)
	require.NoError(t, err)

	r, err := mbtiles.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()

	meta, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "hannover", meta.Name)
	assert.Equal(t, 0, meta.MinZoom)
	assert.Equal(t, 2, meta.MaxZoom)

	data, err := r.ReadTile(context.Background(), tile.MustNew(2, 2, 1))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = r.ReadTile(context.Background(), tile.MustNew(2, 0, 0))
	assert.ErrorIs(t, err, mbtiles.ErrTileNotFound)
}

func TestViewportForRegisteredSource(t *testing.T) {
	cfg := viewportFor([]string{"mff-relief", "debug"}, 256, false)
	assert.Equal(t, 0.0, cfg.MinZoom)
	assert.Equal(t, 11.0, cfg.MaxZoom)
	assert.Equal(t, 256, cfg.TileSize)

	cfg = viewportFor([]string{"osm-mapnik"}, 512, true)
	assert.Equal(t, 18.0, cfg.MaxZoom)
	assert.Equal(t, 512, cfg.TileSize)

	cfg = viewportFor([]string{"debug"}, 128, true)
	assert.Equal(t, 19.0, cfg.MaxZoom)

	assert.True(t, usesHTTP([]string{"osm-cyclemap"}))
	assert.Equal(t, "http://tile.opencyclemap.org/cycle/{z}/{x}/{y}.png", cacheNamespace([]string{"osm-cyclemap"}))
}
