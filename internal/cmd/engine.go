package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/session"
	"github.com/MeKo-Tech/slippymap/internal/source"
	"github.com/MeKo-Tech/slippymap/internal/viewport"
	"github.com/spf13/viper"
)

func sourceKinds() []string {
	var kinds []string
	for _, k := range strings.Split(viper.GetString("source"), ",") {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// cacheNamespace keys disk cache rows so several sources can share a file.
func cacheNamespace(kinds []string) string {
	for _, k := range kinds {
		if k == "http" {
			return viper.GetString("tile_url")
		}
		if desc, ok := source.Lookup(k); ok {
			return desc.URLTemplate
		}
	}
	return strings.Join(kinds, ",")
}

func usesHTTP(kinds []string) bool {
	for _, k := range kinds {
		if k == "http" {
			return true
		}
		if _, ok := source.Lookup(k); ok {
			return true
		}
	}
	return false
}

// openStore opens the configured disk cache.
func openStore(kinds []string) (cache.FileStore, error) {
	kind := "disabled"
	if viper.GetString("cache.db") != "" {
		kind = "sqlite"
	}
	return cache.NewFileStore(kind, viper.GetString("cache.db"), cacheNamespace(kinds), viper.GetInt64("cache.limit"), logger)
}

// openFetcher builds the configured source chain on top of store.
func openFetcher(kinds []string, store cache.FileStore) (source.Fetcher, func() error, error) {
	return source.New(source.Options{
		Kinds:       kinds,
		TileURL:     viper.GetString("tile_url"),
		UserAgent:   viper.GetString("user_agent"),
		MBTilesPath: viper.GetString("mbtiles"),
		MapnikStyle: viper.GetString("mapnik_style"),
		TileSize:    viper.GetInt("tile_size"),
		Seed:        viper.GetInt64("procedural.seed"),
		Store:       store,
		Logger:      logger,
	})
}

// openEngine wires disk cache, fetchers, memory cache and loader from the
// configuration. The caller owns the engine and must close it.
func openEngine() (*session.Engine, error) {
	kinds := sourceKinds()

	store, err := openStore(kinds)
	if err != nil {
		return nil, err
	}

	fetcher, closeFetcher, err := openFetcher(kinds, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	loaderCfg := source.DefaultLoaderConfig()
	loaderCfg.Workers = viper.GetInt("fetch.workers")
	loaderCfg.MaxAttempts = viper.GetInt("fetch.attempts")
	loaderCfg.Logger = logger

	engine, err := session.NewEngine(session.EngineConfig{
		Fetcher: fetcher,
		Store:   store,
		Cache:   cache.Config{MaxItems: viper.GetInt("cache.memory_tiles")},
		Loader:  loaderCfg,
		Closers: []func() error{closeFetcher},
		Logger:  logger,
	})
	if err != nil {
		closeFetcher()
		store.Close()
		return nil, err
	}

	logger.Debug("engine ready", "sources", kinds, "cache_db", viper.GetString("cache.db"))
	return engine, nil
}

// mbtilesView returns the center and zoom recorded in the configured MBTiles
// file, for views that did not ask for a position.
func mbtilesView(kinds []string) (geo.Coordinate, int, bool) {
	if !slices.Contains(kinds, "mbtiles") {
		return geo.Coordinate{}, 0, false
	}
	f, err := source.OpenMBTilesFetcher(viper.GetString("mbtiles"))
	if err != nil {
		return geo.Coordinate{}, 0, false
	}
	defer f.Close()

	meta, err := f.Metadata()
	if err != nil {
		logger.Debug("ignoring unreadable mbtiles metadata", "error", err)
		return geo.Coordinate{}, 0, false
	}
	switch {
	case meta.Center != (geo.Coordinate{}):
		return meta.Center, meta.CenterZoom, true
	case meta.Bounds != (geo.Bounds{}):
		return meta.Bounds.Center(), meta.MinZoom, true
	}
	return geo.Coordinate{}, 0, false
}

func viewportConfig() viewport.Config {
	return viewportFor(sourceKinds(), viper.GetInt("tile_size"), viper.IsSet("tile_size"))
}

// viewportFor narrows the zoom range to what every registered server in the
// chain can serve. An explicit tile size wins over the registered one.
func viewportFor(kinds []string, tileSize int, tileSizeSet bool) viewport.Config {
	cfg := viewport.DefaultConfig()
	cfg.TileSize = tileSize
	for _, k := range kinds {
		desc, ok := source.Lookup(k)
		if !ok {
			continue
		}
		cfg.MinZoom = max(cfg.MinZoom, float64(desc.MinZoom))
		cfg.MaxZoom = min(cfg.MaxZoom, float64(desc.MaxZoom))
		if !tileSizeSet || cfg.TileSize <= 0 {
			cfg.TileSize = desc.TileSize
		}
	}
	return cfg
}

// loadMarkerFiles reads one marker layer per GeoJSON file, named after the
// file, plus a path layer for every line or polygon feature.
func loadMarkerFiles(files []string, mode marker.SelectionMode) ([]*marker.Layer, []*marker.PathLayer, error) {
	var (
		layers []*marker.Layer
		paths  []*marker.PathLayer
	)
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read markers: %w", err)
		}
		markers, err := marker.FromGeoJSON(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		filePaths, err := marker.PathsFromGeoJSON(data)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		paths = append(paths, filePaths...)

		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		layer := marker.NewLayer(name, mode)
		layer.Add(markers...)
		layers = append(layers, layer)
		logger.Info("loaded markers", "layer", name, "count", layer.Len(), "paths", len(filePaths))
	}
	return layers, paths, nil
}
