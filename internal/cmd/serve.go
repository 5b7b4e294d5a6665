package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/server"
	"github.com/MeKo-Tech/slippymap/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rendered frames, tiles and marker hit-testing over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for served images")
	serveCmd.Flags().Duration("frame-timeout", 10*time.Second, "Maximum time a frame waits for tiles")
	serveCmd.Flags().Duration("tile-timeout", 30*time.Second, "Maximum time a tile request waits")
	serveCmd.Flags().Int("max-frame-size", 4096, "Maximum frame width and height in pixels")
	serveCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")
	serveCmd.Flags().StringSlice("markers", nil, "GeoJSON files with point markers (one layer per file) and line or polygon paths")
	serveCmd.Flags().String("overpass-filter", "", "Import OSM nodes as markers at startup, e.g. amenity=cafe")
	serveCmd.Flags().String("overpass-bbox", "", "Bounding box for --overpass-filter: minLon,minLat,maxLon,maxLat")
	serveCmd.Flags().String("overpass-url", marker.DefaultOverpassEndpoint, "Overpass API endpoint")
	serveCmd.Flags().Duration("purge-interval", 10*time.Minute, "How often the disk cache is trimmed to its budget (0 disables)")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.frame_timeout", "frame-timeout")
	mustBind("serve.tile_timeout", "tile-timeout")
	mustBind("serve.max_frame_size", "max-frame-size")
	mustBind("serve.png_compression", "png-compression")
	mustBind("serve.markers", "markers")
	mustBind("serve.overpass_filter", "overpass-filter")
	mustBind("serve.overpass_bbox", "overpass-bbox")
	mustBind("serve.overpass_url", "overpass-url")
	mustBind("serve.purge_interval", "purge-interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	purgeInterval := viper.GetDuration("serve.purge_interval")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	srv, err := server.New(engine, server.Config{
		CacheControl:   viper.GetString("serve.cache_control"),
		PNGCompression: viper.GetString("serve.png_compression"),
		FrameTimeout:   viper.GetDuration("serve.frame_timeout"),
		TileTimeout:    viper.GetDuration("serve.tile_timeout"),
		MaxFrameSize:   viper.GetInt("serve.max_frame_size"),
		Viewport:       viewportConfig(),
	}, logger)
	if err != nil {
		return err
	}

	layers, paths, err := loadMarkerFiles(viper.GetStringSlice("serve.markers"), marker.SelectionMultiple)
	if err != nil {
		return err
	}
	for _, p := range paths {
		srv.AddPath(p)
	}
	if filter := viper.GetString("serve.overpass_filter"); filter != "" {
		bounds, err := geo.ParseBounds(viper.GetString("serve.overpass_bbox"))
		if err != nil {
			return fmt.Errorf("--overpass-filter needs a valid --overpass-bbox: %w", err)
		}
		importer := marker.NewOverpassImporter(viper.GetString("serve.overpass_url"), nil, logger)
		markers, err := importer.Import(ctx, bounds, filter)
		if err != nil {
			return fmt.Errorf("failed to import markers: %w", err)
		}
		layer := marker.NewLayer("overpass", marker.SelectionMultiple)
		layer.Add(markers...)
		layers = append(layers, layer)
	}
	for _, l := range layers {
		srv.AddLayer(l)
	}

	if purgeInterval > 0 {
		go purgeLoop(ctx, engine, purgeInterval)
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("map server listening", "addr", addr, "sources", sourceKinds(), "layers", len(layers))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// purgeLoop trims the disk cache to its budget until ctx is done.
func purgeLoop(ctx context.Context, engine *session.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := engine.Store.Purge(ctx)
			if err != nil {
				logger.Warn("disk cache purge failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("purged disk cache", "removed", removed)
			}
		}
	}
}
