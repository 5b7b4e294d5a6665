package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/composite"
	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/session"
	"github.com/disintegration/gift"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a single map frame to PNG",
	Long: `Render the map around a center coordinate to a PNG file.

Without --wait the frame is drawn from whatever is cached, with placeholders
for missing tiles. With --wait the command keeps rendering as tiles arrive
until nothing is missing or the timeout expires.`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().Float64("lat", 0, "Center latitude (default: the MBTiles center with --source mbtiles)")
	renderCmd.Flags().Float64("lon", 0, "Center longitude")
	renderCmd.Flags().Float64P("zoom", "z", 2, "Zoom level (fractional values allowed)")
	renderCmd.Flags().Int("width", 800, "Frame width in pixels")
	renderCmd.Flags().Int("height", 600, "Frame height in pixels")
	renderCmd.Flags().StringP("out", "o", "frame.png", "Output PNG path")
	renderCmd.Flags().StringSlice("markers", nil, "GeoJSON files with point markers (one layer per file) and line or polygon paths")
	renderCmd.Flags().String("overpass-filter", "", "Import OSM nodes in view as markers, e.g. amenity=cafe")
	renderCmd.Flags().String("overpass-url", marker.DefaultOverpassEndpoint, "Overpass API endpoint")
	renderCmd.Flags().Bool("wait", false, "Wait for missing tiles before writing the frame")
	renderCmd.Flags().Duration("timeout", 30*time.Second, "Maximum time to wait for tiles")
	renderCmd.Flags().Float64("scale", 1, "Resample the frame by this factor before writing")
	renderCmd.Flags().Bool("no-placeholders", false, "Leave missing tiles blank instead of scaling up ancestors")
	renderCmd.Flags().String("png-compression", "default", "PNG compression (default, speed, best, none)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"render.lat", "lat"},
		{"render.lon", "lon"},
		{"render.zoom", "zoom"},
		{"render.width", "width"},
		{"render.height", "height"},
		{"render.out", "out"},
		{"render.markers", "markers"},
		{"render.overpass_filter", "overpass-filter"},
		{"render.overpass_url", "overpass-url"},
		{"render.wait", "wait"},
		{"render.timeout", "timeout"},
		{"render.scale", "scale"},
		{"render.no_placeholders", "no-placeholders"},
		{"render.png_compression", "png-compression"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, renderCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runRender(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	center := geo.Coordinate{Lat: viper.GetFloat64("render.lat"), Lon: viper.GetFloat64("render.lon")}
	zoom := viper.GetFloat64("render.zoom")
	if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") {
		if c, z, ok := mbtilesView(sourceKinds()); ok {
			center = c
			if !cmd.Flags().Changed("zoom") {
				zoom = float64(z)
			}
			logger.Debug("centering on mbtiles metadata", "center", center.String(), "zoom", zoom)
		}
	}
	width := viper.GetInt("render.width")
	height := viper.GetInt("render.height")
	out := viper.GetString("render.out")
	wait := viper.GetBool("render.wait")
	timeout := viper.GetDuration("render.timeout")
	scale := viper.GetFloat64("render.scale")

	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if center.Lat < -90 || center.Lat > 90 {
		return fmt.Errorf("latitude out of range: %g", center.Lat)
	}
	if scale <= 0 {
		return fmt.Errorf("--scale must be positive")
	}
	level, err := composite.ParsePNGCompression(viper.GetString("render.png_compression"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := session.DefaultConfig()
	cfg.Viewport = viewportConfig()
	cfg.Center = center
	cfg.Zoom = zoom
	cfg.Width = width
	cfg.Height = height
	cfg.Composite.DisablePlaceholders = viper.GetBool("render.no_placeholders")

	sess := session.New(engine, cfg)
	defer sess.Close()

	layers, paths, err := loadMarkerFiles(viper.GetStringSlice("render.markers"), marker.SelectionMultiple)
	if err != nil {
		return err
	}
	for _, p := range paths {
		sess.AddPath(p)
	}
	if filter := viper.GetString("render.overpass_filter"); filter != "" {
		importer := marker.NewOverpassImporter(viper.GetString("render.overpass_url"), nil, logger)
		markers, err := importer.Import(ctx, sess.Viewport().Bounds(), filter)
		if err != nil {
			return fmt.Errorf("failed to import markers: %w", err)
		}
		layer := marker.NewLayer("overpass", marker.SelectionMultiple)
		layer.Add(markers...)
		layers = append(layers, layer)
	}
	for _, l := range layers {
		sess.AddLayer(l)
	}

	start := time.Now()
	var frame *composite.Frame
	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		frame, err = sess.RenderComplete(waitCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("render interrupted: %w", err)
			}
			logger.Warn("timed out waiting for tiles", "missing", frame.Missing, "timeout", timeout)
		}
	} else {
		frame = sess.Render()
	}

	var img image.Image = frame.Image
	if scale != 1 {
		img = scaleImage(frame.Image, scale)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := composite.EncodePNG(f, img, level); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	logger.Info("frame rendered",
		"out", out,
		"size", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
		"tiles", frame.Tiles,
		"placeholders", frame.Placeholders,
		"missing", frame.Missing,
		"markers", frame.Markers,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// scaleImage resamples src by factor with a Lanczos filter.
func scaleImage(src *image.NRGBA, factor float64) *image.NRGBA {
	w := max(1, int(math.Round(float64(src.Bounds().Dx())*factor)))
	h := max(1, int(math.Round(float64(src.Bounds().Dy())*factor)))

	g := gift.New(gift.Resize(w, h, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}
