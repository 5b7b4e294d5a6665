package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var markersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Import OSM points of interest from Overpass into a GeoJSON marker file",
	RunE:  runMarkers,
}

func init() {
	rootCmd.AddCommand(markersCmd)

	markersCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat")
	markersCmd.Flags().String("filter", "", "Tag filter, e.g. amenity=cafe or [\"shop\"]")
	markersCmd.Flags().String("overpass-url", marker.DefaultOverpassEndpoint, "Overpass API endpoint")
	markersCmd.Flags().StringP("output", "o", "markers.geojson", "Output GeoJSON path")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"markers.bbox", "bbox"},
		{"markers.filter", "filter"},
		{"markers.overpass_url", "overpass-url"},
		{"markers.output", "output"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, markersCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runMarkers(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bounds, err := geo.ParseBounds(viper.GetString("markers.bbox"))
	if err != nil {
		return fmt.Errorf("invalid --bbox: %w", err)
	}
	filter := viper.GetString("markers.filter")
	if filter == "" {
		return fmt.Errorf("--filter is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	importer := marker.NewOverpassImporter(viper.GetString("markers.overpass_url"), nil, logger)
	markers, err := importer.Import(ctx, bounds, filter)
	if err != nil {
		return fmt.Errorf("failed to import markers: %w", err)
	}

	data, err := marker.ToGeoJSON(markers).MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode markers: %w", err)
	}

	output := viper.GetString("markers.output")
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write markers: %w", err)
	}
	logger.Info("markers written", "output", output, "count", len(markers))
	return nil
}
