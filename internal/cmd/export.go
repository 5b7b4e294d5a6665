package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/slippymap/internal/mbtiles"
	"github.com/MeKo-Tech/slippymap/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tiles for an area to an MBTiles file",
	Long: `Write every tile covering a bounding box across a zoom range to an MBTiles
database. Tiles are read through the configured sources; the http source
answers from the disk cache when it can.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addBatchFlags(exportCmd, "export")

	exportCmd.Flags().StringP("output", "o", "", "Output MBTiles file path (required)")
	exportCmd.Flags().String("name", "slippymap", "Tileset name")
	exportCmd.Flags().String("description", "Exported map tiles", "Tileset description")
	exportCmd.Flags().String("attribution", "© OpenStreetMap contributors", "Attribution text")
	exportCmd.Flags().String("format", "png", "Tile format recorded in the metadata (png, jpg, webp)")
	exportCmd.Flags().Bool("compress", false, "Gzip tile blobs")
	exportCmd.Flags().Bool("resume", false, "Keep tiles already in the output file and fetch only the rest")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"export.output", "output"},
		{"export.name", "name"},
		{"export.description", "description"},
		{"export.attribution", "attribution"},
		{"export.format", "format"},
		{"export.compress", "compress"},
		{"export.resume", "resume"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, exportCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	output := viper.GetString("export.output")
	if output == "" {
		return fmt.Errorf("--output is required")
	}

	job, err := readBatchJob("export")
	if err != nil {
		return err
	}

	kinds := sourceKinds()
	store, err := openStore(kinds)
	if err != nil {
		return err
	}
	defer store.Close()

	fetcher, closeFetcher, err := openFetcher(kinds, store)
	if err != nil {
		return err
	}
	defer closeFetcher()

	w, err := mbtiles.New(output, mbtiles.Metadata{
		Name:        viper.GetString("export.name"),
		Format:      viper.GetString("export.format"),
		Attribution: viper.GetString("export.attribution"),
		Description: viper.GetString("export.description"),
		Type:        "baselayer",
		Version:     "1.0",
		Bounds:      job.bounds,
		Center:      job.bounds.Center(),
		CenterZoom:  (job.zoomMin + job.zoomMax) / 2,
		MinZoom:     job.zoomMin,
		MaxZoom:     job.zoomMax,
	}, viper.GetBool("export.compress"))
	if err != nil {
		return fmt.Errorf("failed to create MBTiles writer: %w", err)
	}

	logger.Info("exporting tiles",
		"bbox", job.bounds.String(),
		"zoom_range", fmt.Sprintf("%d-%d", job.zoomMin, job.zoomMax),
		"tiles", len(job.tasks),
		"output", output,
	)

	_, runErr := job.run("export", "Exported", &worker.Exporter{
		Fetcher: fetcher,
		Writer:  w,
		Resume:  viper.GetBool("export.resume"),
	})

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish MBTiles: %w", err)
	}
	logger.Info("MBTiles export complete", "output", output, "written", w.Written())
	return runErr
}
