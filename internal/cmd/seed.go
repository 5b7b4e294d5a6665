package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/MeKo-Tech/slippymap/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Prefetch tiles for an area into the disk cache",
	Long: `Fetch every tile covering a bounding box across a zoom range and store it
in the SQLite disk cache (--cache-db), so later sessions can work offline.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	addBatchFlags(seedCmd, "seed")

	seedCmd.Flags().Bool("force", false, "Refetch tiles that are already cached")
	if err := viper.BindPFlag("seed.force", seedCmd.Flags().Lookup("force")); err != nil {
		panic(fmt.Sprintf("failed to bind flag force: %v", err))
	}
}

// addBatchFlags registers the area and pool flags shared by seed and export.
func addBatchFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (e.g., \"9.7,52.3,9.9,52.4\")")
	cmd.Flags().Int("zoom-min", 0, "Minimum zoom level")
	cmd.Flags().Int("zoom-max", 0, "Maximum zoom level")
	cmd.Flags().IntP("workers", "w", 0, "Number of parallel workers (default: number of CPUs)")
	cmd.Flags().Bool("progress", true, "Show progress bar")
	cmd.Flags().Bool("allow-failures", false, "Exit successfully even if some tiles fail")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{prefix + ".bbox", "bbox"},
		{prefix + ".zoom_min", "zoom-min"},
		{prefix + ".zoom_max", "zoom-max"},
		{prefix + ".workers", "workers"},
		{prefix + ".progress", "progress"},
		{prefix + ".allow_failures", "allow-failures"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, cmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

// batchJob is the validated area and pool settings of seed or export.
type batchJob struct {
	bounds        geo.Bounds
	zoomMin       int
	zoomMax       int
	workers       int
	progress      bool
	allowFailures bool
	tasks         []worker.Task
}

func readBatchJob(prefix string) (batchJob, error) {
	job := batchJob{
		zoomMin:       viper.GetInt(prefix + ".zoom_min"),
		zoomMax:       viper.GetInt(prefix + ".zoom_max"),
		workers:       viper.GetInt(prefix + ".workers"),
		progress:      viper.GetBool(prefix + ".progress"),
		allowFailures: viper.GetBool(prefix + ".allow_failures"),
	}

	bounds, err := geo.ParseBounds(viper.GetString(prefix + ".bbox"))
	if err != nil {
		return job, fmt.Errorf("invalid --bbox: %w", err)
	}
	job.bounds = bounds

	if job.zoomMin < 0 || job.zoomMax > tile.MaxZoom {
		return job, fmt.Errorf("zoom range must be within 0..%d", tile.MaxZoom)
	}
	if job.zoomMin > job.zoomMax {
		return job, fmt.Errorf("--zoom-min (%d) must be <= --zoom-max (%d)", job.zoomMin, job.zoomMax)
	}
	if job.workers <= 0 {
		job.workers = runtime.NumCPU()
	}

	job.tasks, err = worker.TasksInBounds(bounds, job.zoomMin, job.zoomMax)
	if err != nil {
		return job, err
	}
	return job, nil
}

// run executes the job on a pool and reports failures.
func (j batchJob) run(name, verb string, proc worker.Processor) (worker.Totals, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := worker.NewProgress(len(j.tasks), j.progress).WithVerb(verb)
	pool := worker.New(worker.Config{
		Workers:    j.workers,
		Processor:  proc,
		OnProgress: progress.Callback(),
	})

	results := pool.Run(ctx, j.tasks)
	progress.Done()

	for _, r := range results {
		if r.Err != nil {
			logger.Error("tile failed", "job", name, "tile", r.Task.Addr.String(), "error", r.Err)
		}
	}

	totals := worker.Summarize(results)
	logger.Info(progress.Summary())

	if ctx.Err() != nil {
		return totals, fmt.Errorf("%s interrupted", name)
	}
	if totals.Failed > 0 {
		if !j.allowFailures {
			return totals, fmt.Errorf("%d tiles failed", totals.Failed)
		}
		logger.Warn("some tiles failed, continuing due to --allow-failures", "failed_count", totals.Failed)
	}
	return totals, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	if viper.GetString("cache.db") == "" {
		return fmt.Errorf("seed needs a disk cache: set --cache-db")
	}

	job, err := readBatchJob("seed")
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

	logger.Info("seeding disk cache",
		"bbox", job.bounds.String(),
		"zoom_range", fmt.Sprintf("%d-%d", job.zoomMin, job.zoomMax),
		"tiles", len(job.tasks),
		"workers", job.workers,
		"sources", kinds,
	)

	_, runErr := job.run("seed", "Seeded", &worker.Seeder{
		Fetcher: fetcher,
		Store:   store,
		Force:   viper.GetBool("seed.force"),
		Persist: !usesHTTP(kinds),
	})

	removed, err := store.Purge(context.Background())
	if err != nil {
		logger.Warn("disk cache purge failed", "error", err)
	} else if removed > 0 {
		logger.Warn("disk cache budget exceeded, evicted tiles", "removed", removed)
	}
	return runErr
}
