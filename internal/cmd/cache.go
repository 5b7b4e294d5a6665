package cmd

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and trim the disk cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show disk cache usage",
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Evict the least popular tiles until the cache fits its budget",
	RunE:  runCachePurge,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cachePurgeCmd)
}

func openFileCache() (*cache.FileCache, error) {
	path := viper.GetString("cache.db")
	if path == "" {
		return nil, fmt.Errorf("no disk cache configured: set --cache-db")
	}
	return cache.OpenFileCache(path, cacheNamespace(sourceKinds()), viper.GetInt64("cache.limit"))
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	fc, err := openFileCache()
	if err != nil {
		return err
	}
	defer fc.Close()

	ctx := context.Background()
	size, err := fc.Size(ctx)
	if err != nil {
		return err
	}
	count, err := fc.Count(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:   %s\n", viper.GetString("cache.db"))
	fmt.Fprintf(out, "source: %s\n", cacheNamespace(sourceKinds()))
	fmt.Fprintf(out, "tiles:  %d\n", count)
	fmt.Fprintf(out, "size:   %s of %s\n", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(viper.GetInt64("cache.limit"))))
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	fc, err := openFileCache()
	if err != nil {
		return err
	}
	defer fc.Close()

	removed, err := fc.Purge(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d tiles\n", removed)
	return nil
}
