package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "slippymap",
	Short: "A slippy map engine with tile loading, caching and marker layers",
	Long: `slippymap renders pannable, zoomable web-mercator maps from raster tile
sources (HTTP tile servers, MBTiles files, Mapnik or procedural tiles).

It keeps decoded tiles in a bounded memory cache backed by an optional SQLite
disk cache, composes frames with scaled-up placeholders for missing tiles and
draws interactive marker layers on top.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	flags.String("source", "http", "Comma-separated tile sources in fallback order (http, mbtiles, procedural, debug, mapnik or a registered server such as osm-mapnik)")
	flags.String("tile-url", "https://tile.openstreetmap.org/{z}/{x}/{y}.png", "Tile URL template ({z}/{x}/{y} or #Z#/#X#/#Y#/#TMSY#)")
	flags.String("user-agent", "slippymap/1.0", "User-Agent sent to tile servers")
	flags.String("mbtiles", "", "MBTiles file for the mbtiles source")
	flags.String("mapnik-style", "", "Mapnik XML style for the mapnik source")
	flags.Int64("seed", 1337, "Seed for the procedural source")
	flags.Int("tile-size", 256, "Tile size in pixels")

	flags.String("cache-db", "", "SQLite disk cache path (empty disables the disk cache)")
	flags.Int64("cache-limit", 100_000_000, "Disk cache budget in bytes")
	flags.Int("memory-tiles", 256, "Maximum decoded tiles kept in memory")
	flags.Int("fetch-workers", 2, "Maximum concurrent tile fetches")
	flags.Int("fetch-attempts", 4, "Attempts per tile for network failures")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"verbose", "verbose"},
		{"log-level", "log-level"},
		{"source", "source"},
		{"tile_url", "tile-url"},
		{"user_agent", "user-agent"},
		{"mbtiles", "mbtiles"},
		{"mapnik_style", "mapnik-style"},
		{"procedural.seed", "seed"},
		{"tile_size", "tile-size"},
		{"cache.db", "cache-db"},
		{"cache.limit", "cache-limit"},
		{"cache.memory_tiles", "memory-tiles"},
		{"fetch.workers", "fetch-workers"},
		{"fetch.attempts", "fetch-attempts"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, flags.Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("SLIPPYMAP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
