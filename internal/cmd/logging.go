package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

var logger *slog.Logger

// initLogging installs a text logger on stderr as the process default.
func initLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(viper.GetString("log-level")))); err != nil {
		level = slog.LevelInfo
	}
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
