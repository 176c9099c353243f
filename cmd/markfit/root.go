package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/markfit/internal/config"
)

var (
	logLevel  string
	logFormat string
	envFile   string
	dataDir   string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "markfit",
	Short: "Find round objects in images with a marked point process",
	Long: `markfit segments round objects in an image by annealing a set of
circles: marks are born, killed, moved, split, merged and refined until
the configuration explains the image.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings(envFile)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			logLevel = settings.LogLevel
		}
		if !cmd.Flags().Changed("data-dir") {
			dataDir = settings.DataDir
		}

		logger, err = newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading MARKFIT_* variables")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints, traces and run history")
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// historyPath is where the run history database lives
func historyPath() string {
	return filepath.Join(dataDir, "history.db")
}
