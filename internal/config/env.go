package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by LoadSettings and ApplyEnv
const (
	EnvDataDir       = "MARKFIT_DATA_DIR"
	EnvLogLevel      = "MARKFIT_LOG_LEVEL"
	EnvSeed          = "MARKFIT_SEED"
	EnvMaxIterations = "MARKFIT_MAX_ITERATIONS"
)

// Settings are process-wide options that do not belong to a single run
type Settings struct {
	DataDir  string
	LogLevel string
}

// LoadSettings loads envFile (if present) into the environment and reads
// the process settings. Variables already set win over the file.
func LoadSettings(envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	return Settings{
		DataDir:  firstNonEmpty(strings.TrimSpace(os.Getenv(EnvDataDir)), "./data"),
		LogLevel: strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv(EnvLogLevel)), "info")),
	}, nil
}

// ApplyEnv overrides run fields from the environment
func ApplyEnv(run *Run) error {
	if raw := strings.TrimSpace(os.Getenv(EnvSeed)); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return invalid(EnvSeed, "not an integer: %q", raw)
		}
		run.Seed = seed
		run.WallClockSeed = false
	}
	if raw := strings.TrimSpace(os.Getenv(EnvMaxIterations)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return invalid(EnvMaxIterations, "not a non-negative integer: %q", raw)
		}
		run.Iterations = n
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
